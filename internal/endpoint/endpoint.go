// Package endpoint maps control channel requests onto the lifecycle
// controller. It holds no lifecycle state of its own.
//
// startAll and stopAll return once the driver has answered, which can take
// up to the controller's driver timeout. A failed start or stop is reported
// to the caller rather than only recorded. They return immediately when the
// request is a no-op or is queued behind an opposite call in flight.
// isTProxyRunning never waits. refreshTProxyStatus waits at most the probe
// timeout.
package endpoint

import (
	"context"
	"fmt"

	"github.com/anyportal/tproxyctl/internal/domain"
)

// Method is a supported control channel request.
type Method uint8

const (
	MethodStartAll Method = iota + 1
	MethodStopAll
	MethodIsRunning
	MethodRefreshStatus
)

var methodNames = map[Method]string{
	MethodStartAll:      "startAll",
	MethodStopAll:       "stopAll",
	MethodIsRunning:     "isTProxyRunning",
	MethodRefreshStatus: "refreshTProxyStatus",
}

// String returns the wire name of the method.
func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "unknown"
}

// Methods returns all supported methods in wire order.
func Methods() []Method {
	return []Method{MethodStartAll, MethodStopAll, MethodIsRunning, MethodRefreshStatus}
}

// ParseMethod resolves a wire name. Unknown names return ErrUnsupportedRequest.
func ParseMethod(name string) (Method, error) {
	for m, n := range methodNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", domain.ErrUnsupportedRequest, name)
}

// Controller is the subset of the lifecycle controller the endpoint drives.
type Controller interface {
	RequestStart(ctx context.Context) error
	RequestStop(ctx context.Context) error
	QueryRunning() bool
	RefreshStatus(ctx context.Context) (bool, error)
}

// Reply is the result of a handled request. Result is nil for
// acknowledgements and a bool for status queries.
type Reply struct {
	Result *bool
}

// Ack reports whether the reply carries no payload.
func (r Reply) Ack() bool {
	return r.Result == nil
}

// Endpoint translates requests into controller calls.
type Endpoint struct {
	controller Controller
}

// New creates an endpoint over the controller.
func New(controller Controller) *Endpoint {
	return &Endpoint{controller: controller}
}

// Handle parses name and dispatches it.
func (e *Endpoint) Handle(ctx context.Context, name string) (Reply, error) {
	m, err := ParseMethod(name)
	if err != nil {
		return Reply{}, err
	}
	return e.Dispatch(ctx, m)
}

// Dispatch runs a parsed method.
func (e *Endpoint) Dispatch(ctx context.Context, m Method) (Reply, error) {
	switch m {
	case MethodStartAll:
		return Reply{}, e.controller.RequestStart(ctx)
	case MethodStopAll:
		return Reply{}, e.controller.RequestStop(ctx)
	case MethodIsRunning:
		running := e.controller.QueryRunning()
		return Reply{Result: &running}, nil
	case MethodRefreshStatus:
		running, err := e.controller.RefreshStatus(ctx)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Result: &running}, nil
	default:
		return Reply{}, fmt.Errorf("%w: %v", domain.ErrUnsupportedRequest, m)
	}
}
