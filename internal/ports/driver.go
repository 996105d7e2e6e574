package ports

import "context"

// Driver is the platform facility that actually runs the tunnel.
// Implementations talk to an external process whose state changes
// asynchronously; the controller never assumes a call has taken effect
// until it returns.
type Driver interface {
	// Start asks the external tunnel to start and returns once the
	// facility has accepted or rejected the request.
	Start(ctx context.Context) error

	// Stop asks the external tunnel to stop.
	Stop(ctx context.Context) error

	// Probe asks whether the tunnel is running. reply must be invoked
	// exactly once, possibly on another goroutine and at any later time.
	Probe(ctx context.Context, reply func(running bool, err error))
}
