package tproxy

import (
	"context"
	"errors"

	"github.com/anyportal/tproxyctl/internal/domain"
	"github.com/anyportal/tproxyctl/internal/ports"
	"github.com/anyportal/tproxyctl/pkg/log"
)

// Phase is a tunnel lifecycle phase.
type Phase = domain.Phase

// Lifecycle phases.
const (
	PhaseStopped  = domain.PhaseStopped
	PhaseStarting = domain.PhaseStarting
	PhaseRunning  = domain.PhaseRunning
	PhaseStopping = domain.PhaseStopping
	PhaseError    = domain.PhaseError
)

// State is a snapshot of the tunnel lifecycle.
type State = domain.TunnelState

// Errors returned by a Service.
var (
	ErrDriver             = domain.ErrDriver
	ErrDriverTimeout      = domain.ErrDriverTimeout
	ErrUnsupportedRequest = domain.ErrUnsupportedRequest
	ErrResetRequired      = domain.ErrResetRequired
	ErrShutdownTimeout    = domain.ErrShutdownTimeout
	ErrInvalidConfig      = domain.ErrInvalidConfig
)

// StateChangeEvent describes an applied transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// EventHandler receives state transitions.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
}

// stateEmitter persists every transition and forwards it to the handler.
type stateEmitter struct {
	recorder ports.StateRecorder
	handler  EventHandler
	logger   log.Logger
}

func (e *stateEmitter) OnStateChange(previous, current domain.TunnelState, reason string) {
	if err := e.recorder.Record(context.Background(), current); err != nil {
		e.logger.Warn("failed to record state", log.Err(err))
	}
	if e.handler != nil {
		e.handler.OnStateChange(StateChangeEvent{Previous: previous, Current: current, Reason: reason})
	}
}

var errAlreadyRunning = errors.New("tproxy: service already running")
