package domain

// Phase is the controller's belief about the tunnel lifecycle.
type Phase uint8

const (
	PhaseStopped Phase = iota
	PhaseStarting
	PhaseRunning
	PhaseStopping
	PhaseError
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "Stopped"
	case PhaseStarting:
		return "Starting"
	case PhaseRunning:
		return "Running"
	case PhaseStopping:
		return "Stopping"
	case PhaseError:
		return "Error"
	default:
		return "Unknown"
	}
}

// InTransit reports whether a start or stop is in flight.
func (p Phase) InTransit() bool {
	return p == PhaseStarting || p == PhaseStopping
}

// Settled reports whether the phase can be reconciled from a probe reply.
func (p Phase) Settled() bool {
	return p == PhaseStopped || p == PhaseRunning
}

// CanTransitionTo reports whether next is an allowed edge from p.
//
// Valid transitions:
//   - Stopped -> Starting, Running (observed)
//   - Starting -> Running, Error
//   - Running -> Stopping, Error, Stopped (observed)
//   - Stopping -> Stopped, Error
//   - Error -> Stopped
func (p Phase) CanTransitionTo(next Phase) bool {
	switch p {
	case PhaseStopped:
		return next == PhaseStarting || next == PhaseRunning
	case PhaseStarting:
		return next == PhaseRunning || next == PhaseError
	case PhaseRunning:
		return next == PhaseStopping || next == PhaseError || next == PhaseStopped
	case PhaseStopping:
		return next == PhaseStopped || next == PhaseError
	case PhaseError:
		return next == PhaseStopped
	default:
		return false
	}
}
