package domain

import "time"

// TunnelState is a point-in-time view of the tunnel lifecycle.
type TunnelState struct {
	Phase Phase

	// LastError is set when the phase is PhaseError.
	LastError error

	// Generation increments on every applied transition. Probe replies
	// issued against an older generation are discarded.
	Generation uint64

	UpdatedAt time.Time
}

// Running reports whether the tunnel is believed to be running.
func (s TunnelState) Running() bool {
	return s.Phase == PhaseRunning
}

// ErrorString returns LastError as a string, or "" when unset.
func (s TunnelState) ErrorString() string {
	if s.LastError == nil {
		return ""
	}
	return s.LastError.Error()
}
