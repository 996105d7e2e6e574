package domain

import (
	"errors"
	"fmt"
)

// Domain errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrDriver is matched by every DriverError.
	ErrDriver = errors.New("tproxy: driver failure")

	// ErrDriverTimeout is returned when a driver call exceeds its deadline.
	ErrDriverTimeout = errors.New("tproxy: driver timeout")

	// ErrStaleReply marks a probe reply issued against a superseded generation.
	// It never leaves the controller.
	ErrStaleReply = errors.New("tproxy: stale probe reply")

	// ErrUnsupportedRequest is returned for unknown control channel methods.
	ErrUnsupportedRequest = errors.New("tproxy: not implemented")

	// ErrResetRequired is returned when a start is requested in PhaseError.
	ErrResetRequired = errors.New("tproxy: reset required, stop the tunnel first")

	// ErrInvalidTransition is returned when a transition is not an allowed edge.
	ErrInvalidTransition = errors.New("tproxy: invalid transition")

	// ErrShutdownTimeout is returned when queued work does not finish in time.
	ErrShutdownTimeout = errors.New("tproxy: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("tproxy: invalid configuration")
)

// DriverError wraps a failure reported by the tunnel driver.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("tproxy: driver %s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// Is makes every DriverError match ErrDriver.
func (e *DriverError) Is(target error) bool {
	return target == ErrDriver
}
