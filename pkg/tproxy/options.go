package tproxy

import (
	"github.com/anyportal/tproxyctl/internal/ports"
	"github.com/anyportal/tproxyctl/pkg/log"
)

// Driver performs the actual tunnel operations.
type Driver = ports.Driver

// Option configures optional behavior of a Service.
type Option func(*options)

type options struct {
	logger       log.Logger
	driver       Driver
	eventHandler EventHandler
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDriver replaces the command driver.
func WithDriver(driver Driver) Option {
	return func(o *options) {
		o.driver = driver
	}
}

// WithEventHandler sets a handler for state transitions.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}
