package tproxy

import (
	"fmt"
	"time"

	"github.com/anyportal/tproxyctl/internal/app"
	"github.com/anyportal/tproxyctl/internal/domain"
)

// Config holds the settings of a Service.
type Config struct {
	// StateDir receives status.json after every transition. Required.
	StateDir string

	// StartCommand, StopCommand and StatusCommand drive the tunnel when no
	// custom driver is given. The status command exits 0 while running.
	StartCommand  []string
	StopCommand   []string
	StatusCommand []string

	// PIDFile, if set, is watched and triggers a status refresh on change.
	PIDFile string
	// PIDDebounce is the quiet period before a pid file refresh.
	// Default: 250 milliseconds
	PIDDebounce time.Duration

	// DriverTimeout bounds a start or stop. Default: 30 seconds
	DriverTimeout time.Duration
	// ProbeTimeout bounds a status probe. Default: 5 seconds
	ProbeTimeout time.Duration
	// RefreshInterval enables periodic reconciliation when positive.
	RefreshInterval time.Duration
}

// SetDefaults fills zero values with defaults.
func (c *Config) SetDefaults() {
	if c.DriverTimeout <= 0 {
		c.DriverTimeout = app.DefaultDriverTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = app.DefaultProbeTimeout
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("%w: state dir is required", domain.ErrInvalidConfig)
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("%w: refresh interval must not be negative", domain.ErrInvalidConfig)
	}
	return nil
}
