package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anyportal/tproxyctl/internal/domain"
	"github.com/anyportal/tproxyctl/pkg/log"
)

// Defaults for the control channel.
const (
	DefaultListenAddr = "127.0.0.1:7391"
	DefaultServerURL  = "http://127.0.0.1:7391"

	// ClientTimeoutMargin is added to the driver timeout when sizing the
	// client timeout for channel calls.
	ClientTimeoutMargin = 5 * time.Second
)

// Config holds CLI configuration for tproxyctl.
type Config struct {
	ListenAddr string
	ServerURL  string
	StateDir   string
	PIDFile    string

	StartCommand  string
	StopCommand   string
	StatusCommand string

	DriverTimeout   time.Duration
	ProbeTimeout    time.Duration
	RefreshInterval time.Duration
	HTTPTimeout     time.Duration

	AutoStart bool

	LogLevel   string
	LogFormat  string
	LogBackend string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    DefaultListenAddr,
		ServerURL:     DefaultServerURL,
		StateDir:      DefaultStateDir(),
		DriverTimeout: 30 * time.Second,
		ProbeTimeout:  5 * time.Second,
		HTTPTimeout:   10 * time.Second,
		LogLevel:      "info",
		LogFormat:     log.FormatConsole,
		LogBackend:    log.BackendZerolog,
	}
}

// DefaultStateDir returns ~/.tproxyctl, or "" if the home directory is unknown.
func DefaultStateDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".tproxyctl")
	}
	return ""
}

// Validate checks the settings shared by every command and normalizes them.
func (c *Config) Validate() error {
	if c.StateDir == "" {
		return invalid("state-dir is required")
	}

	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}

	if c.DriverTimeout <= 0 {
		return invalid("driver timeout must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return invalid("probe timeout must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return invalid("http timeout must be positive")
	}
	if c.RefreshInterval < 0 {
		return invalid("refresh interval must not be negative")
	}

	switch c.LogFormat {
	case log.FormatConsole, log.FormatJSON:
	default:
		return invalid("unknown log format %q", c.LogFormat)
	}
	switch c.LogBackend {
	case log.BackendZerolog, log.BackendZap:
	default:
		return invalid("unknown log backend %q", c.LogBackend)
	}
	return nil
}

// ValidateDaemon checks the additional settings needed to run the daemon.
func (c *Config) ValidateDaemon() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ListenAddr == "" {
		return invalid("listen address is required")
	}
	if len(c.StartArgv()) == 0 {
		return invalid("start-cmd is required")
	}
	if len(c.StopArgv()) == 0 {
		return invalid("stop-cmd is required")
	}
	if len(c.StatusArgv()) == 0 {
		return invalid("status-cmd is required")
	}
	return nil
}

// StartArgv splits the start command into arguments.
func (c *Config) StartArgv() []string { return strings.Fields(c.StartCommand) }

// StopArgv splits the stop command into arguments.
func (c *Config) StopArgv() []string { return strings.Fields(c.StopCommand) }

// StatusArgv splits the status command into arguments.
func (c *Config) StatusArgv() []string { return strings.Fields(c.StatusCommand) }

// ClientTimeout is the HTTP timeout used for channel calls. startAll and
// stopAll reply only after the driver finishes, so the timeout never drops
// below the driver timeout plus ClientTimeoutMargin.
func (c *Config) ClientTimeout() time.Duration {
	if floor := c.DriverTimeout + ClientTimeoutMargin; c.HTTPTimeout < floor {
		return floor
	}
	return c.HTTPTimeout
}

// LogOptions returns the logger options for this config.
func (c *Config) LogOptions() log.Options {
	return log.Options{Level: c.LogLevel, Format: c.LogFormat}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
