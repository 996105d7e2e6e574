package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	ListenAddr      string `toml:"listen_addr"`
	ServerURL       string `toml:"server_url"`
	StateDir        string `toml:"state_dir"`
	PIDFile         string `toml:"pid_file"`
	StartCommand    string `toml:"start_command"`
	StopCommand     string `toml:"stop_command"`
	StatusCommand   string `toml:"status_command"`
	DriverTimeout   string `toml:"driver_timeout"`
	ProbeTimeout    string `toml:"probe_timeout"`
	RefreshInterval string `toml:"refresh_interval"`
	HTTPTimeout     string `toml:"http_timeout"`
	AutoStart       *bool  `toml:"auto_start"`
	LogLevel        string `toml:"log_level"`
	LogFormat       string `toml:"log_format"`
	LogBackend      string `toml:"log_backend"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.tproxyctl/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if dir := DefaultStateDir(); dir != "" {
		return filepath.Join(dir, "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("server", fc.ServerURL, &cfg.ServerURL)
	s.setString("state-dir", fc.StateDir, &cfg.StateDir)
	s.setString("pid-file", fc.PIDFile, &cfg.PIDFile)
	s.setString("start-cmd", fc.StartCommand, &cfg.StartCommand)
	s.setString("stop-cmd", fc.StopCommand, &cfg.StopCommand)
	s.setString("status-cmd", fc.StatusCommand, &cfg.StatusCommand)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)
	s.setString("log-backend", fc.LogBackend, &cfg.LogBackend)

	if err := s.setDuration("driver-timeout", fc.DriverTimeout, &cfg.DriverTimeout); err != nil {
		return err
	}
	if err := s.setDuration("probe-timeout", fc.ProbeTimeout, &cfg.ProbeTimeout); err != nil {
		return err
	}
	if err := s.setDuration("refresh-interval", fc.RefreshInterval, &cfg.RefreshInterval); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	s.setBool("auto-start", fc.AutoStart, &cfg.AutoStart)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
