package cliconfig

import "os"

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "TPROXYCTL_"

// ApplyEnvConfig applies TPROXYCTL_* environment variables to the Config.
// Values override the config file but not flags set on the command line.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", env("LISTEN_ADDR"), &cfg.ListenAddr)
	s.setString("server", env("SERVER_URL"), &cfg.ServerURL)
	s.setString("state-dir", env("STATE_DIR"), &cfg.StateDir)
	s.setString("pid-file", env("PID_FILE"), &cfg.PIDFile)
	s.setString("start-cmd", env("START_COMMAND"), &cfg.StartCommand)
	s.setString("stop-cmd", env("STOP_COMMAND"), &cfg.StopCommand)
	s.setString("status-cmd", env("STATUS_COMMAND"), &cfg.StatusCommand)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", env("LOG_FORMAT"), &cfg.LogFormat)
	s.setString("log-backend", env("LOG_BACKEND"), &cfg.LogBackend)

	if err := s.setDuration("driver-timeout", env("DRIVER_TIMEOUT"), &cfg.DriverTimeout); err != nil {
		return err
	}
	if err := s.setDuration("probe-timeout", env("PROBE_TIMEOUT"), &cfg.ProbeTimeout); err != nil {
		return err
	}
	if err := s.setDuration("refresh-interval", env("REFRESH_INTERVAL"), &cfg.RefreshInterval); err != nil {
		return err
	}
	if err := s.setDuration("timeout", env("HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}

	s.setBoolFromString("auto-start", env("AUTO_START"), &cfg.AutoStart)

	return nil
}

func env(key string) string {
	return os.Getenv(EnvPrefix + key)
}
