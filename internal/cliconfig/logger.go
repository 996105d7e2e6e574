package cliconfig

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/anyportal/tproxyctl/pkg/log"
)

// Logger returns the console logger used before configuration is loaded.
func Logger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// NewLogger builds the configured logging backend.
func NewLogger(cfg Config) (log.Logger, error) {
	return log.New(cfg.LogBackend, cfg.LogOptions())
}
