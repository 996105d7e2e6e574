// Package log provides the logging facade used across tproxyctl.
//
// Components depend only on the Logger interface. Two backends are
// provided, zerolog (the default) and zap, plus a no-op logger for
// library embedding and tests.
//
// # Usage
//
//	logger := log.NewZerologAdapter(log.Options{Level: "debug"})
//	logger.Info("tunnel started", log.Uint64("generation", 3))
//
// Select the backend by name when it comes from configuration:
//
//	logger, err := log.New("zap", log.Options{Level: "info", Format: "json"})
package log
