package log

import (
	"fmt"
	"strings"
	"time"
)

// Logger provides structured logging capabilities.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Uint64 creates a uint64 field.
func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field with key "error".
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Any creates a field with any value.
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Backend names accepted by New.
const (
	BackendZerolog = "zerolog"
	BackendZap     = "zap"
)

// Output formats accepted in Options.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures a logging backend.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is "console" or "json". Empty means console.
	Format string
}

// New builds a Logger for the named backend.
func New(backend string, opts Options) (Logger, error) {
	switch strings.ToLower(backend) {
	case "", BackendZerolog:
		return NewZerologAdapter(opts), nil
	case BackendZap:
		return NewZapAdapter(opts)
	default:
		return nil, fmt.Errorf("unknown log backend %q", backend)
	}
}
