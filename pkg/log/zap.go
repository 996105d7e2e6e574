package log

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var zapEncoderConfig = zapcore.EncoderConfig{
	MessageKey:   "message",
	NameKey:      "name",
	LevelKey:     "level",
	EncodeLevel:  zapcore.LowercaseLevelEncoder,
	CallerKey:    "caller",
	EncodeCaller: zapcore.ShortCallerEncoder,
	TimeKey:      "time",
	EncodeTime:   zapcore.ISO8601TimeEncoder,
	LineEnding:   zapcore.DefaultLineEnding,
}

// ZapAdapter implements Logger using zap.
type ZapAdapter struct {
	logger *zap.Logger
}

// NewZapAdapter creates a zap-backed adapter writing to stderr.
func NewZapAdapter(opts Options) (*ZapAdapter, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}

	encoder := zapcore.NewJSONEncoder(zapEncoderConfig)
	if opts.Format == FormatConsole {
		encoder = zapcore.NewConsoleEncoder(zapEncoderConfig)
	}

	zl := zap.New(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return &ZapAdapter{logger: zl}, nil
}

// NewZapAdapterWithLogger wraps an existing zap.Logger.
func NewZapAdapterWithLogger(logger *zap.Logger) *ZapAdapter {
	return &ZapAdapter{logger: logger}
}

func (z *ZapAdapter) Debug(msg string, fields ...Field) { z.logger.Debug(msg, zapFields(fields)...) }
func (z *ZapAdapter) Info(msg string, fields ...Field)  { z.logger.Info(msg, zapFields(fields)...) }
func (z *ZapAdapter) Warn(msg string, fields ...Field)  { z.logger.Warn(msg, zapFields(fields)...) }
func (z *ZapAdapter) Error(msg string, fields ...Field) { z.logger.Error(msg, zapFields(fields)...) }

// Sync flushes buffered entries.
func (z *ZapAdapter) Sync() error {
	return z.logger.Sync()
}

func zapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			out = append(out, zap.String(f.Key, v))
		case int:
			out = append(out, zap.Int(f.Key, v))
		case uint64:
			out = append(out, zap.Uint64(f.Key, v))
		case bool:
			out = append(out, zap.Bool(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}
	return out
}
