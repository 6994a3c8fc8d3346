package telemetry

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes structured log lines. A nil *Logger discards everything.
type Logger struct {
	z *zap.Logger
}

// Options selects the encoder and minimum level.
type Options struct {
	Format string // "json" or "console"
	Debug  bool
}

// New builds a zap-backed Logger.
func New(opts Options) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stdout"}
	if opts.Debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// FromZap wraps an existing zap logger.
func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		return nil
	}
	return &Logger{z: z}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// Info writes an info-level log line with the given fields.
func (l *Logger) Info(msg string, fields map[string]any) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Info(msg, toZap(fields)...)
}

// Warn writes a warn-level log line with the given fields.
func (l *Logger) Warn(msg string, fields map[string]any) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Warn(msg, toZap(fields)...)
}

// Error writes an error-level log line with the given fields.
func (l *Logger) Error(msg string, fields map[string]any) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Error(msg, toZap(fields)...)
}

// With returns a child logger that always carries the given fields.
func (l *Logger) With(fields map[string]any) *Logger {
	if l == nil || l.z == nil {
		return l
	}
	return &Logger{z: l.z.With(toZap(fields)...)}
}

// Zap exposes the underlying logger for libraries that want one.
func (l *Logger) Zap() *zap.Logger {
	if l == nil || l.z == nil {
		return zap.NewNop()
	}
	return l.z
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	if l == nil || l.z == nil {
		return
	}
	_ = l.z.Sync()
}

func toZap(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			out = append(out, zap.String(k, v.Error()))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
