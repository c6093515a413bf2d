package observability

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/solarshop/api/internal/platform/requestctx"
)

// NewLogger builds a JSON zap logger whose keys match Cloud Logging's structured format.
// An unknown level falls back to info.
func NewLogger(level string) (*zap.Logger, error) {
	atomic := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if trimmed := strings.TrimSpace(level); trimmed != "" {
		if err := atomic.UnmarshalText([]byte(strings.ToLower(trimmed))); err != nil {
			atomic.SetLevel(zapcore.InfoLevel)
		}
	}

	cfg := zap.Config{
		Level:    atomic,
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:    "message",
			TimeKey:       "timestamp",
			LevelKey:      "severity",
			CallerKey:     "caller",
			StacktraceKey: "stacktrace",
			EncodeTime:    zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel:   zapcore.CapitalLevelEncoder,
			EncodeCaller:  zapcore.ShortCallerEncoder,
		},
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}
	return cfg.Build()
}

// EventLogger is the structured event sink used by the service layer.
type EventLogger func(ctx context.Context, event string, fields map[string]any)

// NewEventLogger adapts zap to EventLogger. The request logger on ctx wins over base so
// events carry request and trace ids. Events ending in ".failed" or carrying an "error"
// field log at WARN; a "severity" field of "error" logs at ERROR.
func NewEventLogger(base *zap.Logger) EventLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if requestctx.IsNop(logger) {
			logger = base
		}

		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		level := zapcore.InfoLevel
		zapFields := make([]zap.Field, 0, len(keys)+1)
		zapFields = append(zapFields, zap.String("event", event))
		for _, k := range keys {
			v := fields[k]
			switch k {
			case "severity":
				if s, ok := v.(string); ok && strings.EqualFold(s, "error") {
					level = zapcore.ErrorLevel
				}
				continue
			case "error":
				if level < zapcore.WarnLevel {
					level = zapcore.WarnLevel
				}
				if err, ok := v.(error); ok {
					zapFields = append(zapFields, zap.NamedError("error", err))
					continue
				}
			}
			zapFields = append(zapFields, zap.Any(k, v))
		}
		if strings.HasSuffix(event, ".failed") && level < zapcore.WarnLevel {
			level = zapcore.WarnLevel
		}

		if ce := logger.Check(level, event); ce != nil {
			ce.Write(zapFields...)
		}
	}
}

// PrintfAdapter exposes zap through the Printf interface some client libraries expect.
type PrintfAdapter struct {
	logger *zap.Logger
	level  zapcore.Level
}

// NewPrintfAdapter wraps logger at the given level.
func NewPrintfAdapter(logger *zap.Logger, level zapcore.Level) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger, level: level}
}

// Printf logs the formatted message.
func (a PrintfAdapter) Printf(format string, args ...any) {
	if ce := a.logger.Check(a.level, fmt.Sprintf(format, args...)); ce != nil {
		ce.Write()
	}
}
