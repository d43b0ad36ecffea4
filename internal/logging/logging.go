// Package logging builds the zap loggers used by the query cache and its
// command.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// New returns a logger writing to stdout at level ("debug", "info", "warn",
// "error") in format ("json" or "console").
func New(level, format string) (*zap.Logger, error) {
	return NewWithWriter(level, format, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(level, format string, w io.Writer) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("logging: invalid level %q: %w", level, err)
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var enc zapcore.Encoder
	switch strings.ToLower(format) {
	case "", "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("logging: invalid format %q", format)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), lvl)
	return zap.New(core, zap.AddCaller()), nil
}

// Throttled emits warnings through a token bucket so a flapping dependency
// cannot flood the log. Dropped messages are counted and reported on the
// next emitted entry.
type Throttled struct {
	log        *zap.Logger
	lim        *rate.Limiter
	suppressed atomic.Uint64
}

// NewThrottled allows perSecond warnings on average with the given burst.
func NewThrottled(log *zap.Logger, perSecond float64, burst int) *Throttled {
	return &Throttled{log: log, lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Warn logs msg unless the bucket is empty. It reports whether the entry
// was written.
func (t *Throttled) Warn(msg string, fields ...zap.Field) bool {
	if !t.lim.Allow() {
		t.suppressed.Inc()
		return false
	}
	if n := t.suppressed.Swap(0); n > 0 {
		fields = append(fields, zap.Uint64("suppressed", n))
	}
	t.log.Warn(msg, fields...)
	return true
}

// Suppressed returns the number of warnings dropped since the last one
// that was written.
func (t *Throttled) Suppressed() uint64 { return t.suppressed.Load() }
