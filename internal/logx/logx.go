// Package logx is the small leveled logger used across chainfetch, with
// adapters for zap (default) and logrus.
package logx

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields is a minimal structured field map for logs.
type Fields map[string]any

// Logger is a tiny leveled logger.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

type Nop struct{}

func (Nop) Debug(string, Fields) {}
func (Nop) Info(string, Fields)  {}
func (Nop) Warn(string, Fields)  {}
func (Nop) Error(string, Fields) {}

// OrNop returns l, or Nop when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop{}
	}
	return l
}

type Zap struct{ L *zap.Logger }

func (z Zap) Debug(msg string, f Fields) { z.L.Debug(msg, zf(f)...) }
func (z Zap) Info(msg string, f Fields)  { z.L.Info(msg, zf(f)...) }
func (z Zap) Warn(msg string, f Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Zap) Error(msg string, f Fields) { z.L.Error(msg, zf(f)...) }

func zf(f Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}

type Logrus struct{ E *logrus.Entry }

func (l Logrus) Debug(msg string, f Fields) { l.E.WithFields(logrus.Fields(f)).Debug(msg) }
func (l Logrus) Info(msg string, f Fields)  { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l Logrus) Warn(msg string, f Fields)  { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l Logrus) Error(msg string, f Fields) { l.E.WithFields(logrus.Fields(f)).Error(msg) }

// New builds a JSON logger on the named backend ("zap" or "logrus") at level
// ("debug", "info", "warn", "error"). The returned func flushes buffered output.
func New(backend, level string) (Logger, func(), error) {
	switch strings.ToLower(backend) {
	case "", "zap":
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(orDefault(level, "info"))); err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		l, err := cfg.Build()
		if err != nil {
			return nil, nil, fmt.Errorf("build zap logger: %w", err)
		}
		return Zap{L: l}, func() { _ = l.Sync() }, nil
	case "logrus":
		lvl, err := logrus.ParseLevel(orDefault(level, "info"))
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		l := logrus.New()
		l.SetLevel(lvl)
		l.SetFormatter(&logrus.JSONFormatter{})
		return Logrus{E: logrus.NewEntry(l)}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown log backend %q", backend)
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
