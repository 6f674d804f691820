package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lokutor-ai/lokutor-realtime/pkg/realtime"
)

// New builds a zap logger. format is "json" or "console"; level is any
// level zap understands ("debug", "info", "warn", "error").
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true

	return cfg.Build()
}

// Adapter exposes a zap logger through realtime.Logger. Key-value pairs are
// passed straight to the sugared *w methods.
type Adapter struct {
	sugar *zap.SugaredLogger
}

var _ realtime.Logger = (*Adapter)(nil)

func NewAdapter(l *zap.Logger) *Adapter {
	if l == nil {
		l = zap.NewNop()
	}
	return &Adapter{sugar: l.Sugar()}
}

func (a *Adapter) Debug(msg string, args ...interface{}) { a.sugar.Debugw(msg, args...) }
func (a *Adapter) Info(msg string, args ...interface{})  { a.sugar.Infow(msg, args...) }
func (a *Adapter) Warn(msg string, args ...interface{})  { a.sugar.Warnw(msg, args...) }
func (a *Adapter) Error(msg string, args ...interface{}) { a.sugar.Errorw(msg, args...) }

// Sync flushes buffered entries.
func (a *Adapter) Sync() error {
	return a.sugar.Sync()
}
