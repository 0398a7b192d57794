package zapadapter

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Adapter struct {
	logger *zap.SugaredLogger
}

func New(logger *zap.Logger) *Adapter {
	return &Adapter{logger: logger.Sugar()}
}

// NewConfigLogger builds a logger writing to stderr. Format is "json" or "console".
func NewConfigLogger(level, format string) (*Adapter, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console", "text":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return New(logger), nil
}

func (a *Adapter) Info(msg string, keysAndValues ...any) {
	a.logger.Infow(msg, keysAndValues...)
}

func (a *Adapter) Error(msg string, keysAndValues ...any) {
	a.logger.Errorw(msg, keysAndValues...)
}

func (a *Adapter) Debug(msg string, keysAndValues ...any) {
	a.logger.Debugw(msg, keysAndValues...)
}

func (a *Adapter) Warn(msg string, keysAndValues ...any) {
	a.logger.Warnw(msg, keysAndValues...)
}

// Sync flushes buffered entries.
func (a *Adapter) Sync() error {
	return a.logger.Sync()
}
