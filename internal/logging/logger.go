package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production JSON logger at the given level (debug, info, warn, error)
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "time"

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// MustNew is New for binary entry points, falling back to a development
// logger if the configured level is unusable.
func MustNew(level string) *zap.Logger {
	logger, err := New(level)
	if err != nil {
		fallback, _ := zap.NewDevelopment()
		fallback.Warn("Falling back to development logger", zap.Error(err))
		return fallback
	}
	return logger
}
