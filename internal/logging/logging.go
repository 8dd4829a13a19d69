// Package logging builds the structured zap logger every swimring
// component logs through. Components take a *zap.Logger in their
// constructor rather than sharing a package-global logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-style JSON logger tagged with the app name
// and this node's address, at the given level ("debug", "info",
// "warn", "error"; anything else falls back to "info").
func New(app, hostPort, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("app", app), zap.String("node", hostPort)), nil
}

// NewDevelopment builds a human-readable console logger, used by
// cmd/swimring-agent's --dev flag.
func NewDevelopment(app, hostPort string) (*zap.Logger, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("app", app), zap.String("node", hostPort)), nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
