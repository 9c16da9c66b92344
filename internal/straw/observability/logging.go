// Package observability wires structured logging, Prometheus metrics and
// OpenTelemetry the way the teacher's internal/observability package does
// (spec.md SPEC_FULL §7), adapted to the engine's own domain.
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production JSON logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// NewDevelopmentLogger builds a colorized console logger for local runs.
func NewDevelopmentLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, _ := cfg.Build()
	return logger
}

// FromEnv selects between the development and production logger based on
// STRAW_ENV, mirroring the teacher's GetLoggerFromEnv.
func FromEnv(logLevel string) *zap.Logger {
	if os.Getenv("STRAW_ENV") == "development" {
		return NewDevelopmentLogger()
	}
	logger, err := NewLogger(logLevel)
	if err != nil {
		return NewDevelopmentLogger()
	}
	return logger
}
