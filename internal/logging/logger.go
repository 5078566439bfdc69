// Package logging holds the process-wide zap logger and helpers that keep
// secrets and oversized fields out of log lines.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every entry.
const ServiceName = "ghrunner"

var (
	// Default logger instance
	defaultLogger *zap.Logger
)

// NewConfig builds the logger configuration from LOG_LEVEL (debug, info,
// warn, error; default info) and LOG_FORMAT (json or console; default json).
func NewConfig() zap.Config {
	config := zap.NewProductionConfig()

	level := zapcore.InfoLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if parsed, err := zapcore.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	config.Level = zap.NewAtomicLevelAt(level)

	if os.Getenv("LOG_FORMAT") == "console" {
		config.Encoding = "console"
	}

	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.InitialFields = map[string]interface{}{"service": ServiceName}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.StacktraceKey = "stacktrace"
	return config
}

// InitLogger initializes the default logger
func InitLogger() error {
	logger, err := NewConfig().Build()
	if err != nil {
		return err
	}
	defaultLogger = logger
	zap.ReplaceGlobals(defaultLogger)
	return nil
}

// Logger returns the default logger instance. Before InitLogger it is a
// no-op logger, which keeps package tests quiet.
func Logger() *zap.Logger {
	if defaultLogger == nil {
		return zap.NewNop()
	}
	return defaultLogger
}

// SetLogger replaces the default logger. Tests use it to capture output.
func SetLogger(logger *zap.Logger) {
	defaultLogger = logger
}

// Sync flushes any buffered log entries
func Sync() error {
	if defaultLogger == nil {
		return nil
	}
	// Sync on stdout returns EINVAL on Linux terminals; callers only log it.
	return defaultLogger.Sync()
}
