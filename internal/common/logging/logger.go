// Package logging provides structured logging using zap
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// NewDefaultLogger creates a logger with default configuration using zap
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(DefaultLogConfig())
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// InitGlobalLogger initializes the global logger from LOG_LEVEL and LOG_FILE.
// Output goes to stdout unless LOG_FILE names a file to append to.
func InitGlobalLogger(level, logFile string) error {
	var output io.Writer
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		output = file
	}

	logger, err := NewZapLogger(LogConfig{
		Level:      ParseLevel(level),
		Output:     output,
		TimeFormat: time.RFC3339,
		Prefix:     "claim-enricher",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	SetGlobalLogger(logger)

	logger.Debug("Logger initialized",
		Field{"level", ParseLevel(level).String()},
		Field{"log_file", logFile},
	)
	return nil
}

// MustSync flushes any buffered log entries for zap loggers
// This should be called before application exit
func MustSync() {
	if zapLogger, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = zapLogger.Sync()
	}
}

// WithContext is a convenience function to add context to the global logger
func WithContext(ctx context.Context) Logger {
	return GetGlobalLogger().WithContext(ctx)
}

// WithFields is a convenience function to add fields to the global logger
func WithFields(fields ...Field) Logger {
	return GetGlobalLogger().WithFields(fields...)
}

// Err creates an error field with key "error"
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// NopLogger returns a logger that discards everything; handy in tests
func NopLogger() Logger {
	logger, _ := NewZapLogger(LogConfig{Level: ErrorLevel, Output: io.Discard})
	return logger
}
