package internal

import (
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// Global logger instance
	globalLogger *SecureLogger
	loggerMutex  sync.RWMutex
)

// InitLogger initializes the global logger with the given configuration.
// The returned closer releases the log file, if one was opened.
func InitLogger(config LogConfig) (io.Closer, error) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	level := parseLogLevel(config.Level)
	if config.Debug {
		level = zerolog.DebugLevel
	}

	if config.File == "" {
		globalLogger = NewSecureLogger(os.Stderr, level, config.Debug, true)
		return nopCloser{}, nil
	}

	file, err := os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, NewValidationErrorWithValue("log.file", "failed to open log file", config.File).
			WithSuggestion("Check file permissions and path validity")
	}
	globalLogger = NewSecureLogger(file, level, config.Debug, false)
	return file, nil
}

// GetLogger returns the global logger instance
func GetLogger() *SecureLogger {
	loggerMutex.RLock()
	logger := globalLogger
	loggerMutex.RUnlock()
	if logger != nil {
		return logger
	}

	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	if globalLogger == nil {
		globalLogger = NewDefaultLogger(false)
	}
	return globalLogger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// WithComponent returns a child of the global logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return GetLogger().Component(component)
}

// parseLogLevel converts string log level to a zerolog level
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning", "":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.WarnLevel
	}
}

// Convenience functions for global logging

// LogWarn logs a warning message using the global logger
func LogWarn(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// LogInfo logs an info message using the global logger
func LogInfo(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// LogDebug logs a debug message using the global logger
func LogDebug(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// LogNicoError records the full detail of an error at debug level. The
// one-line form shown to the user is printed by the caller.
func LogNicoError(err error) {
	logger := GetLogger().Zerolog()

	var ne *NicoError
	if !errors.As(err, &ne) {
		logger.Debug().Err(err).Msg("unclassified error")
		return
	}
	logger.Debug().
		Str("type", ne.Type.String()).
		Str("severity", ne.Severity.String()).
		Msg(ne.DetailedError())
}
