// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It wraps phuslu/log behind printf-style package functions so call sites stay terse.
package logger

import (
	"os"
	"strings"

	"github.com/phuslu/log"
)

var (
	// Global logger instance
	defaultLogger *log.Logger
)

// Init initializes the default logger with the specified level and format.
// Format "json" writes one JSON object per line; "text" writes a console layout
// with the calling file and line.
func Init(level string, format string) {
	l := &log.Logger{
		Level:      parseLevel(level),
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Writer:     &log.IOWriter{Writer: os.Stderr},
	}

	if strings.ToLower(format) == "text" {
		l.Caller = 2
		l.Writer = &log.ConsoleWriter{
			Writer:         os.Stderr,
			QuoteString:    true,
			EndWithMessage: true,
		}
	}

	defaultLogger = l
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(level) {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug().Msgf(format, args...)
	}
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info().Msgf(format, args...)
	}
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn().Msgf(format, args...)
	}
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error().Msgf(format, args...)
	}
}

// Fatal logs a message at ErrorLevel and exits
func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error().Str("severity", "fatal").Msgf(format, args...)
	} else {
		log.DefaultLogger.Error().Str("severity", "fatal").Msgf(format, args...)
	}
	os.Exit(1)
}
