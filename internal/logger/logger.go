// Package logger wraps logrus into the dual file+console sink shape the
// rest of flowd expects.
package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger handles application logging to an optional file sink and an
// optional console sink, each with independent level/format.
type Logger struct {
	fileLogger     *logrus.Logger
	consoleLogger  *logrus.Logger
	fileEnabled    bool
	consoleEnabled bool
}

// Config contains logger configuration for both sinks.
type Config struct {
	Level  string
	Format string

	FileEnabled bool
	FilePath    string

	ConsoleOutput bool
	ConsoleLevel  string
	ConsoleFormat string
}

func parseLevel(name, fallback string) logrus.Level {
	if name == "" {
		name = fallback
	}
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func newFormatter(format string, forceColors bool) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     forceColors,
	}
}

// NewLogger creates a new application logger with the configured sinks.
// If neither sink is enabled, it falls back to a console sink at info
// level so the daemon is never silently mute.
func NewLogger(cfg *Config) (*Logger, error) {
	l := &Logger{}

	if cfg.FileEnabled {
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("logger: file output enabled but no path configured")
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("logger: open log file %s: %w", cfg.FilePath, err)
		}
		fileLog := logrus.New()
		fileLog.SetLevel(parseLevel(cfg.Level, "info"))
		fileLog.SetFormatter(newFormatter(cfg.Format, false))
		fileLog.SetOutput(f)
		l.fileLogger = fileLog
		l.fileEnabled = true
	}

	if cfg.ConsoleOutput {
		consoleLog := logrus.New()
		consoleLog.SetLevel(parseLevel(cfg.ConsoleLevel, cfg.Level))
		consoleLog.SetFormatter(newFormatter(cfg.ConsoleFormat, true))
		consoleLog.SetOutput(os.Stdout)
		l.consoleLogger = consoleLog
		l.consoleEnabled = true
	}

	if !l.fileEnabled && !l.consoleEnabled {
		consoleLog := logrus.New()
		consoleLog.SetLevel(logrus.InfoLevel)
		consoleLog.SetFormatter(newFormatter("", true))
		consoleLog.SetOutput(os.Stdout)
		l.consoleLogger = consoleLog
		l.consoleEnabled = true
	}

	return l, nil
}

func (l *Logger) dispatch(level logrus.Level, msg string, fields ...interface{}) {
	logFields := l.parseFields(fields...)

	if l.fileEnabled {
		l.fileLogger.WithFields(logFields).Log(level, msg)
	}
	if l.consoleEnabled {
		l.consoleLogger.WithFields(logFields).Log(level, msg)
	}
}

// Info logs an info message to every enabled sink.
func (l *Logger) Info(msg string, fields ...interface{}) { l.dispatch(logrus.InfoLevel, msg, fields...) }

// Warn logs a warning message to every enabled sink.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.dispatch(logrus.WarnLevel, msg, fields...) }

// Error logs an error message to every enabled sink.
func (l *Logger) Error(msg string, fields ...interface{}) {
	l.dispatch(logrus.ErrorLevel, msg, fields...)
}

// Debug logs a debug message to every enabled sink.
func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.dispatch(logrus.DebugLevel, msg, fields...)
}

// Fatal logs an error message to every enabled sink, then exits(1), for
// spec.md §7's fatal error policy (log header/write/config failures).
func (l *Logger) Fatal(msg string, fields ...interface{}) {
	l.dispatch(logrus.ErrorLevel, msg, fields...)
	os.Exit(1)
}

// parseFields converts alternating key/value variadic arguments to
// logrus.Fields.
func (l *Logger) parseFields(fields ...interface{}) logrus.Fields {
	result := make(logrus.Fields)
	for i := 0; i < len(fields)-1; i += 2 {
		if key, ok := fields[i].(string); ok {
			result[key] = fields[i+1]
		}
	}
	return result
}
