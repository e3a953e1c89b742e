// Package logx provides structured logging for the location engine and
// its host daemon, wrapping github.com/sirupsen/logrus behind the small
// Debug/Info/Warn/Error(msg, kv...) shape used throughout this
// repository (registry, session, providers all take a logx.Logger or an
// equivalent minimal interface).
package logx

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel mirrors logrus.Level under this package's own names, so
// callers configuring a level from UCI/config text don't need to import
// logrus directly.
type LogLevel = logrus.Level

const (
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
)

// Logger is a structured JSON logger. The zero value is not usable; use
// New.
type Logger struct {
	entry *logrus.Entry
}

// New creates a Logger at the given level ("debug", "info", "warn",
// "error"; unrecognized values default to info), emitting JSON lines.
func New(levelStr string) *Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	base.SetLevel(parseLevel(levelStr))
	return &Logger{entry: logrus.NewEntry(base)}
}

// NewWithSyslog is New plus a syslog hook, matching the daemon's prior
// practice of duplicating logs to the system log on Unix hosts.
func NewWithSyslog(levelStr, tag string) *Logger {
	l := New(levelStr)
	if hook, err := newSyslogHook(tag); err == nil {
		l.entry.Logger.AddHook(hook)
	}
	return l
}

func parseLevel(levelStr string) LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// fields converts a flat key/value varargs list into logrus.Fields,
// tolerating an odd trailing key by dropping it.
func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		f[key] = keysAndValues[i+1]
	}
	return f
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Info(msg)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Warn(msg)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Error(msg)
}

// With returns a Logger that attaches the given key/value pairs to every
// subsequent entry, matching logrus's contextual-logger idiom.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(fields(keysAndValues))}
}
