package logx

import (
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"invalid", InfoLevel},
	}

	for _, test := range tests {
		t.Run(test.level, func(t *testing.T) {
			if got := parseLevel(test.level); got != test.expected {
				t.Errorf("parseLevel(%q) = %v; want %v", test.level, got, test.expected)
			}
		})
	}
}

func TestNewProducesUsableLogger(t *testing.T) {
	l := New("debug")
	if l == nil {
		t.Fatal("expected a non-nil logger")
	}
	// Exercises every level; New's JSON formatter must not panic on any
	// of these calls.
	l.Debug("debug message", "k", 1)
	l.Info("info message", "k", "v")
	l.Warn("warn message")
	l.Error("error message", "err", "boom")
}

func TestWithAttachesFields(t *testing.T) {
	l := New("debug").With("component", "test")
	if l == nil {
		t.Fatal("expected With to return a usable logger")
	}
	l.Info("scoped message")
}
