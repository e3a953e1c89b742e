// Package audit logs the session's lifecycle to a rotating JSONL trail:
// start, stop, pause, resume, and config-change events with timestamps,
// for after-the-fact "what happened and when" questions that the
// short-lived pkg/telem history isn't meant to answer.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/starfail/locengine/pkg/logx"
)

// EventType enumerates the session lifecycle transitions this package
// records.
type EventType string

const (
	EventStart        EventType = "start"
	EventStop         EventType = "stop"
	EventPause        EventType = "pause"
	EventResume       EventType = "resume"
	EventConfigChange EventType = "config_change"
)

// Event is one lifecycle transition.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      EventType              `json:"event_type"`
	Reason    string                 `json:"reason,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// Logger appends Events to a rotating set of JSONL files under a log
// directory, in the teacher's day-stamped-filename, size-triggered
// rotation shape.
type Logger struct {
	logDir      string
	logger      *logx.Logger
	maxFileSize int64
	maxFiles    int

	mu          sync.Mutex
	currentFile *os.File
}

// NewLogger creates a Logger, creating logDir if necessary and opening
// today's log file.
func NewLogger(logDir string, logger *logx.Logger) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	l := &Logger{
		logDir:      logDir,
		logger:      logger,
		maxFileSize: 10 * 1024 * 1024, // 10MB per file
		maxFiles:    10,
	}
	if err := l.openLogFile(); err != nil {
		return nil, fmt.Errorf("open audit log file: %w", err)
	}
	return l, nil
}

// Log appends event, rotating the underlying file first if needed.
func (l *Logger) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	data = append(data, '\n')

	if l.needsRotation(int64(len(data))) {
		if err := l.rotateLogFile(); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}

	if _, err := l.currentFile.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return l.currentFile.Sync()
}

// LogStart records the session starting.
func (l *Logger) LogStart(reason string) error {
	return l.Log(Event{Type: EventStart, Reason: reason})
}

// LogStop records the session stopping.
func (l *Logger) LogStop(reason string) error {
	return l.Log(Event{Type: EventStop, Reason: reason})
}

// LogPause records the session pausing, e.g. the Stationary Detector
// suspending updates.
func (l *Logger) LogPause(reason string) error {
	return l.Log(Event{Type: EventPause, Reason: reason})
}

// LogResume records the session resuming.
func (l *Logger) LogResume(reason string) error {
	return l.Log(Event{Type: EventResume, Reason: reason})
}

// LogConfigChange records a client-mutable configuration change (§6):
// desired accuracy, distance filter, or a region add/remove.
func (l *Logger) LogConfigChange(field string, oldValue, newValue interface{}) error {
	return l.Log(Event{
		Type:   EventConfigChange,
		Detail: map[string]interface{}{"field": field, "old": oldValue, "new": newValue},
	})
}

// Close flushes and closes the current log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.currentFile == nil {
		return nil
	}
	return l.currentFile.Close()
}

// ReadRecent reads up to limit events from today's log file, oldest
// first. Rotated (older) files are not consulted — this is a
// diagnostics tail, not a durable query interface.
func (l *Logger) ReadRecent(limit int) ([]Event, error) {
	l.mu.Lock()
	path := l.currentFile.Name()
	l.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	var events []Event
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e Event
		if err := dec.Decode(&e); err != nil {
			break
		}
		events = append(events, e)
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (l *Logger) openLogFile() error {
	filename := fmt.Sprintf("audit-%s.jsonl", time.Now().Format("20060102"))
	path := filepath.Join(l.logDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return err
	}
	l.currentFile = file
	return nil
}

func (l *Logger) needsRotation(additionalBytes int64) bool {
	if l.currentFile == nil {
		return true
	}
	stat, err := l.currentFile.Stat()
	if err != nil {
		return true
	}
	return stat.Size()+additionalBytes > l.maxFileSize
}

func (l *Logger) rotateLogFile() error {
	if l.currentFile != nil {
		l.currentFile.Close()
	}
	l.cleanupOldFiles()
	return l.openLogFile()
}

func (l *Logger) cleanupOldFiles() {
	files, err := filepath.Glob(filepath.Join(l.logDir, "audit-*.jsonl"))
	if err != nil {
		return
	}
	if len(files) > l.maxFiles {
		for i := 0; i < len(files)-l.maxFiles; i++ {
			if err := os.Remove(files[i]); err != nil {
				l.logger.Warn("failed to remove old audit log file", "file", files[i], "error", err)
			}
		}
	}
}
