// Package telem provides a durable, bounded fix-history and event trail
// for diagnostics — not the region set itself, just an observability
// record of what the engine reported and when.
package telem

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starfail/locengine/pkg/geo"
)

// FixRecord is one reported fix, persisted for later inspection.
type FixRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	HorizontalAcc float64   `json:"horizontal_accuracy"`
	Source        string    `json:"source"`
}

// Event is a session lifecycle or region transition worth remembering.
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Config controls retention.
type Config struct {
	Path           string `uci:"path"`
	MaxFixes       int    `uci:"max_fixes"`
	MaxEvents      int    `uci:"max_events"`
	RetentionHours int    `uci:"retention_hours"`
}

// DefaultConfig returns sensible retention defaults. Path defaults to an
// in-memory database, useful for tests and for daemons that don't need
// history to survive a restart.
func DefaultConfig() Config {
	return Config{
		Path:           ":memory:",
		MaxFixes:       10000,
		MaxEvents:      2000,
		RetentionHours: 24,
	}
}

// Store persists fixes and events to SQLite, trimming to the configured
// bounds on every write.
type Store struct {
	db  *sql.DB
	cfg Config
}

// NewStore opens (creating if necessary) the SQLite database at
// cfg.Path and prepares its schema.
func NewStore(cfg Config) (*Store, error) {
	if cfg.MaxFixes <= 0 {
		cfg.MaxFixes = 10000
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 2000
	}
	if cfg.RetentionHours <= 0 {
		cfg.RetentionHours = 24
	}
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY under this store's
	// own mutex-free, sequential-write usage pattern.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, cfg: cfg}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS fixes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			horizontal_acc REAL NOT NULL,
			source TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_fixes_timestamp ON fixes(timestamp);

		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			level TEXT NOT NULL,
			type TEXT NOT NULL,
			message TEXT NOT NULL,
			data TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	`)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddFix persists fix and trims the table to the configured bounds.
func (s *Store) AddFix(fix geo.Fix) error {
	_, err := s.db.Exec(
		`INSERT INTO fixes (timestamp, latitude, longitude, horizontal_acc, source) VALUES (?, ?, ?, ?, ?)`,
		fix.Timestamp.UnixNano(), fix.Coordinate.Latitude, fix.Coordinate.Longitude, fix.HorizontalAcc, fix.Source,
	)
	if err != nil {
		return fmt.Errorf("insert fix: %w", err)
	}
	return s.trim("fixes", s.cfg.MaxFixes)
}

// AddEvent persists event and trims the table to the configured bounds.
func (s *Store) AddEvent(event Event) error {
	var dataJSON []byte
	if event.Data != nil {
		var err error
		dataJSON, err = json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
	}
	_, err := s.db.Exec(
		`INSERT INTO events (timestamp, level, type, message, data) VALUES (?, ?, ?, ?, ?)`,
		event.Timestamp.UnixNano(), event.Level, event.Type, event.Message, string(dataJSON),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return s.trim("events", s.cfg.MaxEvents)
}

func (s *Store) trim(table string, max int) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`DELETE FROM %s WHERE id NOT IN (SELECT id FROM %s ORDER BY id DESC LIMIT ?)`, table, table,
	), max)
	return err
}

// RecentFixes returns up to limit of the most recent fixes, newest last.
func (s *Store) RecentFixes(limit int) ([]FixRecord, error) {
	if limit <= 0 {
		limit = s.cfg.MaxFixes
	}
	rows, err := s.db.Query(
		`SELECT timestamp, latitude, longitude, horizontal_acc, source FROM fixes ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query fixes: %w", err)
	}
	defer rows.Close()

	var out []FixRecord
	for rows.Next() {
		var nanos int64
		var rec FixRecord
		if err := rows.Scan(&nanos, &rec.Latitude, &rec.Longitude, &rec.HorizontalAcc, &rec.Source); err != nil {
			return nil, fmt.Errorf("scan fix row: %w", err)
		}
		rec.Timestamp = time.Unix(0, nanos)
		out = append(out, rec)
	}
	// Reverse to oldest-first, matching the in-memory store's prior contract.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// RecentEvents returns up to limit of the most recent events, newest last.
func (s *Store) RecentEvents(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = s.cfg.MaxEvents
	}
	rows, err := s.db.Query(
		`SELECT timestamp, level, type, message, data FROM events ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var nanos int64
		var dataJSON sql.NullString
		var event Event
		if err := rows.Scan(&nanos, &event.Level, &event.Type, &event.Message, &dataJSON); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		event.Timestamp = time.Unix(0, nanos)
		if dataJSON.Valid && dataJSON.String != "" {
			if err := json.Unmarshal([]byte(dataJSON.String), &event.Data); err != nil {
				return nil, fmt.Errorf("unmarshal event data: %w", err)
			}
		}
		out = append(out, event)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// Cleanup deletes fixes and events older than the configured retention
// window, independent of the count-based trim applied on every write.
func (s *Store) Cleanup() error {
	cutoff := time.Now().Add(-time.Duration(s.cfg.RetentionHours) * time.Hour).UnixNano()
	if _, err := s.db.Exec(`DELETE FROM fixes WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("cleanup fixes: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM events WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("cleanup events: %w", err)
	}
	return nil
}

// Stats reports row counts for the health/status surface.
func (s *Store) Stats() (fixCount, eventCount int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM fixes`).Scan(&fixCount); err != nil {
		return 0, 0, fmt.Errorf("count fixes: %w", err)
	}
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&eventCount); err != nil {
		return 0, 0, fmt.Errorf("count events: %w", err)
	}
	return fixCount, eventCount, nil
}
