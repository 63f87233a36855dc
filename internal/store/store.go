// Package store keeps local run history and the last good selector table in
// SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Session is one removal run.
type Session struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      sql.NullTime
	Outcome         string
	Found           int
	Processed       int
	Removed         int
	Error           string
	SelectorVersion string
}

// Finished reports whether FinishSession was called for the session.
func (s Session) Finished() bool {
	return s.FinishedAt.Valid
}

// SessionResult holds the figures written when a session ends.
type SessionResult struct {
	Outcome   string
	Found     int
	Processed int
	Removed   int
	Error     string
}

// Event is one outbound message recorded against a session.
type Event struct {
	ID            int64
	SessionID     string
	Action        string
	Payload       json.RawMessage
	CorrelationID string
	CreatedAt     time.Time
}

// Store handles all database operations
type Store struct {
	db *sql.DB
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one writer; the sink and the registry share the handle
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		outcome TEXT NOT NULL DEFAULT '',
		found INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		removed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		selector_version TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		correlation_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS selector_cache (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload BLOB NOT NULL,
		saved_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(sess *Session) error {
	if sess.ID == "" {
		return errors.New("session id is required")
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, started_at, selector_version)
		VALUES (?, ?, ?)
	`, sess.ID, sess.StartedAt.UTC(), sess.SelectorVersion)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FinishSession records the outcome of a session.
func (s *Store) FinishSession(id string, res SessionResult) error {
	r, err := s.db.Exec(`
		UPDATE sessions SET
			finished_at = ?,
			outcome = ?,
			found = ?,
			processed = ?,
			removed = ?,
			error = ?
		WHERE id = ?
	`, time.Now().UTC(), res.Outcome, res.Found, res.Processed, res.Removed, res.Error, id)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

// RecordEvent appends an event row.
func (s *Store) RecordEvent(ev Event) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	payload := string(ev.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO events (session_id, action, payload, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.SessionID, ev.Action, payload, ev.CorrelationID, ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// GetSession returns one session by id.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, finished_at, outcome, found, processed, removed, error, selector_version
		FROM sessions WHERE id = ?
	`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// RecentSessions returns the newest sessions first.
func (s *Store) RecentSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, outcome, found, processed, removed, error, selector_version
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SessionEvents returns a session's events in the order they were recorded.
func (s *Store) SessionEvents(sessionID string) ([]Event, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, action, payload, correlation_id, created_at
		FROM events
		WHERE session_id = ?
		ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var payload string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Action, &payload, &ev.CorrelationID, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// SaveSelectorCache stores the last good remote selector payload.
func (s *Store) SaveSelectorCache(payload []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO selector_cache (id, payload, saved_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			saved_at = excluded.saved_at
	`, payload, time.Now().UTC())
	return err
}

// LoadSelectorCache returns the cached selector payload, or nil when none
// has been saved yet.
func (s *Store) LoadSelectorCache() ([]byte, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM selector_cache WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return payload, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID, &sess.StartedAt, &sess.FinishedAt, &sess.Outcome,
		&sess.Found, &sess.Processed, &sess.Removed, &sess.Error, &sess.SelectorVersion,
	)
	return sess, err
}
