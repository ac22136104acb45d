// Package history persists a record of every tool call for later
// inspection over the control API.
package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

const schema = `
CREATE TABLE IF NOT EXISTS tool_calls (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id  TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	tool        TEXT NOT NULL,
	params      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_session ON tool_calls(session_id, id);
`

// Record is one persisted tool call.
type Record struct {
	ID        int64         `json:"id"`
	RequestID string        `json:"requestId"`
	SessionID string        `json:"sessionId"`
	Tool      string        `json:"tool"`
	Params    string        `json:"params,omitempty"`
	Status    string        `json:"status"`
	ErrorKind string        `json:"errorKind,omitempty"`
	Duration  time.Duration `json:"durationMs"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Store writes call records to SQLite.
type Store struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	// SQLite doesn't handle concurrent writers well; serialize all access
	// through a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	slog.Default().Info("history store ready", "component", "history", "path", path)
	return &Store{db: db}, nil
}

// Append writes one record. Failures are logged, not propagated; history
// is best effort and must never fail a tool call.
func (s *Store) Append(r Record) {
	if s == nil {
		return
	}
	_, err := s.db.Exec(
		`INSERT INTO tool_calls (request_id, session_id, tool, params, status, error_kind, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, r.SessionID, r.Tool, r.Params, r.Status, r.ErrorKind, r.Duration.Milliseconds(),
	)
	if err != nil {
		slog.Default().Warn("history append", "component", "history", "error", err)
	}
}

// BySession returns the most recent records for one session, newest first.
func (s *Store) BySession(sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, request_id, session_id, tool, params, status, error_kind, duration_ms, created_at
		 FROM tool_calls WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// Recent returns the most recent records across all sessions, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, request_id, session_id, tool, params, status, error_kind, duration_ms, created_at
		 FROM tool_calls ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.RequestID, &r.SessionID, &r.Tool, &r.Params, &r.Status, &r.ErrorKind, &durationMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}
