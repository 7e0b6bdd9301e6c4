// Package audit is a SQLite-backed queryable log of module mutations
// (website/service/firewall/cert transitions). It is not the source of
// truth — that remains the Config Store's JSON module files — it only
// answers "what happened recently" without re-reading every module on
// every control-IPC query, and is fully rebuildable by replaying the
// store's dirty-write history.
package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Log wraps the SQLite connection used to persist audit events.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	module     TEXT NOT NULL,
	subject    TEXT NOT NULL,
	action     TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	occurred_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_events_module_subject ON events(module, subject);
`

// Open opens (creating if needed) the SQLite database at path and runs the
// schema migration. A single connection is kept (SQLite does not tolerate
// concurrent writers), matching the teacher's db.OpenDatabase pattern.
func Open(path string, logger *slog.Logger) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create directory for %q: %w", path, err)
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %q: %w", path, err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: migrate schema: %w", err)
	}

	logger.Info("audit log opened", "path", path)
	return &Log{db: conn, logger: logger}, nil
}

// Close releases the underlying connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// Event is a single recorded module mutation.
type Event struct {
	ID         int64     `json:"id"`
	Module     string    `json:"module"`
	Subject    string    `json:"subject"`
	Action     string    `json:"action"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Record inserts one event row. Failures are not fatal to the caller's
// operation — the audit log is a convenience, never a gate — so callers
// typically warn-log Record's error rather than propagate it.
func (l *Log) Record(module, subject, action, message string) error {
	_, err := l.db.Exec(
		`INSERT INTO events (module, subject, action, message, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		module, subject, action, message, time.Now().UTC(),
	)
	if err != nil {
		err = fmt.Errorf("audit: record %s/%s %s: %w", module, subject, action, err)
		l.logger.Warn("audit record failed", "module", module, "subject", subject, "action", action, "error", err)
		return err
	}
	return nil
}

// Recent returns the most recent events across all modules, newest first,
// capped at limit rows.
func (l *Log) Recent(limit int) ([]Event, error) {
	return l.query(`SELECT id, module, subject, action, message, occurred_at FROM events ORDER BY occurred_at DESC LIMIT ?`, limit)
}

// ForSubject returns the most recent events recorded for one module+subject
// pair (e.g. module="web", subject="example.com"), newest first.
func (l *Log) ForSubject(module, subject string, limit int) ([]Event, error) {
	return l.query(
		`SELECT id, module, subject, action, message, occurred_at FROM events WHERE module = ? AND subject = ? ORDER BY occurred_at DESC LIMIT ?`,
		module, subject, limit,
	)
}

func (l *Log) query(query string, args ...any) ([]Event, error) {
	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Module, &e.Subject, &e.Action, &e.Message, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("audit: scan row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate rows: %w", err)
	}
	return events, nil
}
