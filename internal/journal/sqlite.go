package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// DefaultRecentLimit applies when Recent is called with a non-positive limit.
	DefaultRecentLimit = 50
	maxRecentLimit     = 1000
)

const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	nickname TEXT NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	remote TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	occupancy INTEGER NOT NULL DEFAULT 0,
	at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_nickname ON session_events(nickname);
`

// SQLite persists events in a SQLite database.
type SQLite struct {
	db *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite journal: %w", err)
	}
	// One writer keeps SQLite free of SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Record inserts one event. A zero At is stamped with the current time.
func (s *SQLite) Record(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("journal is not configured")
	}
	if event.Kind == "" {
		return errors.New("event kind is required")
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (kind, nickname, actor, remote, reason, occupancy, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(event.Kind), event.Nickname, event.Actor, event.Remote, event.Reason,
		event.Occupancy, toMillis(event.At),
	)
	if err != nil {
		return fmt.Errorf("insert session event: %w", err)
	}
	return nil
}

// Recent lists the newest events first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Event, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("journal is not configured")
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, nickname, actor, remote, reason, occupancy, at
		 FROM session_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			e    Event
			kind string
			at   int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.Nickname, &e.Actor, &e.Remote, &e.Reason, &e.Occupancy, &at); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		e.Kind = Kind(kind)
		e.At = fromMillis(at)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session events: %w", err)
	}
	return events, nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
