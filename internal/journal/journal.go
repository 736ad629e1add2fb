// Package journal records session lifecycle events (joins, departures, bans,
// moderation strikes and handshake rejections). It never stores message
// content.
package journal

import (
	"context"
	"strings"
	"time"
)

// Kind classifies a lifecycle event.
type Kind string

const (
	KindJoin   Kind = "join"
	KindLeave  Kind = "leave"
	KindBan    Kind = "ban"
	KindStrike Kind = "strike"
	KindReject Kind = "reject"
)

// Event is one journal row.
type Event struct {
	ID        int64     `json:"id"`
	Kind      Kind      `json:"kind"`
	Nickname  string    `json:"nickname"`
	Actor     string    `json:"actor,omitempty"`
	Remote    string    `json:"remote,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Occupancy int       `json:"occupancy"`
	At        time.Time `json:"at"`
}

// Journal stores and lists lifecycle events.
type Journal interface {
	Record(ctx context.Context, event Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

// Open returns a SQLite journal at path, or a no-op journal when path is
// empty.
func Open(path string) (Journal, error) {
	if strings.TrimSpace(path) == "" {
		return Nop{}, nil
	}
	return OpenSQLite(path)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

func (Nop) Recent(context.Context, int) ([]Event, error) { return []Event{}, nil }

func (Nop) Close() error { return nil }
