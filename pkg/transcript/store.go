// Package transcript keeps a local record of completed chat turns so that
// past sessions can be listed and resumed.
package transcript

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/vrin-ai/vrin-chat/pkg/chatsession"
)

// SessionRecord is the listing-level view of one recorded session.
type SessionRecord struct {
	SessionID      string `json:"session_id" yaml:"session_id"`
	Title          string `json:"title" yaml:"title"`
	Turns          int    `json:"turns" yaml:"turns"`
	CreatedAtMs    int64  `json:"created_at_ms" yaml:"created_at_ms"`
	LastActivityMs int64  `json:"last_activity_ms" yaml:"last_activity_ms"`
}

// Store records turns and serves them back in order.
//
// ListSessions orders by last activity, newest first. LoadMessages returns
// messages in the order they were recorded.
type Store interface {
	chatsession.TurnRecorder
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	GetSession(ctx context.Context, sessionID string) (SessionRecord, bool, error)
	LoadMessages(ctx context.Context, sessionID string) ([]chatsession.Message, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}

const (
	defaultListLimit = 200
	titleMaxRunes    = 60
)

// Open returns a SQLite store for path, or an in-memory store when path is
// empty.
func Open(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewInMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create transcript directory")
	}
	dsn, err := SQLiteDSNForFile(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(dsn)
}

func titleFrom(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	r := []rune(text)
	return string(r[:titleMaxRunes-1]) + "…"
}

func activityMs(session chatsession.Session, now time.Time) int64 {
	if !session.LastActivity.IsZero() {
		return session.LastActivity.UnixMilli()
	}
	return now.UnixMilli()
}

func createdMs(session chatsession.Session, now time.Time) int64 {
	if !session.CreatedAt.IsZero() {
		return session.CreatedAt.UnixMilli()
	}
	return now.UnixMilli()
}

func mergeSessionRecord(existing SessionRecord, incoming SessionRecord) SessionRecord {
	if existing.SessionID == "" {
		return incoming
	}
	out := existing
	out.Turns++
	if incoming.LastActivityMs > out.LastActivityMs {
		out.LastActivityMs = incoming.LastActivityMs
	}
	if out.CreatedAtMs <= 0 || (incoming.CreatedAtMs > 0 && incoming.CreatedAtMs < out.CreatedAtMs) {
		out.CreatedAtMs = incoming.CreatedAtMs
	}
	if out.Title == "" {
		out.Title = incoming.Title
	}
	return out
}
