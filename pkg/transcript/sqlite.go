package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/vrin-ai/vrin-chat/pkg/chatsession"
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite transcript store: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transcript_sessions (
		  session_id TEXT PRIMARY KEY,
		  title TEXT NOT NULL DEFAULT '',
		  turns INTEGER NOT NULL DEFAULT 0,
		  created_at_ms INTEGER NOT NULL,
		  last_activity_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_sessions_by_last_activity
		  ON transcript_sessions(last_activity_ms DESC, session_id ASC);`,
		`CREATE TABLE IF NOT EXISTS transcript_messages (
		  session_id TEXT NOT NULL REFERENCES transcript_sessions(session_id) ON DELETE CASCADE,
		  message_id TEXT NOT NULL,
		  position INTEGER NOT NULL,
		  role TEXT NOT NULL,
		  created_at_ms INTEGER NOT NULL,
		  message_json TEXT NOT NULL,
		  PRIMARY KEY (session_id, message_id)
		);`,
		`CREATE INDEX IF NOT EXISTS transcript_messages_by_position
		  ON transcript_messages(session_id, position);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite transcript store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) RecordTurn(ctx context.Context, session chatsession.Session, user chatsession.Message, assistant chatsession.Message) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return errors.New("sqlite transcript store: session id is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transcript_sessions (session_id, title, turns, created_at_ms, last_activity_ms)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			turns = transcript_sessions.turns + 1,
			title = CASE
				WHEN transcript_sessions.title <> '' THEN transcript_sessions.title
				ELSE excluded.title
			END,
			created_at_ms = CASE
				WHEN transcript_sessions.created_at_ms > 0 AND transcript_sessions.created_at_ms <= excluded.created_at_ms
				THEN transcript_sessions.created_at_ms
				ELSE excluded.created_at_ms
			END,
			last_activity_ms = CASE
				WHEN excluded.last_activity_ms > transcript_sessions.last_activity_ms THEN excluded.last_activity_ms
				ELSE transcript_sessions.last_activity_ms
			END
	`, id, titleFrom(user.Content), createdMs(session, now), activityMs(session, now)); err != nil {
		return errors.Wrap(err, "sqlite transcript store: upsert session")
	}

	var pos int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) FROM transcript_messages WHERE session_id = ?`, id,
	).Scan(&pos); err != nil {
		return errors.Wrap(err, "sqlite transcript store: next position")
	}

	for _, m := range []chatsession.Message{user, assistant} {
		pos++
		raw, err := json.Marshal(m)
		if err != nil {
			return errors.Wrap(err, "sqlite transcript store: marshal message")
		}
		ts := m.Timestamp
		if ts.IsZero() {
			ts = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transcript_messages (session_id, message_id, position, role, created_at_ms, message_json)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, message_id) DO NOTHING
		`, id, m.ID, pos, string(m.Role), ts.UnixMilli(), string(raw)); err != nil {
			return errors.Wrap(err, "sqlite transcript store: insert message")
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, title, turns, created_at_ms, last_activity_ms
		FROM transcript_sessions
		ORDER BY last_activity_ms DESC, session_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: list sessions")
	}
	defer func() { _ = rows.Close() }()

	records := make([]SessionRecord, 0, 16)
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.SessionID, &r.Title, &r.Turns, &r.CreatedAtMs, &r.LastActivityMs); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: scan session")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: iterate sessions")
	}
	return records, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (SessionRecord, bool, error) {
	if s == nil || s.db == nil {
		return SessionRecord{}, false, errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var r SessionRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, title, turns, created_at_ms, last_activity_ms
		FROM transcript_sessions
		WHERE session_id = ?
	`, strings.TrimSpace(sessionID)).Scan(&r.SessionID, &r.Title, &r.Turns, &r.CreatedAtMs, &r.LastActivityMs)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, errors.Wrap(err, "sqlite transcript store: get session")
	}
	return r, true, nil
}

func (s *SQLiteStore) LoadMessages(ctx context.Context, sessionID string) ([]chatsession.Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_json
		FROM transcript_messages
		WHERE session_id = ?
		ORDER BY position ASC
	`, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, errors.Wrap(err, "sqlite transcript store: query messages")
	}
	defer func() { _ = rows.Close() }()

	var msgs []chatsession.Message
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var m chatsession.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, errors.Wrap(err, "sqlite transcript store: unmarshal message")
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite transcript store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	id := strings.TrimSpace(sessionID)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_messages WHERE session_id = ?`, id); err != nil {
		return errors.Wrap(err, "sqlite transcript store: delete messages")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_sessions WHERE session_id = ?`, id); err != nil {
		return errors.Wrap(err, "sqlite transcript store: delete session")
	}
	return tx.Commit()
}
