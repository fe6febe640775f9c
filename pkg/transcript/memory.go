package transcript

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/vrin-ai/vrin-chat/pkg/chatsession"
)

// InMemoryStore mirrors the ordering semantics of the SQLite store.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]SessionRecord
	messages map[string][]chatsession.Message
}

var _ Store = &InMemoryStore{}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: map[string]SessionRecord{},
		messages: map[string][]chatsession.Message{},
	}
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) RecordTurn(_ context.Context, session chatsession.Session, user chatsession.Message, assistant chatsession.Message) error {
	if s == nil {
		return errors.New("in-memory transcript store: nil store")
	}
	id := strings.TrimSpace(session.ID)
	if id == "" {
		return errors.New("in-memory transcript store: session id is empty")
	}
	now := time.Now()
	incoming := SessionRecord{
		SessionID:      id,
		Title:          titleFrom(user.Content),
		Turns:          1,
		CreatedAtMs:    createdMs(session, now),
		LastActivityMs: activityMs(session, now),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = mergeSessionRecord(s.sessions[id], incoming)
	s.messages[id] = append(s.messages[id], user, assistant)
	return nil
}

func (s *InMemoryStore) ListSessions(_ context.Context, limit int) ([]SessionRecord, error) {
	if s == nil {
		return nil, errors.New("in-memory transcript store: nil store")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]SessionRecord, 0, len(s.sessions))
	for _, r := range s.sessions {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].LastActivityMs == records[j].LastActivityMs {
			return records[i].SessionID < records[j].SessionID
		}
		return records[i].LastActivityMs > records[j].LastActivityMs
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *InMemoryStore) GetSession(_ context.Context, sessionID string) (SessionRecord, bool, error) {
	if s == nil {
		return SessionRecord{}, false, errors.New("in-memory transcript store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[strings.TrimSpace(sessionID)]
	return r, ok, nil
}

func (s *InMemoryStore) LoadMessages(_ context.Context, sessionID string) ([]chatsession.Message, error) {
	if s == nil {
		return nil, errors.New("in-memory transcript store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chatsession.Message(nil), s.messages[strings.TrimSpace(sessionID)]...), nil
}

func (s *InMemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	if s == nil {
		return errors.New("in-memory transcript store: nil store")
	}
	id := strings.TrimSpace(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}
