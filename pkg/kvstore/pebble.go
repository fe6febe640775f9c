package kvstore

import (
	"context"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

type PebbleStore struct {
	mu sync.RWMutex
	db *pebble.DB
}

var _ Store = &PebbleStore{}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	if dir == "" || dir == "." {
		return nil, errors.New("pebble kv store: empty dir")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "pebble kv store: open")
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Get(_ context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return "", false, errors.New("pebble kv store: closed")
	}
	v, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "pebble kv store: get")
	}
	// v is only valid until closer.Close
	out := string(v)
	_ = closer.Close()
	return out, true, nil
}

func (s *PebbleStore) Set(_ context.Context, key string, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return errors.New("pebble kv store: closed")
	}
	if err := s.db.Set([]byte(key), []byte(value), pebble.Sync); err != nil {
		return errors.Wrap(err, "pebble kv store: set")
	}
	return nil
}

func (s *PebbleStore) Remove(_ context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return errors.New("pebble kv store: closed")
	}
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return errors.Wrap(err, "pebble kv store: remove")
	}
	return nil
}

func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
