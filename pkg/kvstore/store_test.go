package kvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "vrin_session_id")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "vrin_session_id", "s-1"))
	v, ok, err := s.Get(ctx, "vrin_session_id")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s-1", v)

	require.NoError(t, s.Set(ctx, "vrin_session_id", "s-2"))
	v, ok, err = s.Get(ctx, "vrin_session_id")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s-2", v)

	require.NoError(t, s.Remove(ctx, "vrin_session_id"))
	_, ok, err = s.Get(ctx, "vrin_session_id")
	require.NoError(t, err)
	require.False(t, ok)

	// removing a missing key is not an error
	require.NoError(t, s.Remove(ctx, "vrin_session_id"))

	_, _, err = s.Get(ctx, "  ")
	require.Error(t, err)
	require.Error(t, s.Set(ctx, "", "x"))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	ctx := context.Background()

	s1, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Set(ctx, "k", "v"))

	s2, err := NewFileStore(path)
	require.NoError(t, err)
	v, ok, err := s2.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestFileStore_MalformedFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	_, ok, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, s.Set(context.Background(), "k", "v"))
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestSQLiteStore_NilDB(t *testing.T) {
	var s *SQLiteStore
	_, _, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	require.NoError(t, s.Close())
}

func TestPebbleStore(t *testing.T) {
	s, err := NewPebbleStore(filepath.Join(t.TempDir(), "pebble"))
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, _, err = s.Get(context.Background(), "k")
	require.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("VRIN_CHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VRIN_CHAT_TEST_REDIS_ADDR not set")
	}
	s, err := NewRedisStore(RedisOptions{Addr: addr, Prefix: "vrin-chat-test-" + uuid.NewString()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	s := NewRedisStoreFromClient(nil, "vrin", 0)
	require.Equal(t, "vrin:vrin_session_id", s.key("vrin_session_id"))
	s = NewRedisStoreFromClient(nil, "", 0)
	require.Equal(t, "vrin_session_id", s.key("vrin_session_id"))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open("")
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)

	s, err = Open("memory://")
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)

	s, err = Open(filepath.Join(dir, "bare.json"))
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, s)
	require.Equal(t, filepath.Join(dir, "bare.json"), s.(*FileStore).path)

	s, err = Open("file://" + filepath.Join(dir, "session.json"))
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, s)
	require.Equal(t, filepath.Join(dir, "session.json"), s.(*FileStore).path)

	s, err = Open("sqlite://" + filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	require.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open("pebble://" + filepath.Join(dir, "pebble"))
	require.NoError(t, err)
	require.IsType(t, &PebbleStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open("redis://:secret@localhost:6379/vrin")
	require.NoError(t, err)
	rs, ok := s.(*RedisStore)
	require.True(t, ok)
	require.Equal(t, "vrin", rs.prefix)
	require.NoError(t, rs.Close())

	_, err = Open("ftp://example.com/x")
	require.Error(t, err)
}
