package transcript

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vrin-ai/vrin-chat/pkg/chatapi"
	"github.com/vrin-ai/vrin-chat/pkg/chatsession"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "transcript.db")
	dsn, err := SQLiteDSNForFile(dbPath)
	require.NoError(t, err)
	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func turn(id string, n int, at time.Time) (chatsession.Session, chatsession.Message, chatsession.Message) {
	conf := 0.75
	sess := chatsession.Session{ID: id, ConversationTurn: n, CreatedAt: at.Add(-time.Hour), LastActivity: at}
	user := chatsession.Message{
		ID:        id + "-u" + string(rune('0'+n)),
		Role:      chatsession.RoleUser,
		Content:   "question " + string(rune('0'+n)),
		Timestamp: at,
	}
	asst := chatsession.Message{
		ID:               id + "-a" + string(rune('0'+n)),
		Role:             chatsession.RoleAssistant,
		Content:          "answer " + string(rune('0'+n)),
		Timestamp:        at,
		Sources:          []chatapi.Source{{Content: "src", Type: "graph", Confidence: &conf}},
		Metadata:         map[string]any{"mode": "chat"},
		ReasoningSummary: "thought",
	}
	return sess, user, asst
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	sess, u, a := turn("s1", 1, base)
	require.NoError(t, s.RecordTurn(ctx, sess, u, a))
	sess, u, a = turn("s1", 2, base.Add(time.Minute))
	require.NoError(t, s.RecordTurn(ctx, sess, u, a))
	sess, u, a = turn("s2", 1, base.Add(30*time.Second))
	require.NoError(t, s.RecordTurn(ctx, sess, u, a))

	require.Error(t, s.RecordTurn(ctx, chatsession.Session{}, u, a))

	records, err := s.ListSessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "s1", records[0].SessionID)
	require.Equal(t, 2, records[0].Turns)
	require.Equal(t, "question 1", records[0].Title)
	require.Equal(t, base.Add(time.Minute).UnixMilli(), records[0].LastActivityMs)
	require.Equal(t, base.Add(-time.Hour).UnixMilli(), records[0].CreatedAtMs)
	require.Equal(t, "s2", records[1].SessionID)

	limited, err := s.ListSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	rec, ok, err := s.GetSession(ctx, "s2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, rec.Turns)
	_, ok, err = s.GetSession(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	msgs, err := s.LoadMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	require.Equal(t, []string{"question 1", "answer 1", "question 2", "answer 2"},
		[]string{msgs[0].Content, msgs[1].Content, msgs[2].Content, msgs[3].Content})
	require.Equal(t, chatsession.RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].Sources, 1)
	require.NotNil(t, msgs[1].Sources[0].Confidence)
	require.InDelta(t, 0.75, *msgs[1].Sources[0].Confidence, 1e-9)
	require.Equal(t, "chat", msgs[1].Metadata["mode"])
	require.Equal(t, "thought", msgs[1].ReasoningSummary)
	require.True(t, msgs[0].Timestamp.Equal(base))

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	records, err = s.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	msgs, err = s.LoadMessages(ctx, "s1")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestInMemoryStore(t *testing.T) {
	exerciseStore(t, NewInMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, newSQLiteStore(t))
}

func TestSQLiteStore_ReopenKeepsHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "transcript.db")
	ctx := context.Background()

	s1, err := Open(dbPath)
	require.NoError(t, err)
	sess, u, a := turn("s1", 1, time.Now())
	require.NoError(t, s1.RecordTurn(ctx, sess, u, a))
	require.NoError(t, s1.Close())

	_, err = os.Stat(dbPath)
	require.NoError(t, err)

	s2, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s2.Close() })
	msgs, err := s2.LoadMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestSQLiteStore_NilDB(t *testing.T) {
	var s *SQLiteStore
	_, err := s.ListSessions(context.Background(), 1)
	require.Error(t, err)
	require.NoError(t, s.Close())
}

func TestOpen_EmptyPathIsInMemory(t *testing.T) {
	s, err := Open("  ")
	require.NoError(t, err)
	require.IsType(t, &InMemoryStore{}, s)
}

func TestTitleFrom(t *testing.T) {
	require.Equal(t, "hello world", titleFrom("  hello\n  world "))
	long := strings.Repeat("a", 100)
	title := titleFrom(long)
	require.Equal(t, titleMaxRunes, len([]rune(title)))
	require.True(t, strings.HasSuffix(title, "…"))
}
