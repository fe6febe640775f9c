package cmds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeBackend struct {
	mu       sync.Mutex
	requests []map[string]any
	paths    []string
	auth     []string
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.paths = append(b.paths, r.URL.Path)
		b.requests = append(b.requests, body)
		b.auth = append(b.auth, r.Header.Get("Authorization"))
		b.mu.Unlock()
	}
	mux.HandleFunc("/chat/start", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = w.Write([]byte(`{"session_id":"s-new"}`))
	})
	mux.HandleFunc("/chat/stream", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range []string{
			`data: {"type":"content","content":"Hello"}`,
			`data: {"type":"content","content":" world"}`,
			`data: {"type":"done","session_id":"s-1","conversation_turn":1}`,
		} {
			_, _ = fmt.Fprint(w, frame+"\n\n")
			w.(http.Flusher).Flush()
		}
	})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = w.Write([]byte(`{"session_id":"s-1","conversation_turn":2,"message":"sync reply"}`))
	})
	mux.HandleFunc("/chat/end", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		_, _ = w.Write([]byte(`{}`))
	})
	return mux
}

func (b *fakeBackend) last(path string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.paths) - 1; i >= 0; i-- {
		if b.paths[i] == path {
			return b.requests[i]
		}
	}
	return nil
}

type cliEnv struct {
	t       *testing.T
	dir     string
	baseURL string
	backend *fakeBackend
	// defaultTranscript leaves --transcript-db unset.
	defaultTranscript bool
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	for _, k := range []string{"VRIN_API_KEY", "VRIN_BASE_URL", "VRIN_STREAMING", "VRIN_SESSION_STORE", "VRIN_TRANSCRIPT_DB", "VRIN_RELAY_ADDR", "VRIN_REDIS_ENABLED"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	b := &fakeBackend{}
	ts := httptest.NewServer(b.handler())
	t.Cleanup(ts.Close)
	return &cliEnv{t: t, dir: dir, baseURL: ts.URL, backend: b}
}

func (e *cliEnv) run(stdin string, args ...string) (string, error) {
	e.t.Helper()
	root := NewRootCommand()
	var out, errb bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errb)
	root.SetIn(strings.NewReader(stdin))
	base := []string{
		"--env-file", "",
		"--log-level", "error",
		"--base-url", e.baseURL,
		"--api-key", "sk-test-key-123",
		"--session-store", "file://" + filepath.ToSlash(filepath.Join(e.dir, "session.json")),
	}
	if !e.defaultTranscript {
		base = append(base, "--transcript-db", filepath.Join(e.dir, "history", "transcripts.db"))
	}
	root.SetArgs(append(append([]string{}, args...), base...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// rows runs a glazed command with JSON output written to a file.
func (e *cliEnv) rows(args ...string) []map[string]any {
	e.t.Helper()
	path := filepath.Join(e.t.TempDir(), "rows.json")
	_, err := e.run("", append(append([]string{}, args...), "--output", "json", "--output-file", path)...)
	require.NoError(e.t, err)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(e.t, err)
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	if data[0] == '{' {
		var row map[string]any
		require.NoError(e.t, json.Unmarshal(data, &row))
		return []map[string]any{row}
	}
	var rows []map[string]any
	require.NoError(e.t, json.Unmarshal(data, &rows))
	return rows
}

func TestCLI_SendSessionHistoryLifecycle(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("", "send", "Hello", "there")
	require.NoError(t, err)
	require.Equal(t, "Hello world\n", out)
	req := env.backend.last("/chat/stream")
	require.Equal(t, "Hello there", req["message"])
	require.NotContains(t, req, "session_id")
	require.Equal(t, "chat", req["response_mode"])

	out, err = env.run("", "session", "show")
	require.NoError(t, err)
	require.Contains(t, out, "session: s-1")
	require.Contains(t, out, "title:   Hello there")
	require.Contains(t, out, "turns:   1")

	out, err = env.run("", "send", "--streaming=false", "Again")
	require.NoError(t, err)
	require.Equal(t, "sync reply\n", out)
	require.Equal(t, "s-1", env.backend.last("/chat")["session_id"])

	rows := env.rows("history", "list")
	require.Len(t, rows, 1)
	require.Equal(t, "s-1", rows[0]["session_id"])
	require.Equal(t, true, rows[0]["active"])
	require.EqualValues(t, 2, rows[0]["turns"])
	require.Equal(t, "Hello there", rows[0]["title"])

	rows = env.rows("history", "show", "s-1")
	require.Len(t, rows, 4)
	for i, want := range []string{"Hello there", "Hello world", "Again", "sync reply"} {
		require.Equal(t, want, rows[i]["content"])
	}
	require.Equal(t, "user", rows[0]["role"])
	require.Equal(t, "assistant", rows[1]["role"])

	out, err = env.run("", "session", "end")
	require.NoError(t, err)
	require.Equal(t, "ended s-1\n", out)
	require.Equal(t, "s-1", env.backend.last("/chat/end")["session_id"])

	out, err = env.run("", "session", "show")
	require.NoError(t, err)
	require.Equal(t, "no active session\n", out)

	out, err = env.run("", "session", "start")
	require.NoError(t, err)
	require.Equal(t, "s-new\n", out)

	_, err = env.run("", "history", "delete", "s-1")
	require.NoError(t, err)
	require.Empty(t, env.rows("history", "list"))
}

func TestCLI_HistoryPersistsInDefaultLocation(t *testing.T) {
	env := newCLIEnv(t)
	env.defaultTranscript = true

	_, err := env.run("", "send", "Remember me")
	require.NoError(t, err)

	rows := env.rows("history", "list")
	require.Len(t, rows, 1)
	require.Equal(t, "s-1", rows[0]["session_id"])
	require.FileExists(t, filepath.Join(env.dir, "state", "vrin-chat", "transcript.db"))

	out, err := env.run("", "chat", "--resume", "s-1")
	require.NoError(t, err)
	require.Contains(t, out, "> ")
}

func TestCLI_ChatLineMode(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run("Hi\n/quit\n", "chat")
	require.NoError(t, err)
	require.Contains(t, out, "Hello world\n")

	out, err = env.run("", "chat", "--resume", "s-1")
	require.NoError(t, err)
	require.Contains(t, out, "> ")

	_, err = env.run("", "chat", "--resume", "unknown")
	require.Error(t, err)
}

func TestCLI_SendWithoutAPIKey(t *testing.T) {
	env := newCLIEnv(t)
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"send", "--env-file", "", "--base-url", env.baseURL, "--session-store", "memory://", "hi"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "API key is required")
}

func TestCLI_ConfigShowRedactsKey(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run("", "config", "show", "--flush-interval", "40ms")
	require.NoError(t, err)
	require.NotContains(t, out, "test-key")

	var m map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &m))
	require.Equal(t, "sk-t…-123", m["api-key"])
	require.Equal(t, "40ms", m["flush-interval"])
	require.Equal(t, env.baseURL, m["base-url"])
	require.Equal(t, true, m["streaming"])
}
