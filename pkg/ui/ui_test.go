package ui

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"

	"github.com/vrin-ai/vrin-chat/pkg/chatapi"
	"github.com/vrin-ai/vrin-chat/pkg/chatsession"
)

func TestMain(m *testing.M) {
	log.Logger = zerolog.Nop()
	os.Exit(m.Run())
}

type fakeSession struct {
	mu        sync.Mutex
	state     chatsession.State
	sent      []string
	opts      []chatsession.SendOptions
	sendErr   error
	cancelled int
	started   int
	ended     int
	cleared   int
}

func (f *fakeSession) Snapshot() chatsession.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) SendMessage(_ context.Context, text string, opts chatsession.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	f.opts = append(f.opts, opts)
	return f.sendErr
}

func (f *fakeSession) CancelStreaming() { f.mu.Lock(); f.cancelled++; f.mu.Unlock() }

func (f *fakeSession) StartNewSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	f.state = chatsession.State{Session: &chatsession.Session{ID: "fresh"}}
	return nil
}

func (f *fakeSession) EndSession(context.Context) { f.mu.Lock(); f.ended++; f.mu.Unlock() }

func (f *fakeSession) ClearError() { f.mu.Lock(); f.cleared++; f.mu.Unlock() }

func newTestModel(t *testing.T, s *fakeSession) *Model {
	t.Helper()
	m := New(Config{
		Session:      s,
		SendOptions:  chatsession.SendOptions{Mode: "chat", Streaming: true},
		GlamourStyle: "notty",
	})
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return m
}

func typeText(m *Model, text string) {
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

func TestModel_EnterSendsTrimmedText(t *testing.T) {
	s := &fakeSession{}
	m := newTestModel(t, s)

	typeText(m, "  hello vrin  ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	require.Equal(t, "", m.input.Value())

	msg := cmd()
	done, ok := msg.(opDoneMsg)
	require.True(t, ok)
	require.NoError(t, done.err)
	require.Equal(t, []string{"hello vrin"}, s.sent)
	require.Equal(t, "chat", s.opts[0].Mode)
	require.True(t, s.opts[0].Streaming)
}

func TestModel_EnterOnBlankInputDoesNothing(t *testing.T) {
	s := &fakeSession{}
	m := newTestModel(t, s)
	typeText(m, "   ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.Nil(t, cmd)
	require.Empty(t, s.sent)
}

func TestModel_KeyBindings(t *testing.T) {
	s := &fakeSession{}
	m := newTestModel(t, s)

	for _, k := range []tea.KeyType{tea.KeyEsc, tea.KeyCtrlN, tea.KeyCtrlE, tea.KeyCtrlL} {
		_, cmd := m.Update(tea.KeyMsg{Type: k})
		require.NotNil(t, cmd)
		m.Update(cmd())
	}
	require.Equal(t, 1, s.cancelled)
	require.Equal(t, 1, s.started)
	require.Equal(t, 1, s.ended)
	require.Equal(t, 1, s.cleared)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_InFlightStatus(t *testing.T) {
	s := &fakeSession{sendErr: chatsession.ErrSendInFlight}
	m := newTestModel(t, s)
	typeText(m, "again")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m.Update(cmd())
	require.Contains(t, m.View(), "still in flight")
}

func TestModel_RendersState(t *testing.T) {
	s := &fakeSession{}
	m := newTestModel(t, s)
	require.Contains(t, m.View(), "no session")

	conf := 0.9
	_, cmd := m.Update(StateMsg{State: chatsession.State{
		Session: &chatsession.Session{ID: "abc123", ConversationTurn: 1},
		Messages: []chatsession.Message{
			{ID: "u1", Role: chatsession.RoleUser, Content: "Hi"},
			{ID: "a1", Role: chatsession.RoleAssistant, Content: "Hello there", Sources: []chatapi.Source{{Content: "doc one", Confidence: &conf}}},
			{ID: "u2", Role: chatsession.RoleUser, Content: "More"},
		},
		StreamingContent: "partial answ",
		IsStreaming:      true,
	}})
	require.Nil(t, cmd)

	view := m.View()
	require.Contains(t, view, "abc123")
	require.Contains(t, view, "turn 1")
	require.Contains(t, view, "Hello there")
	require.Contains(t, view, "doc one")
	require.Contains(t, view, "(90%)")
	require.Contains(t, view, "partial answ")

	_, cmd = m.Update(StateMsg{State: chatsession.State{IsLoading: true, Error: ""}})
	require.NotNil(t, cmd, "loading starts the spinner")
	require.Contains(t, m.View(), "Thinking")

	m.Update(StateMsg{State: chatsession.State{Error: "boom"}})
	require.Contains(t, m.View(), "Error: boom")
}

func TestStreamPrinter_StreamedTurn(t *testing.T) {
	var buf bytes.Buffer
	p := NewStreamPrinter(&buf, chatsession.State{})
	user := chatsession.Message{ID: "u", Role: chatsession.RoleUser, Content: "Hi"}

	p.OnStateChange(chatsession.State{Messages: []chatsession.Message{user}, IsLoading: true})
	p.OnStateChange(chatsession.State{Messages: []chatsession.Message{user}, IsStreaming: true, StreamingContent: "Hi"})
	p.OnStateChange(chatsession.State{Messages: []chatsession.Message{user}, IsStreaming: true, StreamingContent: "Hi the"})
	p.OnStateChange(chatsession.State{Messages: []chatsession.Message{user, {ID: "a", Role: chatsession.RoleAssistant, Content: "Hi there", Sources: []chatapi.Source{{Content: "src"}}}}})

	require.Equal(t, "Hi there\nSources (1):\n  [1] src\n", buf.String())
}

func TestStreamPrinter_FailureAndCancel(t *testing.T) {
	var buf bytes.Buffer
	p := NewStreamPrinter(&buf, chatsession.State{}).WithErrors(&buf)
	user := chatsession.Message{ID: "u", Role: chatsession.RoleUser, Content: "Hi"}

	p.OnStateChange(chatsession.State{Messages: []chatsession.Message{user}, IsStreaming: true, StreamingContent: "par"})
	p.OnStateChange(chatsession.State{Error: "stream broke"})
	require.Equal(t, "par\nerror: stream broke\n", buf.String())

	buf.Reset()
	p.OnStateChange(chatsession.State{Messages: []chatsession.Message{user}, IsStreaming: true, StreamingContent: "abc"})
	p.OnStateChange(chatsession.State{Messages: []chatsession.Message{user}})
	require.Equal(t, "abc\n", buf.String())
}

func TestStreamPrinter_NonStreamingReply(t *testing.T) {
	var buf bytes.Buffer
	p := NewStreamPrinter(&buf, chatsession.State{})
	user := chatsession.Message{ID: "u", Role: chatsession.RoleUser, Content: "Hi"}
	p.OnStateChange(chatsession.State{Messages: []chatsession.Message{user}, IsLoading: true})
	p.OnStateChange(chatsession.State{Messages: []chatsession.Message{user, {ID: "a", Role: chatsession.RoleAssistant, Content: "Whole reply"}}})
	require.Equal(t, "Whole reply\n", buf.String())
}

func TestREPL_Commands(t *testing.T) {
	s := &fakeSession{}
	var out bytes.Buffer
	r := &REPL{
		Session:     s,
		SendOptions: chatsession.SendOptions{Mode: "chat"},
		In:          strings.NewReader("hello\n\n/new\n/clear\n/bogus\n/end\nsecond\n/quit\nignored\n"),
		Out:         &out,
	}
	require.NoError(t, r.Run(context.Background()))

	require.Equal(t, []string{"hello", "second"}, s.sent)
	require.Equal(t, 1, s.started)
	require.Equal(t, 1, s.cleared)
	require.Equal(t, 1, s.ended)
	require.Contains(t, out.String(), "session fresh started")
	require.Contains(t, out.String(), replHelp)
}

func TestREPL_StopsOnMissingAPIKey(t *testing.T) {
	s := &fakeSession{sendErr: chatsession.ErrMissingAPIKey}
	r := &REPL{Session: s, In: strings.NewReader("hi\nagain\n"), Out: &bytes.Buffer{}}
	require.ErrorIs(t, r.Run(context.Background()), chatsession.ErrMissingAPIKey)
	require.Equal(t, []string{"hi"}, s.sent)
}

func TestREPL_EOF(t *testing.T) {
	r := &REPL{Session: &fakeSession{}, In: strings.NewReader(""), Out: &bytes.Buffer{}}
	require.NoError(t, r.Run(context.Background()))
}

func TestModel_CopyLastReply(t *testing.T) {
	var copied []string
	m := New(Config{
		Session:      &fakeSession{},
		GlamourStyle: "notty",
		CopyToClipboard: func(s string) error {
			copied = append(copied, s)
			return nil
		},
	})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlY})
	require.Nil(t, cmd)
	require.Contains(t, m.View(), "Nothing to copy yet.")

	m.Update(StateMsg{State: chatsession.State{Messages: []chatsession.Message{
		{ID: "u1", Role: chatsession.RoleUser, Content: "Hi"},
		{ID: "a1", Role: chatsession.RoleAssistant, Content: "first"},
		{ID: "u2", Role: chatsession.RoleUser, Content: "More"},
		{ID: "a2", Role: chatsession.RoleAssistant, Content: "second"},
	}}})
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlY})
	require.NotNil(t, cmd)
	m.Update(cmd())
	require.Equal(t, []string{"second"}, copied)
	require.Contains(t, m.View(), "Copied the last reply")
}

func TestModel_CopyFailureShowsStatus(t *testing.T) {
	m := New(Config{
		Session:         &fakeSession{},
		GlamourStyle:    "notty",
		CopyToClipboard: func(string) error { return errors.New("no clipboard utility") },
	})
	m.Update(StateMsg{State: chatsession.State{Messages: []chatsession.Message{
		{ID: "a1", Role: chatsession.RoleAssistant, Content: "reply"},
	}}})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlY})
	m.Update(cmd())
	require.Contains(t, m.View(), "copy failed: no clipboard utility")
}

func TestModel_RendersReasoningSummary(t *testing.T) {
	m := newTestModel(t, &fakeSession{})
	m.Update(StateMsg{State: chatsession.State{Messages: []chatsession.Message{
		{ID: "u1", Role: chatsession.RoleUser, Content: "Why?"},
		{ID: "a1", Role: chatsession.RoleAssistant, Content: "Because.", ReasoningSummary: "Looked up two docs."},
	}}})
	require.Contains(t, m.View(), "Reasoning: Looked up two docs.")
}

func TestRenderReasoning(t *testing.T) {
	require.Equal(t, "", renderReasoning("  "))
	require.Equal(t, "Reasoning: a\n  b\n  c\n  …", renderReasoning("a\nb\nc\nd\ne"))
}

func TestStreamPrinter_RetryAfterExpiredStream(t *testing.T) {
	var buf bytes.Buffer
	p := NewStreamPrinter(&buf, chatsession.State{})
	user := chatsession.Message{ID: "u", Role: chatsession.RoleUser, Content: "Hi"}

	p.OnStateChange(chatsession.State{Messages: []chatsession.Message{user}, IsStreaming: true, StreamingContent: "Hel"})
	// the session expired mid-stream and the send is retried
	p.OnStateChange(chatsession.State{Messages: []chatsession.Message{user}, IsLoading: true})
	p.OnStateChange(chatsession.State{Messages: []chatsession.Message{user}, IsStreaming: true, StreamingContent: "Hello"})
	p.OnStateChange(chatsession.State{Messages: []chatsession.Message{user, {ID: "a", Role: chatsession.RoleAssistant, Content: "Hello again"}}})

	require.Equal(t, "Hel\nHello again\n", buf.String())
}
