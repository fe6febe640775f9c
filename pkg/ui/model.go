// Package ui renders a chat session in the terminal, either as a bubbletea
// program or as a line-oriented REPL.
package ui

import (
	"context"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/vrin-ai/vrin-chat/pkg/chatsession"
)

// Session is the part of *chatsession.Client the UI drives.
type Session interface {
	Snapshot() chatsession.State
	SendMessage(ctx context.Context, text string, opts chatsession.SendOptions) error
	CancelStreaming()
	StartNewSession(ctx context.Context) error
	EndSession(ctx context.Context)
	ClearError()
}

var _ Session = (*chatsession.Client)(nil)

type Config struct {
	Session     Session
	SendOptions chatsession.SendOptions
	// Context bounds every session call made from the UI.
	Context context.Context
	// GlamourStyle selects the markdown style; empty means auto-detect.
	GlamourStyle string
	// CopyToClipboard defaults to the system clipboard.
	CopyToClipboard func(string) error
}

// StateMsg delivers a session snapshot to the program.
type StateMsg struct {
	State chatsession.State
}

type opDoneMsg struct {
	op  string
	err error
}

type copiedMsg struct {
	err error
}

// Forward returns an observer that injects every state change into p.
// Session calls must never run inside Update, since Send blocks until the
// program loop receives the message.
func Forward(p *tea.Program) chatsession.Observer {
	return chatsession.ObserverFunc(func(s chatsession.State) {
		p.Send(StateMsg{State: s})
	})
}

const (
	minViewportWidth = 20
	chromeHeight     = 6
)

type Model struct {
	cfg Config

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	state    chatsession.State
	status   string
	width    int
	rendered map[string]string
	spinning bool
}

func New(cfg Config) *Model {
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.CopyToClipboard == nil {
		cfg.CopyToClipboard = clipboard.WriteAll
	}
	in := textinput.New()
	in.Placeholder = "Ask VRIN anything…"
	in.Prompt = "› "
	in.CharLimit = 4000
	in.Width = 70
	in.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	vp := viewport.New(80, 20)
	vp.MouseWheelEnabled = true

	m := &Model{
		cfg:      cfg,
		input:    in,
		viewport: vp,
		spinner:  spin,
		width:    80,
		rendered: map[string]string{},
	}
	if cfg.Session != nil {
		m.state = cfg.Session.Snapshot()
	}
	m.renderer = m.newRenderer(m.width)
	m.refresh()
	return m
}

func (m *Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		w := msg.Width - 2
		if w < minViewportWidth {
			w = minViewportWidth
		}
		h := msg.Height - chromeHeight
		if h < 3 {
			h = 3
		}
		m.viewport.Width = w
		m.viewport.Height = h
		m.input.Width = w - 4
		if w != m.width {
			m.width = w
			m.renderer = m.newRenderer(w)
			m.rendered = map[string]string{}
		}
		m.refresh()
		return m, nil

	case StateMsg:
		m.state = msg.State
		m.refresh()
		if m.state.IsLoading && !m.spinning {
			m.spinning = true
			return m, m.spinner.Tick
		}
		return m, nil

	case spinner.TickMsg:
		if !m.state.IsLoading {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case opDoneMsg:
		switch {
		case msg.err == nil:
			m.status = ""
		case errors.Is(msg.err, chatsession.ErrSendInFlight):
			m.status = "A message is still in flight. Press esc to cancel it."
		case m.state.Error == "":
			m.status = msg.op + ": " + msg.err.Error()
		}
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			m.status = "copy failed: " + msg.err.Error()
		} else {
			m.status = "Copied the last reply to the clipboard."
		}
		return m, nil

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type == tea.KeyCtrlC {
		return m, tea.Quit
	}
	if m.cfg.Session == nil {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(key)
		return m, cmd
	}
	switch key.Type {
	case tea.KeyEsc:
		return m, m.run("cancel", func(context.Context) error {
			m.cfg.Session.CancelStreaming()
			return nil
		})
	case tea.KeyCtrlN:
		m.status = "Starting a new session…"
		return m, m.run("new session", m.cfg.Session.StartNewSession)
	case tea.KeyCtrlE:
		m.status = "Session ended."
		return m, m.run("end session", func(ctx context.Context) error {
			m.cfg.Session.EndSession(ctx)
			return nil
		})
	case tea.KeyCtrlL:
		m.status = ""
		return m, m.run("clear error", func(context.Context) error {
			m.cfg.Session.ClearError()
			return nil
		})
	case tea.KeyCtrlY:
		reply, ok := lastReply(m.state.Messages)
		if !ok {
			m.status = "Nothing to copy yet."
			return m, nil
		}
		copyFn := m.cfg.CopyToClipboard
		return m, func() tea.Msg {
			return copiedMsg{err: copyFn(reply)}
		}
	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(key)
		return m, cmd
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.SetValue("")
		m.status = ""
		opts := m.cfg.SendOptions
		return m, m.run("send", func(ctx context.Context) error {
			return m.cfg.Session.SendMessage(ctx, text, opts)
		})
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(key)
	return m, cmd
}

func lastReply(msgs []chatsession.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chatsession.RoleAssistant {
			return msgs[i].Content, true
		}
	}
	return "", false
}

// run executes fn off the program loop.
func (m *Model) run(op string, fn func(context.Context) error) tea.Cmd {
	ctx := m.cfg.Context
	return func() tea.Msg {
		err := fn(ctx)
		if err != nil {
			log.Debug().Err(err).Str("component", "ui").Str("op", op).Msg("session operation failed")
		}
		return opDoneMsg{op: op, err: err}
	}
}

func (m *Model) newRenderer(width int) *glamour.TermRenderer {
	style := glamour.WithAutoStyle()
	if m.cfg.GlamourStyle != "" {
		style = glamour.WithStandardStyle(m.cfg.GlamourStyle)
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width-2))
	if err != nil {
		log.Warn().Err(err).Str("component", "ui").Msg("markdown renderer unavailable, falling back to plain text")
		return nil
	}
	return r
}

func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderTranscript())
	if atBottom || m.state.IsStreaming || m.state.IsLoading {
		m.viewport.GotoBottom()
	}
}
