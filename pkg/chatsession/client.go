// Package chatsession owns the lifecycle of one chat conversation with the
// VRIN backend: session id persistence, optimistic message dispatch,
// incremental rendering of streamed replies, and cancellation.
package chatsession

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/vrin-ai/vrin-chat/pkg/flush"
	"github.com/vrin-ai/vrin-chat/pkg/kvstore"
)

var (
	ErrMissingAPIKey    = errors.New("API key is required")
	ErrSendInFlight     = errors.New("a message is already being sent")
	ErrStreamIncomplete = errors.New("stream ended before completion")
)

type Client struct {
	api            API
	store          kvstore.Store
	scheduler      flush.Scheduler
	apiKey         string
	sessionKey     string
	includeSources bool
	recorder       TurnRecorder
	metrics        *Metrics
	now            func() time.Time
	newID          func() string

	mu               sync.Mutex
	session          *Session
	messages         []Message
	buffer           strings.Builder
	streamingContent string
	isLoading        bool
	isStreaming      bool
	errMsg           string
	cancel           context.CancelFunc
	inFlight         bool
	// generation changes whenever local state is replaced wholesale so a
	// send that outlives it cannot write into the new conversation.
	generation uint64

	notifyMu  sync.Mutex
	observers []Observer
}

type Option func(*Client)

func WithStore(s kvstore.Store) Option {
	return func(c *Client) {
		if s != nil {
			c.store = s
		}
	}
}

func WithScheduler(s flush.Scheduler) Option {
	return func(c *Client) {
		if s != nil {
			c.scheduler = s
		}
	}
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

func WithSessionKey(key string) Option {
	return func(c *Client) {
		if strings.TrimSpace(key) != "" {
			c.sessionKey = key
		}
	}
}

func WithIncludeSources(v bool) Option {
	return func(c *Client) { c.includeSources = v }
}

func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

func WithRecorder(r TurnRecorder) Option {
	return func(c *Client) { c.recorder = r }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func WithIDGenerator(f func() string) Option {
	return func(c *Client) {
		if f != nil {
			c.newID = f
		}
	}
}

func New(api API, opts ...Option) *Client {
	c := &Client{
		api:            api,
		store:          kvstore.NewMemoryStore(),
		scheduler:      flush.NewTickerScheduler(flush.DefaultInterval),
		sessionKey:     DefaultSessionKey,
		includeSources: true,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddObserver registers o for all subsequent state changes.
func (c *Client) AddObserver(o Observer) {
	if o == nil {
		return
	}
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.observers = append(c.observers, o)
}

// Snapshot returns a copy of the current state.
func (c *Client) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Client) snapshotLocked() State {
	st := State{
		Messages:         append([]Message(nil), c.messages...),
		StreamingContent: c.streamingContent,
		IsLoading:        c.isLoading,
		IsStreaming:      c.isStreaming,
		Error:            c.errMsg,
	}
	if c.session != nil {
		s := *c.session
		st.Session = &s
	}
	return st
}

func (c *Client) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if len(c.observers) == 0 {
		return
	}
	st := c.Snapshot()
	for _, o := range c.observers {
		o.OnStateChange(st)
	}
}

// Restore picks up the session id left in the store by a previous run.
func (c *Client) Restore(ctx context.Context) error {
	id, ok, err := c.store.Get(ctx, c.sessionKey)
	if err != nil {
		return errors.Wrap(err, "restore session")
	}
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return nil
	}
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return nil
	}
	now := c.now()
	c.session = &Session{ID: id, CreatedAt: now, LastActivity: now}
	c.mu.Unlock()
	log.Debug().Str("component", "chatsession").Str("session_id", id).Msg("restored session")
	c.notify()
	return nil
}

// StartNewSession drops the current conversation and asks the backend for a
// fresh session id. On failure the state stays cleared and the error is both
// recorded and returned.
func (c *Client) StartNewSession(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.resetLocked()
	gen := c.generation
	c.errMsg = ""
	if c.apiKey == "" {
		c.errMsg = ErrMissingAPIKey.Error()
	} else {
		c.isLoading = true
	}
	apiKey := c.apiKey
	c.mu.Unlock()
	c.teardown(cancel)
	c.removePersisted(ctx)
	c.notify()

	if apiKey == "" {
		return ErrMissingAPIKey
	}

	id, err := c.api.StartConversation(ctx, apiKey)

	c.mu.Lock()
	if c.generation != gen {
		// superseded by another reset while waiting
		c.mu.Unlock()
		return err
	}
	c.isLoading = false
	if err != nil {
		c.errMsg = err.Error()
		c.mu.Unlock()
		log.Warn().Err(err).Str("component", "chatsession").Msg("start conversation failed")
		c.notify()
		return err
	}
	now := c.now()
	c.session = &Session{ID: id, CreatedAt: now, LastActivity: now}
	c.mu.Unlock()

	c.metrics.sessionStarted()
	c.persist(ctx, id)
	log.Info().Str("component", "chatsession").Str("session_id", id).Msg("session started")
	c.notify()
	return nil
}

// EndSession tells the backend the session is over and clears local state.
// Backend and storage failures are logged only.
func (c *Client) EndSession(ctx context.Context) {
	c.mu.Lock()
	var id string
	if c.session != nil {
		id = c.session.ID
	}
	apiKey := c.apiKey
	c.mu.Unlock()

	c.CancelStreaming()
	if id != "" && apiKey != "" {
		if err := c.api.EndConversation(ctx, apiKey, id); err != nil {
			log.Warn().Err(err).Str("component", "chatsession").Str("session_id", id).Msg("end conversation failed")
		}
	}

	c.mu.Lock()
	cancel := c.resetLocked()
	c.mu.Unlock()
	c.teardown(cancel)
	c.removePersisted(ctx)
	if id != "" {
		log.Info().Str("component", "chatsession").Str("session_id", id).Msg("session ended")
	}
	c.notify()
}

// LoadMessages replaces the conversation with an externally supplied
// transcript. The turn counter is the number of user messages.
func (c *Client) LoadMessages(ctx context.Context, sessionID string, messages []Message) {
	sessionID = strings.TrimSpace(sessionID)

	c.mu.Lock()
	cancel := c.resetLocked()
	c.errMsg = ""
	c.messages = append([]Message(nil), messages...)
	if sessionID != "" {
		now := c.now()
		c.session = &Session{
			ID:               sessionID,
			ConversationTurn: countUserMessages(messages),
			CreatedAt:        now,
			LastActivity:     now,
		}
	}
	c.mu.Unlock()
	c.teardown(cancel)

	if sessionID != "" {
		c.persist(ctx, sessionID)
	} else {
		c.removePersisted(ctx)
	}
	c.notify()
}

// CancelStreaming aborts the in-flight send, if any.
func (c *Client) CancelStreaming() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) ClearError() {
	c.mu.Lock()
	changed := c.errMsg != ""
	c.errMsg = ""
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// resetLocked clears session, messages and transient state and invalidates
// any in-flight send. The returned cancel func must be passed to teardown
// once c.mu is released.
func (c *Client) resetLocked() context.CancelFunc {
	c.generation++
	c.session = nil
	c.messages = nil
	c.resetTransientLocked()
	return c.cancel
}

func (c *Client) resetTransientLocked() {
	c.buffer.Reset()
	c.streamingContent = ""
	c.isLoading = false
	c.isStreaming = false
}

// teardown must be called without c.mu held: CancelFlush waits for a running
// flush, which itself takes c.mu.
func (c *Client) teardown(cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	c.scheduler.CancelFlush()
}

func (c *Client) persist(ctx context.Context, id string) {
	if err := c.store.Set(ctx, c.sessionKey, id); err != nil {
		log.Warn().Err(err).Str("component", "chatsession").Str("session_id", id).Msg("persist session id failed")
	}
}

func (c *Client) removePersisted(ctx context.Context) {
	if err := c.store.Remove(ctx, c.sessionKey); err != nil {
		log.Warn().Err(err).Str("component", "chatsession").Msg("remove persisted session id failed")
	}
}
