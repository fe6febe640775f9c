package chatsession

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vrin-ai/vrin-chat/pkg/chatapi"
)

// turnResult is a completed assistant reply waiting to be applied.
type turnResult struct {
	assistant Message
	sessionID string
	turn      int
	usage     chatapi.Usage
}

// SendMessage sends text as the next user turn.
//
// Empty text is ignored. The user message is appended before any network
// call. On success the assistant reply is appended and the session is
// reconciled with the backend's. Cancellation (CancelStreaming or ctx) keeps
// the user message and returns nil. Any other failure removes the user
// message, records the error and returns it. A backend report that the
// session expired triggers one retry without a session id.
func (c *Client) SendMessage(ctx context.Context, text string, opts SendOptions) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.apiKey == "" {
		c.errMsg = ErrMissingAPIKey.Error()
		c.mu.Unlock()
		c.notify()
		return ErrMissingAPIKey
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.inFlight = true
	c.cancel = cancel
	gen := c.generation
	user := Message{
		ID:        c.newID(),
		Role:      RoleUser,
		Content:   text,
		Timestamp: c.now(),
	}
	c.messages = append(c.messages, user)
	c.errMsg = ""
	c.resetTransientLocked()
	c.isLoading = true
	req := chatapi.SendRequest{
		Message:          text,
		IncludeSources:   c.includeSources,
		ResponseMode:     opts.Mode,
		WebSearchEnabled: opts.WebSearch,
	}
	if c.session != nil {
		req.SessionID = c.session.ID
	}
	c.mu.Unlock()
	c.notify()

	res, err := c.attempt(callCtx, gen, req, opts.Streaming)
	if err != nil && req.SessionID != "" && callCtx.Err() == nil && chatapi.IsSessionExpired(err) {
		log.Info().Str("component", "chatsession").Str("session_id", req.SessionID).Msg("session expired, retrying without session id")
		c.metrics.expiryRetry()
		c.dropExpiredSession(callCtx, gen)
		req.SessionID = ""
		res, err = c.attempt(callCtx, gen, req, opts.Streaming)
	}

	return c.finish(ctx, callCtx, gen, user, res, err, opts.Streaming)
}

func (c *Client) attempt(ctx context.Context, gen uint64, req chatapi.SendRequest, streaming bool) (*turnResult, error) {
	if streaming {
		return c.stream(ctx, gen, req)
	}
	resp, err := c.api.SendMessage(ctx, c.apiKey, req)
	if err != nil {
		return nil, err
	}
	return &turnResult{
		assistant: Message{
			ID:             c.newID(),
			Role:           RoleAssistant,
			Content:        resp.Message,
			Timestamp:      c.now(),
			Sources:        resp.Sources,
			Metadata:       resp.Metadata,
			ExpertAnalysis: resp.ExpertAnalysis,
		},
		sessionID: resp.SessionID,
		turn:      resp.ConversationTurn,
	}, nil
}

// dropExpiredSession forgets the stale session locally and in the store and
// returns the transient state to its pre-stream shape for the retry.
func (c *Client) dropExpiredSession(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.session = nil
	c.resetTransientLocked()
	c.isLoading = true
	c.mu.Unlock()
	c.scheduler.CancelFlush()
	c.removePersisted(ctx)
	c.notify()
}

func (c *Client) finish(
	ctx context.Context,
	callCtx context.Context,
	gen uint64,
	user Message,
	res *turnResult,
	err error,
	streaming bool,
) error {
	c.scheduler.CancelFlush()

	c.mu.Lock()
	c.inFlight = false
	c.cancel = nil
	stale := c.generation != gen

	switch {
	case err == nil && res != nil:
		if stale {
			c.mu.Unlock()
			return nil
		}
		c.messages = append(c.messages, res.assistant)
		created := c.reconcileLocked(res.sessionID, res.turn)
		var session Session
		if c.session != nil {
			session = *c.session
		}
		c.resetTransientLocked()
		c.mu.Unlock()

		c.metrics.send(streaming, outcomeOK)
		if created {
			c.persist(ctx, session.ID)
		}
		if c.recorder != nil && session.ID != "" {
			if rerr := c.recorder.RecordTurn(ctx, session, user, res.assistant); rerr != nil {
				log.Warn().Err(rerr).Str("component", "chatsession").Str("session_id", session.ID).Msg("record turn failed")
			}
		}
		log.Debug().
			Str("component", "chatsession").
			Str("session_id", session.ID).
			Int("turn", session.ConversationTurn).
			Int("total_tokens", res.usage.TotalTokens).
			Msg("turn complete")
		c.notify()
		return nil

	case callCtx.Err() != nil:
		if !stale {
			c.resetTransientLocked()
		}
		c.mu.Unlock()
		c.metrics.send(streaming, outcomeCancelled)
		log.Debug().Str("component", "chatsession").Msg("send cancelled")
		c.notify()
		return nil

	default:
		if err == nil {
			err = ErrStreamIncomplete
		}
		if !stale {
			c.resetTransientLocked()
			c.removeMessageLocked(user.ID)
			c.errMsg = err.Error()
		}
		c.mu.Unlock()
		c.metrics.send(streaming, outcomeError)
		log.Warn().Err(err).Str("component", "chatsession").Msg("send failed")
		c.notify()
		return err
	}
}

// reconcileLocked folds the backend's view of the session into local state
// and reports whether the session id is new.
func (c *Client) reconcileLocked(sessionID string, serverTurn int) bool {
	now := c.now()
	if sessionID == "" {
		if c.session != nil {
			c.session.ConversationTurn++
			c.session.LastActivity = now
		}
		return false
	}
	if c.session == nil || c.session.ID != sessionID {
		turn := serverTurn
		if turn <= 0 {
			turn = 1
		}
		c.session = &Session{ID: sessionID, ConversationTurn: turn, CreatedAt: now, LastActivity: now}
		return true
	}
	c.session.ConversationTurn++
	c.session.LastActivity = now
	return false
}

func (c *Client) removeMessageLocked(id string) {
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages = append(c.messages[:i:i], c.messages[i+1:]...)
			return
		}
	}
}

// stream consumes one streamed reply. Events are handled strictly in arrival
// order on the calling goroutine.
func (c *Client) stream(ctx context.Context, gen uint64, req chatapi.SendRequest) (*turnResult, error) {
	started := time.Now()
	events, err := c.api.SendMessageStreaming(ctx, c.apiKey, req)
	if err != nil {
		return nil, err
	}

	var acc turnAccumulator
	for {
		var ev chatapi.Event
		var ok bool
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok = <-events:
		}
		if !ok {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrStreamIncomplete
		}

		switch e := ev.(type) {
		case chatapi.MetadataEvent:
			acc.addMetadata(e)
		case chatapi.ReasoningEvent:
			acc.addReasoning(e.Summary)
		case chatapi.ContentEvent:
			c.appendDelta(gen, e.Delta, started)
		case chatapi.DoneEvent:
			c.scheduler.CancelFlush()
			c.mu.Lock()
			content := c.buffer.String()
			c.mu.Unlock()
			sessionID := e.SessionID
			if sessionID == "" {
				sessionID = req.SessionID
			}
			return &turnResult{
				assistant: acc.message(c.newID(), content, c.now(), e.Metadata),
				sessionID: sessionID,
				turn:      e.ConversationTurn,
				usage:     e.Usage,
			}, nil
		case chatapi.ErrorEvent:
			return nil, e.Err()
		}
	}
}

func (c *Client) appendDelta(gen uint64, delta string, started time.Time) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.buffer.WriteString(delta)
	first := !c.isStreaming
	if first {
		c.isLoading = false
		c.isStreaming = true
		c.streamingContent = c.buffer.String()
	}
	c.mu.Unlock()

	c.metrics.delta(first, time.Since(started))
	if first {
		c.scheduler.ScheduleFlush(c.flushFunc(gen))
		c.notify()
	}
}

// flushFunc copies the buffer into the visible streaming text.
func (c *Client) flushFunc(gen uint64) func() {
	return func() {
		c.mu.Lock()
		if c.generation != gen || !c.isStreaming {
			c.mu.Unlock()
			return
		}
		next := c.buffer.String()
		changed := next != c.streamingContent
		c.streamingContent = next
		c.mu.Unlock()
		if changed {
			c.notify()
		}
	}
}

// turnAccumulator collects the non-text parts of a streamed reply.
type turnAccumulator struct {
	sources           []chatapi.Source
	metadata          map[string]any
	expertAnalysis    any
	reasoningMetadata map[string]any
	reasoning         strings.Builder
}

func (a *turnAccumulator) addMetadata(e chatapi.MetadataEvent) {
	if e.Sources != nil {
		a.sources = e.Sources
	}
	if e.Metadata != nil {
		a.metadata = mergeMaps(a.metadata, e.Metadata)
	}
	if e.ExpertAnalysis != nil {
		a.expertAnalysis = e.ExpertAnalysis
	}
	if e.ReasoningMetadata != nil {
		a.reasoningMetadata = mergeMaps(a.reasoningMetadata, e.ReasoningMetadata)
	}
}

func (a *turnAccumulator) addReasoning(s string) {
	a.reasoning.WriteString(s)
}

func (a *turnAccumulator) message(id string, content string, ts time.Time, doneMetadata map[string]any) Message {
	md := mergeMaps(a.metadata, doneMetadata)
	if len(a.reasoningMetadata) > 0 {
		md = mergeMaps(md, map[string]any{"reasoning_metadata": a.reasoningMetadata})
	}
	return Message{
		ID:               id,
		Role:             RoleAssistant,
		Content:          content,
		Timestamp:        ts,
		Sources:          a.sources,
		Metadata:         md,
		ExpertAnalysis:   a.expertAnalysis,
		ReasoningSummary: a.reasoning.String(),
	}
}

func mergeMaps(dst map[string]any, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}
