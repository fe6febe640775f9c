package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "https://api.vrin.cloud"

	pathStart  = "/chat/start"
	pathSend   = "/chat"
	pathStream = "/chat/stream"
	pathEnd    = "/chat/end"

	streamBuffer = 16
)

// Client talks to the VRIN chat backend over HTTP. Streamed replies are
// read as server-sent events.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "chat api: parse base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("chat api: unsupported base url scheme %q", u.Scheme)
	}
	c := &Client{
		baseURL:   baseURL,
		http:      &http.Client{},
		userAgent: "vrin-chat",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) StartConversation(ctx context.Context, apiKey string) (string, error) {
	var out startResponse
	if err := c.doJSON(ctx, apiKey, pathStart, struct{}{}, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", errors.New("chat api: start conversation returned no session_id")
	}
	return out.SessionID, nil
}

func (c *Client) SendMessage(ctx context.Context, apiKey string, req SendRequest) (*SendResponse, error) {
	out := &SendResponse{}
	if err := c.doJSON(ctx, apiKey, pathSend, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) EndConversation(ctx context.Context, apiKey string, sessionID string) error {
	if sessionID == "" {
		return errors.New("chat api: end conversation without session id")
	}
	return c.doJSON(ctx, apiKey, pathEnd, endRequest{SessionID: sessionID}, nil)
}

// SendMessageStreaming opens a streamed send. HTTP-level failures are returned
// directly; once the stream is open, failures arrive as an ErrorEvent. The
// returned channel is closed after the terminal event, at end of body, or
// when ctx is done.
func (c *Client) SendMessageStreaming(ctx context.Context, apiKey string, req SendRequest) (<-chan Event, error) {
	httpReq, err := c.newRequest(ctx, apiKey, pathStream, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "chat api: stream request")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		return nil, errorFromResponse(resp)
	}

	ch := make(chan Event, streamBuffer)
	go c.pump(ctx, resp.Body, ch)
	return ch, nil
}

func (c *Client) pump(ctx context.Context, body io.ReadCloser, ch chan<- Event) {
	defer close(ch)
	defer func() { _ = body.Close() }()

	emit := func(ev Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	r := newSSEReader(body)
	for {
		frame, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return
			}
			emit(ErrorEvent{Message: "stream read failed: " + err.Error()})
			return
		}
		if strings.TrimSpace(string(frame.Data)) == "[DONE]" {
			return
		}
		ev, err := decodeEvent(frame.Event, frame.Data)
		if err != nil {
			if errors.Is(err, errUnknownEvent) {
				log.Debug().Str("component", "chatapi").Err(err).Msg("skipping stream event")
				continue
			}
			emit(ErrorEvent{Message: err.Error()})
			return
		}
		if !emit(ev) {
			return
		}
		switch ev.Type() {
		case EventDone, EventError:
			return
		}
	}
}

func (c *Client) doJSON(ctx context.Context, apiKey string, path string, in any, out any) error {
	req, err := c.newRequest(ctx, apiKey, path, in)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "chat api: %s", path)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "chat api: decode %s response", path)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, apiKey string, path string, in any) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	body, err := json.Marshal(in)
	if err != nil {
		return nil, errors.Wrap(err, "chat api: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "chat api: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}
