package chatsession

import (
	"context"
	"time"

	"github.com/vrin-ai/vrin-chat/pkg/chatapi"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DefaultSessionKey is the key-value store key holding the active session id.
const DefaultSessionKey = "vrin_session_id"

type Session struct {
	ID               string    `json:"session_id"`
	ConversationTurn int       `json:"conversation_turn"`
	CreatedAt        time.Time `json:"created_at"`
	LastActivity     time.Time `json:"last_activity"`
}

// Message is one entry of the conversation. Messages are immutable once
// appended; partial assistant text lives in State.StreamingContent until the
// turn completes.
type Message struct {
	ID               string           `json:"id"`
	Role             Role             `json:"role"`
	Content          string           `json:"content"`
	Timestamp        time.Time        `json:"timestamp"`
	Sources          []chatapi.Source `json:"sources,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	ExpertAnalysis   any              `json:"expert_analysis,omitempty"`
	ReasoningSummary string           `json:"reasoning_summary,omitempty"`
}

type SendOptions struct {
	// Mode is the backend response mode, e.g. "chat" or "expert".
	Mode      string
	Streaming bool
	// WebSearch is omitted from the request when nil.
	WebSearch *bool
}

// State is a point-in-time copy of everything a UI needs to render the chat.
type State struct {
	Session          *Session  `json:"session,omitempty"`
	Messages         []Message `json:"messages"`
	StreamingContent string    `json:"streaming_content,omitempty"`
	IsLoading        bool      `json:"is_loading"`
	IsStreaming      bool      `json:"is_streaming"`
	Error            string    `json:"error,omitempty"`
}

// API is the backend the client talks to. *chatapi.Client implements it.
type API interface {
	StartConversation(ctx context.Context, apiKey string) (string, error)
	SendMessage(ctx context.Context, apiKey string, req chatapi.SendRequest) (*chatapi.SendResponse, error)
	SendMessageStreaming(ctx context.Context, apiKey string, req chatapi.SendRequest) (<-chan chatapi.Event, error)
	EndConversation(ctx context.Context, apiKey string, sessionID string) error
}

var _ API = (*chatapi.Client)(nil)

// Observer receives a State after every change. Calls are serialized. An
// observer must not call mutating Client methods synchronously.
type Observer interface {
	OnStateChange(State)
}

type ObserverFunc func(State)

func (f ObserverFunc) OnStateChange(s State) { f(s) }

// TurnRecorder is told about every completed turn, e.g. to keep a local
// transcript.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, session Session, user Message, assistant Message) error
}

func countUserMessages(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}
