package chatapi

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

type EventType string

var errUnknownEvent = errors.New("unknown stream event")

const (
	EventMetadata  EventType = "metadata"
	EventContent   EventType = "content"
	EventReasoning EventType = "reasoning"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is one element of a streamed reply. The concrete types are
// MetadataEvent, ContentEvent, ReasoningEvent, DoneEvent and ErrorEvent.
type Event interface {
	Type() EventType
}

type MetadataEvent struct {
	Sources           []Source
	Metadata          map[string]any
	ExpertAnalysis    any
	ReasoningMetadata map[string]any
}

type ContentEvent struct {
	Delta string
}

type ReasoningEvent struct {
	Summary string
}

type DoneEvent struct {
	SessionID        string
	ConversationTurn int
	Usage            Usage
	Metadata         map[string]any
}

type ErrorEvent struct {
	Message    string
	StatusCode int
}

func (MetadataEvent) Type() EventType  { return EventMetadata }
func (ContentEvent) Type() EventType   { return EventContent }
func (ReasoningEvent) Type() EventType { return EventReasoning }
func (DoneEvent) Type() EventType      { return EventDone }
func (ErrorEvent) Type() EventType     { return EventError }

// Err converts the event into an *APIError so callers can classify it with
// IsSessionExpired like any other backend failure.
func (e ErrorEvent) Err() error {
	msg := e.Message
	if msg == "" {
		msg = "stream error"
	}
	return &APIError{StatusCode: e.StatusCode, Message: msg}
}

type wireEvent struct {
	Type              string          `json:"type"`
	Content           string          `json:"content"`
	Delta             string          `json:"delta"`
	Summary           string          `json:"summary"`
	Sources           []Source        `json:"sources"`
	Metadata          map[string]any  `json:"metadata"`
	ExpertAnalysis    json.RawMessage `json:"expert_analysis"`
	ReasoningMetadata map[string]any  `json:"reasoning_metadata"`
	SessionID         string          `json:"session_id"`
	ConversationTurn  int             `json:"conversation_turn"`
	Usage             *Usage          `json:"usage"`
	Error             string          `json:"error"`
	Message           string          `json:"message"`
	Status            int             `json:"status"`
}

// decodeEvent turns one SSE data payload into a typed Event. eventName is the
// SSE "event:" field and takes precedence over the payload's "type".
func decodeEvent(eventName string, data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Wrap(err, "decode stream event")
	}
	typ := strings.ToLower(strings.TrimSpace(eventName))
	if typ == "" || typ == "message" {
		typ = strings.ToLower(strings.TrimSpace(w.Type))
	}

	switch EventType(typ) {
	case EventMetadata:
		ev := MetadataEvent{
			Sources:           w.Sources,
			Metadata:          w.Metadata,
			ReasoningMetadata: w.ReasoningMetadata,
		}
		if len(w.ExpertAnalysis) > 0 && string(w.ExpertAnalysis) != "null" {
			var v any
			if err := json.Unmarshal(w.ExpertAnalysis, &v); err != nil {
				return nil, errors.Wrap(err, "decode expert analysis")
			}
			ev.ExpertAnalysis = v
		}
		return ev, nil
	case EventContent:
		delta := w.Content
		if delta == "" {
			delta = w.Delta
		}
		return ContentEvent{Delta: delta}, nil
	case EventReasoning:
		summary := w.Summary
		if summary == "" {
			summary = w.Content
		}
		return ReasoningEvent{Summary: summary}, nil
	case EventDone:
		ev := DoneEvent{
			SessionID:        w.SessionID,
			ConversationTurn: w.ConversationTurn,
			Metadata:         w.Metadata,
		}
		if w.Usage != nil {
			ev.Usage = *w.Usage
		}
		return ev, nil
	case EventError:
		msg := w.Error
		if msg == "" {
			msg = w.Message
		}
		return ErrorEvent{Message: msg, StatusCode: w.Status}, nil
	default:
		return nil, errors.Wrapf(errUnknownEvent, "type %q", typ)
	}
}
