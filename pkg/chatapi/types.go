package chatapi

// Source is a retrieved passage the backend cites in a reply.
type Source struct {
	Content    string   `json:"content"`
	Type       string   `json:"type"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// SendRequest is the payload of both the synchronous and the streamed send.
// An empty SessionID asks the backend to mint a new session.
type SendRequest struct {
	Message          string `json:"message"`
	SessionID        string `json:"session_id,omitempty"`
	IncludeSources   bool   `json:"include_sources"`
	ResponseMode     string `json:"response_mode"`
	WebSearchEnabled *bool  `json:"web_search_enabled,omitempty"`
}

type SendResponse struct {
	SessionID        string         `json:"session_id"`
	ConversationTurn int            `json:"conversation_turn"`
	Message          string         `json:"message"`
	Sources          []Source       `json:"sources,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	ExpertAnalysis   any            `json:"expert_analysis,omitempty"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

type endRequest struct {
	SessionID string `json:"session_id"`
}

// Usage is the token accounting carried by the terminal stream event.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
