package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vrin-ai/vrin-chat/pkg/chatsession"
)

// StreamPrinter is an observer that writes assistant text to w as it becomes
// visible: streamed text incrementally, completed replies in full, followed
// by their sources.
type StreamPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	errw    io.Writer
	seen    int
	printed string
	lastErr string
}

// NewStreamPrinter starts printing after the messages already in initial.
func NewStreamPrinter(w io.Writer, initial chatsession.State) *StreamPrinter {
	return &StreamPrinter{w: w, seen: len(initial.Messages), lastErr: initial.Error}
}

// WithErrors also reports new session errors to w.
func (p *StreamPrinter) WithErrors(w io.Writer) *StreamPrinter {
	p.errw = w
	return p
}

func (p *StreamPrinter) OnStateChange(s chatsession.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.IsStreaming && strings.HasPrefix(s.StreamingContent, p.printed) {
		_, _ = io.WriteString(p.w, s.StreamingContent[len(p.printed):])
		p.printed = s.StreamingContent
	}

	if len(s.Messages) < p.seen {
		// rollback or reset
		p.endLine()
		p.seen = len(s.Messages)
	}
	for _, msg := range s.Messages[p.seen:] {
		if msg.Role != chatsession.RoleAssistant {
			continue
		}
		if strings.HasPrefix(msg.Content, p.printed) {
			_, _ = io.WriteString(p.w, msg.Content[len(p.printed):])
		} else {
			p.endLine()
			_, _ = io.WriteString(p.w, msg.Content)
		}
		_, _ = io.WriteString(p.w, "\n")
		if src := renderSources(msg.Sources); src != "" {
			_, _ = fmt.Fprintln(p.w, src)
		}
		p.printed = ""
	}
	p.seen = len(s.Messages)

	if s.IsLoading && !s.IsStreaming && s.StreamingContent == "" && p.printed != "" {
		// stream abandoned for a retry; the retried reply starts on a fresh line
		p.endLine()
	}
	if !s.IsStreaming && !s.IsLoading && p.printed != "" {
		// cancelled mid-stream
		p.endLine()
	}
	if p.errw != nil && s.Error != "" && s.Error != p.lastErr {
		_, _ = fmt.Fprintf(p.errw, "error: %s\n", s.Error)
	}
	p.lastErr = s.Error
}

func (p *StreamPrinter) endLine() {
	if p.printed != "" {
		_, _ = io.WriteString(p.w, "\n")
	}
	p.printed = ""
}
