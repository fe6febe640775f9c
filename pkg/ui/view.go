package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vrin-ai/vrin-chat/pkg/chatapi"
	"github.com/vrin-ai/vrin-chat/pkg/chatsession"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	helperStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	reasoningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Faint(true)
	inputStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
)

const maxReasoningLines = 3

const helpLine = "enter send • esc cancel • ctrl+n new session • ctrl+e end session • ctrl+l clear error • ctrl+y copy reply • ctrl+c quit"

func (m *Model) View() string {
	parts := []string{m.headerView(), m.viewport.View()}
	if m.state.Error != "" {
		parts = append(parts, errorStyle.Render("Error: "+m.state.Error))
	}
	switch {
	case m.state.IsLoading:
		parts = append(parts, helperStyle.Render(m.spinner.View()+" Thinking…"))
	case m.status != "":
		parts = append(parts, helperStyle.Render(m.status))
	}
	parts = append(parts, inputStyle.Render(m.input.View()), helperStyle.Render(helpLine))
	return joinNonEmpty(parts)
}

func (m *Model) headerView() string {
	header := titleStyle.Render("VRIN chat")
	if s := m.state.Session; s != nil {
		header += helperStyle.Render(fmt.Sprintf("  session %s · turn %d", shortID(s.ID), s.ConversationTurn))
	} else {
		header += helperStyle.Render("  no session")
	}
	return header
}

func (m *Model) renderTranscript() string {
	if len(m.state.Messages) == 0 && m.state.StreamingContent == "" {
		return helperStyle.Render("Start typing to begin a conversation.")
	}
	var b strings.Builder
	for _, msg := range m.state.Messages {
		switch msg.Role {
		case chatsession.RoleUser:
			b.WriteString(userStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(msg.Content)
			b.WriteString("\n\n")
		default:
			b.WriteString(assistantStyle.Render("VRIN"))
			b.WriteString("\n")
			b.WriteString(m.renderMarkdown(msg))
			if r := renderReasoning(msg.ReasoningSummary); r != "" {
				b.WriteString(reasoningStyle.Render(r))
				b.WriteString("\n")
			}
			if src := renderSources(msg.Sources); src != "" {
				b.WriteString(sourceStyle.Render(src))
				b.WriteString("\n")
			}
			b.WriteString("\n")
		}
	}
	if m.state.IsStreaming {
		b.WriteString(assistantStyle.Render("VRIN"))
		b.WriteString("\n")
		b.WriteString(m.state.StreamingContent)
		b.WriteString("▌\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderMarkdown caches by message id; messages never change once appended.
func (m *Model) renderMarkdown(msg chatsession.Message) string {
	if out, ok := m.rendered[msg.ID]; ok {
		return out
	}
	out := msg.Content + "\n"
	if m.renderer != nil {
		if r, err := m.renderer.Render(msg.Content); err == nil {
			out = strings.TrimLeft(r, "\n")
		}
	}
	m.rendered[msg.ID] = out
	return out
}

func renderSources(sources []chatapi.Source) string {
	if len(sources) == 0 {
		return ""
	}
	lines := make([]string, 0, len(sources)+1)
	lines = append(lines, fmt.Sprintf("Sources (%d):", len(sources)))
	for i, s := range sources {
		line := fmt.Sprintf("  [%d] %s", i+1, truncate(oneLine(s.Content), 80))
		if s.Confidence != nil {
			line += fmt.Sprintf(" (%.0f%%)", *s.Confidence*100)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// renderReasoning shows at most the first few lines of the summary.
func renderReasoning(summary string) string {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return ""
	}
	lines := strings.Split(summary, "\n")
	if len(lines) > maxReasoningLines {
		lines = append(lines[:maxReasoningLines], "…")
	}
	return "Reasoning: " + strings.Join(lines, "\n  ")
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12] + "…"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func joinNonEmpty(parts []string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
