// Package tui provides the interactive prompt for answering pending
// human-decision requests during a run.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/foremanhq/foreman/internal/ask"
)

var (
	questionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	contextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	optionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	deadlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// AskPrompt is a bubbletea model that collects the answer to one pending
// ask. Enter submits; esc or ctrl+c dismisses without answering, leaving
// the ask to time out.
type AskPrompt struct {
	pending   ask.PendingAsk
	input     textinput.Model
	answer    string
	submitted bool
}

// NewAskPrompt creates a prompt for the given pending ask.
func NewAskPrompt(pending ask.PendingAsk) *AskPrompt {
	ti := textinput.New()
	if len(pending.Options) > 0 {
		ti.Placeholder = fmt.Sprintf("1-%d or option name", len(pending.Options))
	} else {
		ti.Placeholder = "Type an answer and press Enter..."
	}
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 60

	return &AskPrompt{
		pending: pending,
		input:   ti,
	}
}

// Init implements tea.Model.
func (p *AskPrompt) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (p *AskPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			text := strings.TrimSpace(p.input.Value())
			if text != "" {
				p.answer = text
				p.submitted = true
				return p, tea.Quit
			}
		case "esc", "ctrl+c":
			return p, tea.Quit
		}
	}

	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return p, cmd
}

// View implements tea.Model.
func (p *AskPrompt) View() string {
	var b strings.Builder

	b.WriteString(questionStyle.Render(p.pending.Question))
	b.WriteString("\n")

	if p.pending.Context != "" {
		b.WriteString(contextStyle.Render(p.pending.Context))
		b.WriteString("\n")
	}
	for i, opt := range p.pending.Options {
		b.WriteString(optionStyle.Render(fmt.Sprintf("  %d. %s", i+1, opt)))
		b.WriteString("\n")
	}

	remaining := time.Until(p.pending.ExpiresAt).Round(time.Second)
	if remaining > 0 {
		b.WriteString(deadlineStyle.Render(fmt.Sprintf("times out in %s", remaining)))
		b.WriteString("\n")
	}

	b.WriteString(boxStyle.Render(p.input.View()))
	b.WriteString("\n")
	return b.String()
}

// Answer returns the submitted answer. ok is false when the prompt was
// dismissed without one.
func (p *AskPrompt) Answer() (string, bool) {
	return p.answer, p.submitted
}

// PromptForAnswer runs the prompt as a standalone program and returns
// the answer the user typed. ok is false when the user dismissed it.
func PromptForAnswer(pending ask.PendingAsk) (string, bool, error) {
	model := NewAskPrompt(pending)
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return "", false, fmt.Errorf("run ask prompt: %w", err)
	}
	answer, ok := final.(*AskPrompt).Answer()
	return answer, ok, nil
}
