package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Styles holds the CLI output styles. Colors are dropped automatically when
// the writer is not a terminal.
type Styles struct {
	Response lipgloss.Style
	Thinking lipgloss.Style
	Tool     lipgloss.Style
	Status   lipgloss.Style
	Error    lipgloss.Style

	Label     lipgloss.Style
	Muted     lipgloss.Style
	Connected lipgloss.Style
	Offline   lipgloss.Style
	EventName lipgloss.Style
}

// NewStyles creates the style set for output written to w
func NewStyles(w io.Writer) Styles {
	r := lipgloss.NewRenderer(w)
	return Styles{
		Response: r.NewStyle().
			Foreground(lipgloss.Color("252")),
		Thinking: r.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true),
		Tool: r.NewStyle().
			Foreground(lipgloss.Color("81")),
		Status: r.NewStyle().
			Foreground(lipgloss.Color("245")),
		Error: r.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		Label: r.NewStyle().
			Foreground(lipgloss.Color("213")).
			Bold(true),
		Muted: r.NewStyle().
			Foreground(lipgloss.Color("241")),
		Connected: r.NewStyle().
			Foreground(lipgloss.Color("76")).
			Bold(true),
		Offline: r.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
		EventName: r.NewStyle().
			Foreground(lipgloss.Color("75")),
	}
}
