package main

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	styleBanner  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleQuality = map[string]lipgloss.Style{
		"FULL":    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"NONE":    lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		"PARTIAL": lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"FAILED":  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
	}
)

func renderQuality(q string) string {
	if s, ok := styleQuality[q]; ok {
		return s.Render("[" + q + "]")
	}
	return "[" + q + "]"
}

// renderMarkdown renders markdown for the terminal, falling back to the raw
// text.
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(out)
}
