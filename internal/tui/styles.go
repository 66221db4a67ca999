package tui

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title        lipgloss.Style
	user         lipgloss.Style
	collector    lipgloss.Style
	rule         lipgloss.Style
	interim      lipgloss.Style
	status       lipgloss.Style
	button       lipgloss.Style
	buttonActive lipgloss.Style
	disabled     lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:        lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")),
		user:         lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		collector:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		rule:         lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		interim:      lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245")),
		status:       lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		button:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		buttonActive: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		disabled:     lipgloss.NewStyle().Faint(true),
	}
}
