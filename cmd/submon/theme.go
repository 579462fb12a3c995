package main

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Theme defines the colours used by the dashboard and coloured tables.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Muted     lipgloss.Color
}

// DefaultTheme returns the default theme.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("12"),  // Blue
		Secondary: lipgloss.Color("14"),  // Cyan
		Success:   lipgloss.Color("10"),  // Green
		Warning:   lipgloss.Color("11"),  // Yellow
		Error:     lipgloss.Color("9"),   // Red
		Muted:     lipgloss.Color("240"), // Gray
	}
}

// Styles are the pre-built dashboard styles.
type Styles struct {
	Title   lipgloss.Style
	Section lipgloss.Style
	Online  lipgloss.Style
	Offline lipgloss.Style
	Muted   lipgloss.Style
	Box     lipgloss.Style
	Focused lipgloss.Style
}

// NewStyles derives dashboard styles from theme.
func NewStyles(theme Theme) Styles {
	box := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(theme.Muted)
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(theme.Primary),
		Section: lipgloss.NewStyle().Bold(true).Foreground(theme.Secondary),
		Online:  lipgloss.NewStyle().Foreground(theme.Success),
		Offline: lipgloss.NewStyle().Foreground(theme.Error),
		Muted:   lipgloss.NewStyle().Foreground(theme.Muted),
		Box:     box,
		Focused: box.BorderForeground(theme.Primary),
	}
}

// tableStyles returns bubbles table styles in the theme's colours.
func tableStyles(theme Theme) table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.Muted).
		BorderBottom(true).
		Bold(true).
		Foreground(theme.Primary)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(theme.Primary).
		Bold(false)
	return s
}
