package main

import "github.com/charmbracelet/lipgloss"

// Theme is the CLI palette.
type Theme struct {
	Primary lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Muted   lipgloss.Color
}

// DefaultTheme returns the palette used by every listing.
func DefaultTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("12"),  // Blue
		Success: lipgloss.Color("10"),  // Green
		Warning: lipgloss.Color("11"),  // Yellow
		Error:   lipgloss.Color("9"),   // Red
		Muted:   lipgloss.Color("240"), // Gray
	}
}

// header renders a table header line.
func (t Theme) header(s string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Render(s)
}

// muted renders secondary text such as timestamps.
func (t Theme) muted(s string) string {
	return lipgloss.NewStyle().Foreground(t.Muted).Render(s)
}

// unread highlights an unread marker or count.
func (t Theme) unread(s string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(t.Warning).Render(s)
}

// score colours a padded trust score by sign.
func (t Theme) score(s string, v int) string {
	switch {
	case v > 0:
		return lipgloss.NewStyle().Foreground(t.Success).Render(s)
	case v < 0:
		return lipgloss.NewStyle().Foreground(t.Error).Render(s)
	default:
		return s
	}
}
