// Package watch is the `aobridge invocation watch` TUI: a live table of the
// invocation journal with the selected entry's error and stderr below it.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme keeps the watch colors in one place.
type Theme struct {
	StatusOK     lipgloss.Style
	StatusWarn   lipgloss.Style
	StatusFailed lipgloss.Style

	Border lipgloss.Style
	Title  lipgloss.Style
	Dim    lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")
	return Theme{
		StatusOK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusWarn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Border:       lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(purple),
		Title:        lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(purple).Padding(0, 1),
		Dim:          lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}
