package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/aobridge/internal/journal"
	"github.com/mattjoyce/aobridge/internal/protocol"
)

// theme keeps CLI colors in one place. lipgloss drops styling when stdout
// is not a terminal, so piped output stays plain.
type theme struct {
	OK      lipgloss.Style
	Failed  lipgloss.Style
	Warn    lipgloss.Style
	Header  lipgloss.Style
	Dim     lipgloss.Style
	Current lipgloss.Style
}

var styles = theme{
	OK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
	Failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
	Warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
	Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
	Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	Current: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
}

func (t theme) status(s journal.Status) string {
	switch s {
	case journal.StatusSucceeded:
		return t.OK.Render(string(s))
	case journal.StatusTimedOut, journal.StatusCancelled:
		return t.Warn.Render(string(s))
	default:
		return t.Failed.Render(string(s))
	}
}

// table renders rows in aligned columns. Widths are measured with lipgloss so
// styled cells line up.
func table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	line := func(cells []string, style *lipgloss.Style) {
		for i, cell := range cells {
			pad := widths[i] - lipgloss.Width(cell)
			if style != nil {
				cell = style.Render(cell)
			}
			b.WriteString(cell)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", pad+2))
			}
		}
		b.WriteString("\n")
	}
	line(header, &styles.Header)
	for _, row := range rows {
		line(row, nil)
	}
	return b.String()
}

// reportFailure prints a failed Result and returns the exit code.
func reportFailure(res *protocol.Result) int {
	fmt.Fprintf(os.Stderr, "%s [%s] %s\n", styles.Failed.Render("error"), res.Kind, res.Error)
	if res.Raw != "" {
		fmt.Fprintf(os.Stderr, "%s\n%s\n", styles.Dim.Render("raw worker output:"), res.Raw)
	}
	return 1
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
