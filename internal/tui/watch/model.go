package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/aobridge/internal/journal"
)

// Source is the journal as seen by the TUI. Implemented by *journal.Journal.
type Source interface {
	List(ctx context.Context, f journal.Filter) ([]*journal.Entry, error)
}

type refreshMsg struct {
	entries []*journal.Entry
	err     error
	at      time.Time
}

type tickMsg time.Time

// Model polls the journal every interval and renders the newest entries.
type Model struct {
	ctx      context.Context
	source   Source
	filter   journal.Filter
	interval time.Duration

	width  int
	height int

	entries     []*journal.Entry
	table       table.Model
	detail      viewport.Model
	spinner     spinner.Model
	loading     bool
	lastRefresh time.Time
	lastError   string

	theme Theme
}

// New creates a watch model. A zero interval means two seconds.
func New(ctx context.Context, source Source, filter journal.Filter, interval time.Duration) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Invocation", Width: 36},
			{Title: "Command", Width: 13},
			{Title: "Status", Width: 10},
			{Title: "Process", Width: 14},
			{Title: "Duration", Width: 9},
			{Title: "Started", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	return Model{
		ctx:      ctx,
		source:   source,
		filter:   filter,
		interval: interval,
		table:    t,
		detail:   viewport.New(80, 6),
		spinner:  sp,
		loading:  true,
		theme:    NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetch())
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		entries, err := m.source.List(m.ctx, m.filter)
		return refreshMsg{entries: entries, err: err, at: time.Now()}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			if m.loading {
				return m, nil
			}
			m.loading = true
			return m, m.fetch()
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		m.detail.SetContent(m.describeSelected())
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(msg.Height/2-4, 3))
		m.detail.Width = max(msg.Width-6, 20)
		m.detail.Height = max(msg.Height/3, 3)

	case refreshMsg:
		m.loading = false
		m.lastRefresh = msg.at
		if msg.err != nil {
			m.lastError = msg.err.Error()
		} else {
			m.lastError = ""
			m.entries = msg.entries
			m.table.SetRows(m.rows())
			if m.table.Cursor() >= len(m.entries) {
				m.table.SetCursor(max(len(m.entries)-1, 0))
			}
			m.detail.SetContent(m.describeSelected())
		}
		return m, tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case tickMsg:
		m.loading = true
		return m, m.fetch()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) rows() []table.Row {
	rows := make([]table.Row, 0, len(m.entries))
	for _, e := range m.entries {
		rows = append(rows, table.Row{
			e.ID,
			string(e.Command),
			string(e.Status),
			shorten(e.ProcessID, 14),
			e.Duration.Round(time.Millisecond).String(),
			e.StartedAt.Local().Format(time.TimeOnly),
		})
	}
	return rows
}

// Selected returns the highlighted entry, or nil when the journal is empty.
func (m Model) Selected() *journal.Entry {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.entries) {
		return nil
	}
	return m.entries[i]
}

func (m Model) describeSelected() string {
	e := m.Selected()
	if e == nil {
		return m.theme.Dim.Render("No invocations recorded.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  %s\n", e.ID, e.Command, m.statusStyle(e.Status).Render(string(e.Status)))
	if e.ProcessID != "" {
		fmt.Fprintf(&b, "process: %s\n", e.ProcessID)
	}
	if e.Kind != "" {
		fmt.Fprintf(&b, "kind:    %s\n", e.Kind)
	}
	if e.LastError != nil {
		fmt.Fprintf(&b, "error:   %s\n", *e.LastError)
	}
	fmt.Fprintf(&b, "exit:    %d\n", e.ExitCode)
	if e.Stderr != nil && *e.Stderr != "" {
		b.WriteString("stderr:\n")
		b.WriteString(strings.TrimRight(*e.Stderr, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) statusStyle(s journal.Status) lipgloss.Style {
	switch s {
	case journal.StatusSucceeded:
		return m.theme.StatusOK
	case journal.StatusTimedOut, journal.StatusCancelled:
		return m.theme.StatusWarn
	default:
		return m.theme.StatusFailed
	}
}

func (m Model) View() string {
	title := m.theme.Title.Render("aobridge invocations")

	var status string
	switch {
	case m.loading:
		status = m.spinner.View() + " refreshing"
	case !m.lastRefresh.IsZero():
		status = m.theme.Dim.Render(fmt.Sprintf("%d entries, updated %s", len(m.entries), m.lastRefresh.Format(time.TimeOnly)))
	}

	parts := []string{
		lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", status),
		m.theme.Border.Render(m.table.View()),
		m.theme.Border.Render(m.detail.View()),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Select • [r] Refresh"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
