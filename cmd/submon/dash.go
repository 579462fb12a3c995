package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// refreshInterval is the polling fallback when no file event arrives.
const refreshInterval = 2 * time.Second

// newDashCmd creates the "submon dash" subcommand.
func newDashCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "dash",
		Short: "Live dashboard of active and finished workers",
		Long: "Opens a terminal dashboard showing in-flight invocations, recent worker runs\n" +
			"and correlation totals. It refreshes when the data directory changes and\n" +
			"every few seconds. Without a terminal, or with --json, prints one snapshot.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return fmt.Errorf("dash: %w", err)
			}

			if asJSON || !isTerminal(cmd.OutOrStdout()) || !isTerminal(os.Stdin) {
				return writeJSON(cmd.OutOrStdout(), e.fetchDashData(cmd.Context()))
			}

			paths := e.cfg.Paths
			watcher := initWatcher(func(msg string, args ...any) { e.log.Warn(msg, args...) },
				paths.Home, filepath.Dir(paths.DBPath), filepath.Dir(paths.RegistryPath))
			if watcher != nil {
				defer func() { _ = watcher.Close() }()
			}

			m := newDashModel(e.fetchDashData, watcher)
			if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run(); err != nil {
				return fmt.Errorf("dash: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON snapshot and exit")
	return cmd
}

// tickMsg triggers the periodic refresh.
type tickMsg time.Time

// dataMsg carries a completed refresh.
type dataMsg dashData

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// pane identifies the focused table.
type pane int

const (
	activePane pane = iota
	runsPane
)

// dashModel is the Bubble Tea model for submon dash.
type dashModel struct {
	fetch   func(context.Context) dashData
	watcher *fsnotify.Watcher

	data   dashData
	active table.Model
	runs   table.Model
	focus  pane
	theme  Theme
	styles Styles

	width  int
	height int
}

func newDashModel(fetch func(context.Context) dashData, watcher *fsnotify.Watcher) dashModel {
	theme := DefaultTheme()
	ts := tableStyles(theme)

	active := table.New(
		table.WithColumns([]table.Column{
			{Title: "Worker", Width: 20},
			{Title: "Session", Width: 12},
			{Title: "Age", Width: 6},
			{Title: "Description", Width: 40},
		}),
		table.WithHeight(6),
		table.WithFocused(true),
		table.WithStyles(ts),
	)
	runs := table.New(
		table.WithColumns([]table.Column{
			{Title: "Worker", Width: 20},
			{Title: "Conf", Width: 6},
			{Title: "Runtime", Width: 9},
			{Title: "Turns", Width: 6},
			{Title: "C/M/R/D", Width: 13},
			{Title: "Docs", Width: 5},
			{Title: "Detected", Width: 19},
		}),
		table.WithHeight(12),
		table.WithStyles(ts),
	)

	return dashModel{
		fetch:   fetch,
		watcher: watcher,
		active:  active,
		runs:    runs,
		theme:   theme,
		styles:  NewStyles(theme),
	}
}

func (m dashModel) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), refreshInterval)
		defer cancel()
		return dataMsg(m.fetch(ctx))
	}
}

// Init implements tea.Model.
func (m dashModel) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), tickCmd(), waitForChange(m.watcher))
}

// Update implements tea.Model.
func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		case "tab":
			m = m.toggleFocus()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m = m.resize()
		return m, nil

	case dataMsg:
		m.data = dashData(msg)
		m.active.SetRows(activeRows(m.data, m.data.FetchedAt))
		m.runs.SetRows(runRows(m.data))
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), tickCmd())

	case fsChangeMsg:
		return m, tea.Batch(m.fetchCmd(), waitForChange(m.watcher))
	}

	var cmd tea.Cmd
	if m.focus == activePane {
		m.active, cmd = m.active.Update(msg)
	} else {
		m.runs, cmd = m.runs.Update(msg)
	}
	return m, cmd
}

func (m dashModel) toggleFocus() dashModel {
	if m.focus == activePane {
		m.focus = runsPane
		m.active.Blur()
		m.runs.Focus()
	} else {
		m.focus = activePane
		m.runs.Blur()
		m.active.Focus()
	}
	return m
}

// resize splits the available height between the two tables.
func (m dashModel) resize() dashModel {
	// header, two section titles, two borders per box, footer
	avail := m.height - 10
	if avail < 6 {
		avail = 6
	}
	activeH := avail / 3
	if activeH < 3 {
		activeH = 3
	}
	m.active.SetHeight(activeH)
	m.runs.SetHeight(avail - activeH)
	return m
}

// View implements tea.Model.
func (m dashModel) View() string {
	var b strings.Builder

	db := m.styles.Offline.Render("db: none")
	if m.data.DBOnline {
		db = m.styles.Online.Render("db: online")
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		m.styles.Title.Render("submon"),
		"  ", db,
		m.styles.Muted.Render(fmt.Sprintf("  active: %d  runs: %d  correlations: %d live / %d",
			len(m.data.Active), len(m.data.Recent), m.data.Correlations.Live, m.data.Correlations.Total)),
	)
	b.WriteString(header)
	b.WriteString("\n")

	activeBox, runsBox := m.styles.Box, m.styles.Box
	if m.focus == activePane {
		activeBox = m.styles.Focused
	} else {
		runsBox = m.styles.Focused
	}

	b.WriteString(m.styles.Section.Render("Active invocations"))
	b.WriteString("\n")
	if len(m.data.Active) == 0 {
		b.WriteString(activeBox.Render(m.styles.Muted.Render("No active invocations")))
	} else {
		b.WriteString(activeBox.Render(m.active.View()))
	}
	b.WriteString("\n")

	b.WriteString(m.styles.Section.Render("Recent runs"))
	b.WriteString("\n")
	if len(m.data.Recent) == 0 {
		b.WriteString(runsBox.Render(m.styles.Muted.Render("No worker runs recorded")))
	} else {
		b.WriteString(runsBox.Render(m.runs.View()))
	}
	b.WriteString("\n")

	if m.data.Err != "" {
		b.WriteString(m.styles.Offline.Render("error: " + truncate(m.data.Err, 100)))
		b.WriteString("\n")
	}
	b.WriteString(m.styles.Muted.Render("tab switch pane • ↑/↓ move • r refresh • q quit"))
	return b.String()
}

func activeRows(d dashData, now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(d.Active))
	for _, a := range d.Active {
		rows = append(rows, table.Row{
			truncate(a.WorkerType, 20),
			truncate(a.SessionID, 12),
			formatAge(now.Sub(a.StartedAt)),
			truncate(strings.ReplaceAll(a.Description, "\n", " "), 40),
		})
	}
	return rows
}

func runRows(d dashData) []table.Row {
	rows := make([]table.Row, 0, len(d.Recent))
	for _, s := range d.Recent {
		conf := formatConfidence(s.Confidence)
		if s.LowConfidence {
			conf += "!"
		}
		docs := "-"
		if s.DocsTouched {
			docs = "yes"
		}
		rows = append(rows, table.Row{
			truncate(s.WorkerType, 20),
			conf,
			fmt.Sprintf("%.1fs", s.RuntimeSeconds),
			fmt.Sprintf("%d", s.TurnCount),
			fmt.Sprintf("%d/%d/%d/%d", s.FilesCreated, s.FilesModified, s.FilesRead, s.FilesDeleted),
			docs,
			s.DetectedAt.Local().Format(time.DateTime),
		})
	}
	return rows
}
