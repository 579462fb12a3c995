package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"submon/pkg/correlation"
	"submon/pkg/eventlog"
	"submon/pkg/history"
	"submon/pkg/protocol"
)

// truncate shortens s to maxLen characters, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// palette colours table output; the zero value renders plain text.
type palette struct {
	header lipgloss.Style
	warn   lipgloss.Style
	muted  lipgloss.Style
}

// paletteFor returns a coloured palette when w is a terminal and NO_COLOR
// is unset.
func paletteFor(w io.Writer) palette {
	if !isTerminal(w) || os.Getenv("NO_COLOR") != "" {
		return palette{header: lipgloss.NewStyle(), warn: lipgloss.NewStyle(), muted: lipgloss.NewStyle()}
	}
	theme := DefaultTheme()
	return palette{
		header: lipgloss.NewStyle().Bold(true).Foreground(theme.Primary),
		warn:   lipgloss.NewStyle().Foreground(theme.Warning),
		muted:  lipgloss.NewStyle().Foreground(theme.Muted),
	}
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func formatConfidence(c float64) string {
	return fmt.Sprintf("%.0f%%", c*100)
}

// formatStatsTable formats recent worker runs, newest first.
func formatStatsTable(p palette, rows []protocol.WorkerStats) string {
	if len(rows) == 0 {
		return "No worker runs recorded.\n"
	}

	var b strings.Builder
	b.WriteString(p.header.Render(fmt.Sprintf("%-20s %-6s %-12s %-9s %-6s %-15s %-5s %-16s %s",
		"WORKER", "CONF", "SESSION", "RUNTIME", "TURNS", "FILES C/M/R/D", "DOCS", "STATUS", "DETECTED")))
	b.WriteString("\n")
	for _, s := range rows {
		conf := fmt.Sprintf("%-6s", formatConfidence(s.Confidence))
		if s.LowConfidence {
			conf = p.warn.Render(conf)
		}
		docs := "-"
		if s.DocsTouched {
			docs = "yes"
		}
		status := s.Status
		if status == "" {
			status = "-"
		}
		fmt.Fprintf(&b, "%-20s %s %-12s %-9s %-6d %-15s %-5s %-16s %s\n",
			truncate(s.WorkerType, 20), conf, truncate(s.SessionID, 12),
			fmt.Sprintf("%.1fs", s.RuntimeSeconds), s.TurnCount,
			fmt.Sprintf("%d/%d/%d/%d", s.FilesCreated, s.FilesModified, s.FilesRead, s.FilesDeleted),
			docs, status, s.DetectedAt.Local().Format(time.DateTime))
	}
	return b.String()
}

// formatSummaryTable formats per-worker aggregates.
func formatSummaryTable(p palette, sums []history.WorkerSummary) string {
	if len(sums) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(p.header.Render(fmt.Sprintf("%-20s %-5s %-11s %-7s %-15s %-5s %-8s %s",
		"WORKER", "RUNS", "AVG RUNTIME", "TURNS", "FILES C/M/R/D", "DOCS", "AVG CONF", "LOW CONF")))
	b.WriteString("\n")
	for _, s := range sums {
		fmt.Fprintf(&b, "%-20s %-5d %-11s %-7d %-15s %-5d %-8s %d\n",
			truncate(s.WorkerType, 20), s.Runs, fmt.Sprintf("%.1fs", s.AvgRuntime), s.TotalTurns,
			fmt.Sprintf("%d/%d/%d/%d", s.FilesCreated, s.FilesModified, s.FilesRead, s.FilesDeleted),
			s.DocsRuns, formatConfidence(s.AvgConfidence), s.LowConfidence)
	}
	return b.String()
}

// formatToolsTable formats tool call totals.
func formatToolsTable(p palette, tools []history.ToolTotal) string {
	if len(tools) == 0 {
		return "No tool calls recorded.\n"
	}

	var b strings.Builder
	b.WriteString(p.header.Render(fmt.Sprintf("%-32s %-10s %-7s %s", "TOOL", "CATEGORY", "CALLS", "RUNS")))
	b.WriteString("\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "%-32s %-10s %-7d %d\n", truncate(t.Name, 32), t.Category, t.Calls, t.Runs)
	}
	return b.String()
}

// formatActiveTable formats the registry snapshot.
func formatActiveTable(p palette, active []protocol.ActiveInvocation, now time.Time) string {
	if len(active) == 0 {
		return "No active invocations.\n"
	}

	var b strings.Builder
	b.WriteString(p.header.Render(fmt.Sprintf("%-36s %-20s %-12s %-6s %s",
		"INVOCATION", "WORKER", "SESSION", "AGE", "DESCRIPTION")))
	b.WriteString("\n")
	for _, a := range active {
		fmt.Fprintf(&b, "%-36s %-20s %-12s %-6s %s\n",
			a.InvocationID, truncate(a.WorkerType, 20), truncate(a.SessionID, 12),
			formatAge(now.Sub(a.StartedAt)), truncate(strings.ReplaceAll(a.Description, "\n", " "), 50))
	}
	return b.String()
}

// formatCorrelations formats table stats followed by recent records.
func formatCorrelations(p palette, st correlation.Stats, ttl time.Duration, recs []protocol.CorrelationRecord, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Correlations: %d total, %d live (ttl %s), %d sessions, %d workers\n",
		st.Total, st.Live, ttl, st.UniqueSessions, st.UniqueAgents)
	if st.Total == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "Oldest: %s ago  Newest: %s ago\n\n", formatAge(st.OldestAge), formatAge(st.NewestAge))

	b.WriteString(p.header.Render(fmt.Sprintf("%-16s %-20s %-18s %-6s %-6s %s",
		"FINGERPRINT", "TOOL", "WORKER", "CONF", "AGE", "PARAMS")))
	b.WriteString("\n")
	for _, r := range recs {
		age := now.Sub(r.CreatedAt)
		line := fmt.Sprintf("%-16s %-20s %-18s %-6s %-6s %s",
			truncate(r.Fingerprint, 16), truncate(r.ToolName, 20), truncate(r.Context.AgentType, 18),
			formatConfidence(r.Context.AgentConfidence), formatAge(age), truncate(r.ParamPreview, 40))
		if ttl <= 0 || age > ttl {
			line = p.muted.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// formatEventsTable formats hook audit events, newest first.
func formatEventsTable(p palette, events []eventlog.Event) string {
	if len(events) == 0 {
		return "No hook events found.\n"
	}

	var b strings.Builder
	b.WriteString(p.header.Render(fmt.Sprintf("%-6s %-20s %-20s %-12s %-18s %s",
		"ID", "TYPE", "CREATED", "SESSION", "WORKER", "PAYLOAD")))
	b.WriteString("\n")
	for _, e := range events {
		fmt.Fprintf(&b, "%-6d %-20s %-20s %-12s %-18s %s\n",
			e.ID, truncate(e.Type, 20), e.CreatedAt.Local().Format(time.DateTime),
			truncate(e.SessionID, 12), truncate(e.WorkerType, 18), truncate(e.Payload, 50))
	}
	return b.String()
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
