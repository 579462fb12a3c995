package main

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"submon/pkg/protocol"
)

func sampleDashData(now time.Time) dashData {
	return dashData{
		Active: []protocol.ActiveInvocation{
			{InvocationID: "i1", SessionID: "s1", WorkerType: "reviewer", Description: "review\nthe diff", StartedAt: now.Add(-90 * time.Second)},
		},
		Recent: []protocol.WorkerStats{
			{WorkerType: "tester", Confidence: 0.5, LowConfidence: true, RuntimeSeconds: 3.5, TurnCount: 2,
				FilesCreated: 1, DocsTouched: true, DetectedAt: now},
		},
		DBOnline:  true,
		FetchedAt: now,
	}
}

func update(t *testing.T, m dashModel, msg tea.Msg) (dashModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	dm, ok := next.(dashModel)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return dm, cmd
}

func TestDashModel_DataPopulatesTables(t *testing.T) {
	now := time.Now()
	m := newDashModel(func(context.Context) dashData { return dashData{} }, nil)

	m, _ = update(t, m, dataMsg(sampleDashData(now)))

	if got := m.active.Rows(); len(got) != 1 || got[0][0] != "reviewer" || got[0][2] != "1m" {
		t.Errorf("active rows = %v", got)
	}
	if strings.Contains(m.active.Rows()[0][3], "\n") {
		t.Error("description newlines should be flattened")
	}
	runs := m.runs.Rows()
	if len(runs) != 1 {
		t.Fatalf("expected 1 run row, got %d", len(runs))
	}
	if runs[0][1] != "50%!" || runs[0][2] != "3.5s" || runs[0][4] != "1/0/0/0" || runs[0][5] != "yes" {
		t.Errorf("run row = %v", runs[0])
	}

	view := m.View()
	for _, want := range []string{"submon", "db: online", "active: 1", "Active invocations", "Recent runs"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestDashModel_EmptyState(t *testing.T) {
	m := newDashModel(func(context.Context) dashData { return dashData{} }, nil)
	m, _ = update(t, m, dataMsg(dashData{Err: "lock registry: timeout"}))

	view := m.View()
	for _, want := range []string{"db: none", "No active invocations", "No worker runs recorded", "error: lock registry"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestDashModel_Keys(t *testing.T) {
	calls := 0
	m := newDashModel(func(context.Context) dashData { calls++; return dashData{} }, nil)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.focus != runsPane || m.active.Focused() || !m.runs.Focused() {
		t.Error("tab should move focus to the runs table")
	}
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	if m.focus != activePane {
		t.Error("second tab should return focus")
	}

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil {
		t.Fatal("r should schedule a refresh")
	}
	if _, ok := cmd().(dataMsg); !ok || calls != 1 {
		t.Errorf("refresh should fetch once, calls=%d", calls)
	}

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should produce tea.QuitMsg")
	}
}

func TestDashModel_ResizeSplitsHeight(t *testing.T) {
	m := newDashModel(func(context.Context) dashData { return dashData{} }, nil)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	if m.active.Height() != 10 || m.runs.Height() != 20 {
		t.Errorf("heights = %d/%d, want 10/20", m.active.Height(), m.runs.Height())
	}
}

func TestDashModel_FileChangeRefetches(t *testing.T) {
	m := newDashModel(func(context.Context) dashData { return dashData{DBOnline: true} }, nil)
	_, cmd := update(t, m, fsChangeMsg{})
	if cmd == nil {
		t.Fatal("file change should schedule a refresh")
	}
}
