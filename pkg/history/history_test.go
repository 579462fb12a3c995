package history_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submon/pkg/history"
	"submon/pkg/protocol"
	"submon/pkg/store"
)

func newStore(t *testing.T) *history.Store {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "submon.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return history.New(db)
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *history.Store) {
	t.Helper()
	rows := []protocol.WorkerStats{
		{SessionID: "s1", InvocationID: "i1", WorkerType: "reviewer", Confidence: 1, DetectionReason: protocol.ReasonSoleActive,
			RuntimeSeconds: 10, TurnCount: 2, FilesRead: 3, TouchedPaths: []string{"/a", "/b"}, DetectedAt: t0,
			Status: protocol.StatusCompleted, EstimatedTokens: 120,
			Tools: []protocol.ToolUsage{{Name: "Read", Category: "file", Count: 3}, {Name: "Bash", Category: "command", Count: 1}},
			Messages: map[string]protocol.MessageStats{"user": {Count: 2, TotalChars: 40}}},
		{SessionID: "s1", InvocationID: "i2", WorkerType: "tester", Confidence: 0.5, LowConfidence: true,
			RuntimeSeconds: 4, TurnCount: 1, FilesCreated: 1, DocsTouched: true, DetectedAt: t0.Add(time.Minute)},
		{SessionID: "s2", InvocationID: "i3", WorkerType: "Reviewer", Confidence: 0.7,
			RuntimeSeconds: 20, TurnCount: 4, FilesModified: 2, Anomalies: 1, DetectedAt: t0.Add(2 * time.Minute),
			EstimatedTokens: 30, Tools: []protocol.ToolUsage{{Name: "Read", Category: "file", Count: 2}}},
	}
	for _, r := range rows {
		_, err := s.Insert(context.Background(), r)
		require.NoError(t, err)
	}
}

func TestInsertAndRecent(t *testing.T) {
	s := newStore(t)
	seed(t, s)

	got, err := s.Recent(context.Background(), history.QueryOpts{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "i3", got[0].InvocationID, "newest first")
	assert.Equal(t, "i1", got[2].InvocationID)

	first := got[2]
	assert.Equal(t, []string{"/a", "/b"}, first.TouchedPaths)
	assert.Equal(t, protocol.ReasonSoleActive, first.DetectionReason)
	assert.True(t, first.DetectedAt.Equal(t0))
	assert.True(t, got[1].LowConfidence)
	assert.True(t, got[1].DocsTouched)
	assert.Equal(t, []string{}, got[1].TouchedPaths)
	assert.Equal(t, 1, got[0].Anomalies)
	assert.Equal(t, "reviewer", got[0].WorkerType, "worker type stored in canonical case")

	assert.Equal(t, protocol.StatusCompleted, first.Status)
	assert.Equal(t, 120, first.EstimatedTokens)
	assert.Equal(t, []protocol.ToolUsage{{Name: "Read", Category: "file", Count: 3}, {Name: "Bash", Category: "command", Count: 1}}, first.Tools)
	assert.Equal(t, map[string]protocol.MessageStats{"user": {Count: 2, TotalChars: 40}}, first.Messages)
	assert.Equal(t, []protocol.ToolUsage{}, got[1].Tools)
	assert.Equal(t, map[string]protocol.MessageStats{}, got[1].Messages)
}

func TestRecent_Filters(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()
	since := t0.Add(30 * time.Second)

	tests := []struct {
		name string
		opts history.QueryOpts
		want []string
	}{
		{"session", history.QueryOpts{SessionID: "s1"}, []string{"i2", "i1"}},
		{"worker", history.QueryOpts{WorkerType: "reviewer"}, []string{"i3", "i1"}},
		{"worker any case", history.QueryOpts{WorkerType: "REVIEWER"}, []string{"i3", "i1"}},
		{"since", history.QueryOpts{Since: &since}, []string{"i3", "i2"}},
		{"limit", history.QueryOpts{Limit: 1}, []string{"i3"}},
		{"none", history.QueryOpts{WorkerType: "nobody"}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rows, err := s.Recent(ctx, tc.opts)
			require.NoError(t, err)
			var ids []string
			for _, r := range rows {
				ids = append(ids, r.InvocationID)
			}
			assert.Equal(t, tc.want, ids)
		})
	}
}

func TestSummary(t *testing.T) {
	s := newStore(t)
	seed(t, s)

	sum, err := s.Summary(context.Background(), history.QueryOpts{})
	require.NoError(t, err)
	require.Len(t, sum, 2)

	rev := sum[0]
	assert.Equal(t, "reviewer", rev.WorkerType)
	assert.Equal(t, 2, rev.Runs)
	assert.InDelta(t, 15.0, rev.AvgRuntime, 1e-9)
	assert.Equal(t, 6, rev.TotalTurns)
	assert.Equal(t, 3, rev.FilesRead)
	assert.Equal(t, 2, rev.FilesModified)
	assert.InDelta(t, 0.85, rev.AvgConfidence, 1e-9)
	assert.Equal(t, 150, rev.TotalTokens)
	assert.True(t, rev.LastDetectedAt.Equal(t0.Add(2*time.Minute)))

	tester := sum[1]
	assert.Equal(t, 1, tester.LowConfidence)
	assert.Equal(t, 1, tester.DocsRuns)
}

func TestInsert_DefaultsDetectedAt(t *testing.T) {
	s := newStore(t)
	before := time.Now()
	_, err := s.Insert(context.Background(), protocol.WorkerStats{SessionID: "s", WorkerType: "unknown"})
	require.NoError(t, err)

	rows, err := s.Recent(context.Background(), history.QueryOpts{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].DetectedAt.Before(before.Add(-time.Second)))
}

func TestToolUsage(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	all, err := s.ToolUsage(ctx, history.QueryOpts{})
	require.NoError(t, err)
	assert.Equal(t, []history.ToolTotal{
		{Name: "Read", Category: "file", Calls: 5, Runs: 2},
		{Name: "Bash", Category: "command", Calls: 1, Runs: 1},
	}, all)

	s2, err := s.ToolUsage(ctx, history.QueryOpts{SessionID: "s2"})
	require.NoError(t, err)
	assert.Equal(t, []history.ToolTotal{{Name: "Read", Category: "file", Calls: 2, Runs: 1}}, s2)

	top, err := s.ToolUsage(ctx, history.QueryOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "Read", top[0].Name)
}

func TestPurgeBefore(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	n, err := s.PurgeBefore(ctx, t0.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := s.Recent(ctx, history.QueryOpts{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "i3", rows[0].InvocationID)

	n, err = s.PurgeBefore(ctx, t0)
	require.NoError(t, err)
	assert.Zero(t, n)
}
