package transcript_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"submon/pkg/protocol"
	"submon/pkg/transcript"
	tt "submon/pkg/transcript/transcripttest"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func parse(t *testing.T, b *tt.Builder) *transcript.Log {
	t.Helper()
	l, err := transcript.Parse(bytes.NewReader(b.Bytes()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return l
}

func uuids(events []transcript.Event) string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.UUID
	}
	return strings.Join(ids, ",")
}

// interleaved builds a main chain with two sidechains whose events
// alternate in the log: R1 at t=0, R2 at t=1s.
func interleaved() *tt.Builder {
	return tt.New(t0).
		Add(tt.Entry{UUID: "m1", Role: "user", At: -time.Second, Text: "start"}).
		Add(tt.Entry{UUID: "m2", Parent: "m1", Role: "assistant", At: -time.Second,
			Tools: []tt.Tool{{ID: "tu1", Name: "Task", Input: map[string]any{"subagent_type": "reviewer", "description": "review"}}}}).
		Add(tt.Entry{UUID: "r1", Parent: "m2", Sidechain: true, Role: "user", At: 0, Text: "review the diff"}).
		Add(tt.Entry{UUID: "r2", Parent: "m2", Sidechain: true, Role: "user", At: time.Second, Text: "write tests"}).
		Add(tt.Entry{UUID: "r1a", Parent: "r1", Sidechain: true, Role: "assistant", At: 2 * time.Second, Text: "looking"}).
		Add(tt.Entry{UUID: "r2a", Parent: "r2", Sidechain: true, Role: "assistant", At: 3 * time.Second, Text: "writing"}).
		Add(tt.Entry{UUID: "m3", Parent: "m2", Role: "user", At: 4 * time.Second, Results: 1}).
		Add(tt.Entry{UUID: "r1b", Parent: "r1a", Sidechain: true, Role: "user", At: 5 * time.Second, Results: 1}).
		Add(tt.Entry{UUID: "r2b", Parent: "r2a", Sidechain: true, Role: "user", At: 6 * time.Second, Results: 1})
}

func TestParse_RolesAndBlocks(t *testing.T) {
	l := parse(t, interleaved())

	if len(l.Events) != 9 {
		t.Fatalf("expected 9 events, got %d", len(l.Events))
	}
	if len(l.Anomalies) != 0 {
		t.Errorf("unexpected anomalies: %v", l.Anomalies)
	}

	m2, ok := l.Lookup("m2")
	if !ok {
		t.Fatal("m2 not indexed")
	}
	if m2.Role != transcript.RoleAssistant || len(m2.ToolCalls) != 1 || m2.ToolCalls[0].Name != "Task" {
		t.Errorf("unexpected m2: %+v", m2)
	}

	m3, _ := l.Lookup("m3")
	if m3.Role != transcript.RoleToolResult {
		t.Errorf("expected tool-result role, got %q", m3.Role)
	}

	r1, _ := l.Lookup("r1")
	if r1.Text != "review the diff" || !r1.IsSidechain || r1.Line != 3 {
		t.Errorf("unexpected r1: %+v", r1)
	}
	if !r1.Timestamp.Equal(t0) {
		t.Errorf("expected timestamp %v, got %v", t0, r1.Timestamp)
	}
}

func TestParse_Anomalies(t *testing.T) {
	b := tt.New(t0).
		Add(tt.Entry{UUID: "a", Role: "user", Text: "hi"}).
		Raw(`{not json`).
		Raw(`{"type":"summary","summary":"metadata without uuid"}`).
		Add(tt.Entry{UUID: "a", Role: "assistant", Text: "duplicate"}).
		Raw(`{"uuid":"b","parentUuid":"a","type":"user","timestamp":"yesterday","message":{"role":"user","content":"x"}}`).
		Raw(`{"uuid":"c","parentUuid":"b","type":"assistant","timestamp":"2025-06-01T12:00:01Z","message":{"role":"assistant","content":42}}`).
		Raw(``)

	l := parse(t, b)

	if got := uuids(l.Events); got != "a,b,c" {
		t.Errorf("expected events a,b,c, got %s", got)
	}
	if first, _ := l.Lookup("a"); first.Text != "hi" {
		t.Errorf("first occurrence should win, got %q", first.Text)
	}

	reasons := make([]string, 0, len(l.Anomalies))
	for _, a := range l.Anomalies {
		reasons = append(reasons, a.Reason)
	}
	joined := strings.Join(reasons, "|")
	for _, want := range []string{"invalid json", "duplicate uuid", "bad timestamp", "unexpected content"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing anomaly %q in %q", want, joined)
		}
	}
	if len(l.Anomalies) != 4 {
		t.Errorf("expected 4 anomalies, got %d: %v", len(l.Anomalies), l.Anomalies)
	}
	if l.Anomalies[0].Line != 2 {
		t.Errorf("expected first anomaly at line 2, got %d", l.Anomalies[0].Line)
	}
}

func TestParse_LongLine(t *testing.T) {
	big := strings.Repeat("x", 1<<20)
	b := tt.New(t0).
		Add(tt.Entry{UUID: "r", Sidechain: true, Role: "user", Text: big}).
		Add(tt.Entry{UUID: "s", Parent: "r", Sidechain: true, Role: "assistant", At: time.Second, Text: "ok"})

	l := parse(t, b)
	if len(l.Events) != 2 {
		t.Fatalf("expected 2 events, got %d (anomalies %v)", len(l.Events), l.Anomalies)
	}
	if len(l.Events[0].Text) != len(big) {
		t.Errorf("long text truncated: %d", len(l.Events[0].Text))
	}
}

func TestParse_NoTrailingNewline(t *testing.T) {
	line := `{"uuid":"a","type":"user","timestamp":"2025-06-01T12:00:00Z","message":{"role":"user","content":"hi"}}`
	l, err := transcript.Parse(strings.NewReader(line))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(l.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(l.Events))
	}
}

func TestRoots(t *testing.T) {
	b := tt.New(t0).
		Add(tt.Entry{UUID: "m1", Role: "user"}).
		Add(tt.Entry{UUID: "null-parent", Sidechain: true, Role: "user"}).
		Add(tt.Entry{UUID: "main-parent", Parent: "m1", Sidechain: true, Role: "user"}).
		Add(tt.Entry{UUID: "missing-parent", Parent: "ghost", Sidechain: true, Role: "user"}).
		Add(tt.Entry{UUID: "forward-parent", Parent: "later", Sidechain: true, Role: "user"}).
		Add(tt.Entry{UUID: "child", Parent: "main-parent", Sidechain: true, Role: "assistant"}).
		Add(tt.Entry{UUID: "later", Parent: "m1", Role: "assistant"})

	l := parse(t, b)
	got := uuids(l.Roots())
	want := "null-parent,main-parent,missing-parent,forward-parent"
	if got != want {
		t.Errorf("roots = %s, want %s", got, want)
	}
	if n := len(l.Sidechains()); n != 4 {
		t.Errorf("expected 4 sidechains, got %d", n)
	}
}

func TestReconstruct_ByHint(t *testing.T) {
	l := parse(t, interleaved())

	tests := []struct {
		hint string
		want string
	}{
		{"r1", "r1,r1a,r1b"},
		{"r1b", "r1,r1a,r1b"}, // any member resolves to its root
		{"r2", "r2,r2a,r2b"},
		{"r2a", "r2,r2a,r2b"},
	}
	for _, tc := range tests {
		t.Run(tc.hint, func(t *testing.T) {
			chain, err := l.Reconstruct(tc.hint)
			if err != nil {
				t.Fatalf("Reconstruct: %v", err)
			}
			if got := uuids(chain.Events); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
			for _, e := range chain.Events {
				if !e.IsSidechain {
					t.Errorf("main-chain event %s in sidechain", e.UUID)
				}
			}
		})
	}
}

func TestReconstruct_StaleHintFallsBackToMostRecentlyCompleted(t *testing.T) {
	l := parse(t, interleaved())

	for _, hint := range []string{"", "no-such-uuid", "m2"} {
		chain, err := l.Reconstruct(hint)
		if err != nil {
			t.Fatalf("Reconstruct(%q): %v", hint, err)
		}
		if chain.Root.UUID != "r2" {
			t.Errorf("Reconstruct(%q) root = %s, want r2", hint, chain.Root.UUID)
		}
		if !chain.LastAt.Equal(t0.Add(6 * time.Second)) {
			t.Errorf("LastAt = %v", chain.LastAt)
		}
	}
}

func TestReconstruct_TieBreaksOnLogPosition(t *testing.T) {
	b := tt.New(t0).
		Add(tt.Entry{UUID: "a", Sidechain: true, Role: "user", At: time.Second}).
		Add(tt.Entry{UUID: "b", Sidechain: true, Role: "user", At: time.Second})

	chain, err := parse(t, b).Reconstruct("")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if chain.Root.UUID != "b" {
		t.Errorf("expected later sidechain b on tie, got %s", chain.Root.UUID)
	}
}

func TestReconstruct_OrdersByTimestampThenPosition(t *testing.T) {
	b := tt.New(t0).
		Add(tt.Entry{UUID: "root", Sidechain: true, Role: "user", At: 0}).
		Add(tt.Entry{UUID: "late", Parent: "root", Sidechain: true, Role: "assistant", At: 5 * time.Second}).
		Add(tt.Entry{UUID: "early", Parent: "root", Sidechain: true, Role: "assistant", At: 2 * time.Second}).
		Add(tt.Entry{UUID: "same", Parent: "root", Sidechain: true, Role: "assistant", At: 2 * time.Second})

	chain, err := parse(t, b).Reconstruct("root")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if got := uuids(chain.Events); got != "root,early,same,late" {
		t.Errorf("order = %s", got)
	}
	if !chain.FirstAt().Equal(t0) {
		t.Errorf("FirstAt = %v", chain.FirstAt())
	}
}

func TestReconstruct_BadTimestampTakesParentTime(t *testing.T) {
	b := tt.New(t0).
		Add(tt.Entry{UUID: "s1", Sidechain: true, Role: "user", At: 10 * time.Second, Text: "go"}).
		Add(tt.Entry{UUID: "s2", Parent: "s1", Sidechain: true, Role: "assistant", Stamp: "not-a-time", Text: "working"}).
		Add(tt.Entry{UUID: "s3", Parent: "s2", Sidechain: true, Role: "user", At: 70 * time.Second, Text: "done"})

	l := parse(t, b)
	chain, err := l.Reconstruct("s3")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if got := uuids(chain.Events); got != "s1,s2,s3" {
		t.Errorf("order = %s", got)
	}
	if want := t0.Add(10 * time.Second); !chain.FirstAt().Equal(want) {
		t.Errorf("FirstAt = %v, want %v", chain.FirstAt(), want)
	}
	if want := t0.Add(70 * time.Second); !chain.LastAt.Equal(want) {
		t.Errorf("LastAt = %v, want %v", chain.LastAt, want)
	}
	if n := l.AnomaliesIn(chain); n != 1 {
		t.Errorf("AnomaliesIn = %d, want 1", n)
	}
}

func TestAnomaliesIn(t *testing.T) {
	b := tt.New(t0).
		Add(tt.Entry{UUID: "m", Role: "user", Text: "start"}).
		Add(tt.Entry{UUID: "a1", Parent: "m", Sidechain: true, Role: "user", At: time.Second}).
		Raw(`{broken`).
		Add(tt.Entry{UUID: "a2", Parent: "a1", Sidechain: true, Role: "assistant", At: 2 * time.Second}).
		Add(tt.Entry{UUID: "b1", Parent: "m", Sidechain: true, Role: "user", At: 3 * time.Second, Stamp: "nope"}).
		Add(tt.Entry{UUID: "a2", Parent: "a1", Sidechain: true, Role: "assistant", At: 4 * time.Second}).
		Raw(`{also broken`)

	l := parse(t, b)
	a, err := l.Reconstruct("a1")
	if err != nil {
		t.Fatalf("Reconstruct a: %v", err)
	}
	bc, err := l.Reconstruct("b1")
	if err != nil {
		t.Fatalf("Reconstruct b: %v", err)
	}

	// broken line inside a's span, duplicate a2; the trailing line is outside both
	if n := l.AnomaliesIn(a); n != 2 {
		t.Errorf("AnomaliesIn(a) = %d, want 2", n)
	}
	if n := l.AnomaliesIn(bc); n != 1 {
		t.Errorf("AnomaliesIn(b) = %d, want 1", n)
	}
	if n := l.AnomaliesIn(transcript.Sidechain{}); n != 0 {
		t.Errorf("AnomaliesIn(empty) = %d", n)
	}
}

func TestReconstruct_StopsAtMainChain(t *testing.T) {
	b := tt.New(t0).
		Add(tt.Entry{UUID: "r", Sidechain: true, Role: "user"}).
		Add(tt.Entry{UUID: "m", Parent: "r", Role: "assistant", At: time.Second}).
		Add(tt.Entry{UUID: "s", Parent: "m", Sidechain: true, Role: "user", At: 2 * time.Second})

	l := parse(t, b)
	chain, err := l.Reconstruct("r")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if got := uuids(chain.Events); got != "r" {
		t.Errorf("expected only r, got %s", got)
	}
	if got := uuids(l.Roots()); got != "r,s" {
		t.Errorf("roots = %s", got)
	}
}

func TestReconstruct_EmptyLog(t *testing.T) {
	l, err := transcript.Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	chain, err := l.Reconstruct("anything")
	if err != nil {
		t.Fatalf("expected nil error for empty log, got %v", err)
	}
	if chain.Len() != 0 || !chain.FirstAt().IsZero() {
		t.Errorf("expected empty sidechain, got %+v", chain)
	}
}

func TestReconstruct_NoSidechainIsError(t *testing.T) {
	b := tt.New(t0).
		Add(tt.Entry{UUID: "m1", Role: "user"}).
		Add(tt.Entry{UUID: "m2", Parent: "m1", Role: "assistant"})

	_, err := parse(t, b).Reconstruct("m2")
	var rerr *protocol.ReconstructionError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ReconstructionError, got %v", err)
	}
	if rerr.Hint != "m2" {
		t.Errorf("Hint = %q", rerr.Hint)
	}
}

func TestReconstruct_Idempotent(t *testing.T) {
	l := parse(t, interleaved())
	a, _ := l.Reconstruct("r1")
	b, _ := l.Reconstruct("r1")
	if uuids(a.Events) != uuids(b.Events) || !a.LastAt.Equal(b.LastAt) {
		t.Error("reconstruction is not repeatable")
	}
}

func TestLoad(t *testing.T) {
	path := interleaved().WriteFile(t, t.TempDir())
	l, err := transcript.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.Path != path {
		t.Errorf("Path = %q", l.Path)
	}

	var rerr *protocol.ReconstructionError
	_, err = transcript.Load(path + ".missing")
	if err == nil || errors.As(err, &rerr) {
		t.Errorf("expected plain open error, got %v", err)
	}
}

func TestTaskInvocations(t *testing.T) {
	b := interleaved().
		Add(tt.Entry{UUID: "m4", Parent: "m3", Role: "assistant", At: 7 * time.Second,
			Tools: []tt.Tool{{ID: "tu2", Name: "Task", Input: map[string]any{"description": "no type"}}}}).
		Add(tt.Entry{UUID: "s9", Parent: "r1b", Sidechain: true, Role: "assistant", At: 8 * time.Second,
			Tools: []tt.Tool{{ID: "tu3", Name: "Task", Input: map[string]any{"subagent_type": "nested"}}}})

	tasks := parse(t, b).TaskInvocations()
	if len(tasks) != 2 {
		t.Fatalf("expected 2 main-chain tasks, got %d", len(tasks))
	}
	if tasks[0].SubagentType != "reviewer" || tasks[0].ToolUseID != "tu1" || tasks[0].EventUUID != "m2" {
		t.Errorf("unexpected first task: %+v", tasks[0])
	}
	if tasks[1].SubagentType != protocol.GeneralPurposeWorker {
		t.Errorf("expected default worker type, got %q", tasks[1].SubagentType)
	}
}
