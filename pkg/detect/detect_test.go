package detect_test

import (
	"bytes"
	"testing"
	"time"

	"submon/pkg/detect"
	"submon/pkg/protocol"
	"submon/pkg/transcript"
	tt "submon/pkg/transcript/transcripttest"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func chainAt(first time.Time, texts ...string) transcript.Sidechain {
	var c transcript.Sidechain
	for i, txt := range texts {
		c.Events = append(c.Events, transcript.Event{
			UUID: "e" + string(rune('a'+i)), IsSidechain: true, Role: transcript.RoleUser,
			Timestamp: first.Add(time.Duration(i) * time.Second), Text: txt,
		})
	}
	if len(c.Events) > 0 {
		c.Root = c.Events[0]
		c.LastAt = c.Events[len(c.Events)-1].Timestamp
	}
	return c
}

func inv(id, worker string, start time.Time) protocol.ActiveInvocation {
	return protocol.ActiveInvocation{InvocationID: id, SessionID: "s1", WorkerType: worker, StartedAt: start}
}

func TestDetect_Rules(t *testing.T) {
	d := detect.New([]string{"reviewer", "tester", "general-purpose"}, 2*time.Second)

	tests := []struct {
		name       string
		chain      transcript.Sidechain
		active     []protocol.ActiveInvocation
		wantWorker string
		wantConf   float64
		wantReason string
		wantID     string
	}{
		{
			name:       "zero active, no evidence",
			chain:      chainAt(t0, "hello"),
			wantWorker: protocol.UnknownWorker, wantConf: 0.0, wantReason: protocol.ReasonNoEvidence,
		},
		{
			name:       "zero active, empty chain",
			chain:      transcript.Sidechain{},
			wantWorker: protocol.UnknownWorker, wantConf: 0.0, wantReason: protocol.ReasonNoEvidence,
		},
		{
			name:       "zero active, self identified",
			chain:      chainAt(t0, "task", "I am the Reviewer. Starting now."),
			wantWorker: "reviewer", wantConf: 0.9, wantReason: protocol.ReasonTranscriptConfirmed,
		},
		{
			name:       "zero active, subagent_type line",
			chain:      chainAt(t0, `{"subagent_type": "tester"}`),
			wantWorker: "tester", wantConf: 0.9, wantReason: protocol.ReasonTranscriptConfirmed,
		},
		{
			name:       "zero active, unknown name ignored",
			chain:      chainAt(t0, "You are a helpful assistant"),
			wantWorker: protocol.UnknownWorker, wantConf: 0.0, wantReason: protocol.ReasonNoEvidence,
		},
		{
			name:       "one active",
			chain:      chainAt(t0, "I am the tester"),
			active:     []protocol.ActiveInvocation{inv("i1", "reviewer", t0)},
			wantWorker: "reviewer", wantConf: 1.0, wantReason: protocol.ReasonSoleActive, wantID: "i1",
		},
		{
			name:  "two active, timing winner",
			chain: chainAt(t0.Add(10 * time.Second)),
			active: []protocol.ActiveInvocation{
				inv("i1", "reviewer", t0),
				inv("i2", "tester", t0.Add(9*time.Second)),
			},
			wantWorker: "tester", wantConf: 0.7, wantReason: protocol.ReasonTimingDisambiguated, wantID: "i2",
		},
		{
			name:  "two active, within epsilon",
			chain: chainAt(t0.Add(10 * time.Second)),
			active: []protocol.ActiveInvocation{
				inv("i1", "reviewer", t0.Add(8*time.Second)),
				inv("i2", "tester", t0.Add(9*time.Second)),
			},
			wantWorker: "tester", wantConf: 0.5, wantReason: protocol.ReasonAmbiguousLatest, wantID: "i2",
		},
		{
			name:  "two active, empty chain",
			chain: transcript.Sidechain{},
			active: []protocol.ActiveInvocation{
				inv("i2", "tester", t0.Add(9*time.Second)),
				inv("i1", "reviewer", t0),
			},
			wantWorker: "tester", wantConf: 0.5, wantReason: protocol.ReasonAmbiguousLatest, wantID: "i2",
		},
		{
			name:  "three active, timing winner",
			chain: chainAt(t0.Add(30 * time.Second)),
			active: []protocol.ActiveInvocation{
				inv("i1", "a", t0),
				inv("i2", "b", t0.Add(29*time.Second)),
				inv("i3", "c", t0.Add(40*time.Second)),
			},
			wantWorker: "b", wantConf: 0.7, wantReason: protocol.ReasonTimingDisambiguated, wantID: "i2",
		},
		{
			name:  "three active, tie between two",
			chain: chainAt(t0.Add(30 * time.Second)),
			active: []protocol.ActiveInvocation{
				inv("i1", "a", t0.Add(25*time.Second)),
				inv("i2", "b", t0.Add(35*time.Second)),
				inv("i3", "c", t0),
			},
			wantWorker: "b", wantConf: 0.5, wantReason: protocol.ReasonAmbiguousLatest, wantID: "i2",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := d.Detect(tc.chain, tc.active)
			if got.WorkerType != tc.wantWorker || got.Confidence != tc.wantConf || got.EvidenceReason != tc.wantReason {
				t.Errorf("got %s, want %s (%.1f, %s)", got, tc.wantWorker, tc.wantConf, tc.wantReason)
			}
			if got.InvocationID != tc.wantID {
				t.Errorf("InvocationID = %q, want %q", got.InvocationID, tc.wantID)
			}
			if got.Candidates != len(tc.active) {
				t.Errorf("Candidates = %d, want %d", got.Candidates, len(tc.active))
			}
		})
	}
}

func TestDetect_EpsilonBoundaryIsExclusive(t *testing.T) {
	d := detect.New(nil, 2*time.Second)
	first := t0.Add(10 * time.Second)
	active := []protocol.ActiveInvocation{
		inv("i1", "near", t0.Add(9*time.Second)),  // 1s away
		inv("i2", "far", t0.Add(7*time.Second)),   // 3s away: exactly epsilon further
	}
	if got := d.Detect(chainAt(first), active); got.EvidenceReason != protocol.ReasonAmbiguousLatest {
		t.Errorf("margin equal to epsilon must not disambiguate, got %s", got)
	}

	active[1].StartedAt = t0.Add(6 * time.Second) // 4s away
	if got := d.Detect(chainAt(first), active); got.WorkerType != "near" || got.EvidenceReason != protocol.ReasonTimingDisambiguated {
		t.Errorf("expected near by timing, got %s", got)
	}
}

// Confidence never increases further down the rule list.
func TestDetect_ConfidenceOrderedByRule(t *testing.T) {
	order := []float64{
		detect.ConfidenceSoleActive,
		detect.ConfidenceTranscript,
		detect.ConfidenceTiming,
		detect.ConfidenceLatestGuess,
		detect.ConfidenceNoEvidence,
	}
	for i := 1; i < len(order); i++ {
		if order[i] >= order[i-1] {
			t.Errorf("rule %d confidence %.1f not below rule %d (%.1f)", i, order[i], i-1, order[i-1])
		}
	}
}

func TestCurrent(t *testing.T) {
	d := detect.New(nil, 2*time.Second)

	main := d.Current(nil)
	if main.WorkerType != protocol.MainWorker || main.Confidence != 1.0 || main.EvidenceReason != protocol.ReasonMainThread {
		t.Errorf("expected main thread, got %s", main)
	}

	one := d.Current([]protocol.ActiveInvocation{inv("i1", "reviewer", t0)})
	if one.WorkerType != "reviewer" || one.Confidence != 1.0 {
		t.Errorf("expected sole active reviewer, got %s", one)
	}

	many := d.Current([]protocol.ActiveInvocation{inv("i1", "reviewer", t0), inv("i2", "tester", t0.Add(time.Second))})
	if many.WorkerType != "tester" || many.Confidence != 0.5 {
		t.Errorf("expected latest tester guess, got %s", many)
	}
}

func TestDetect_UnparseableTimestampKeepsTiming(t *testing.T) {
	b := tt.New(t0).
		Add(tt.Entry{UUID: "s1", Sidechain: true, Role: "user", At: 10 * time.Second, Text: "go"}).
		Add(tt.Entry{UUID: "s2", Parent: "s1", Sidechain: true, Role: "assistant", Stamp: "not-a-time"}).
		Add(tt.Entry{UUID: "s3", Parent: "s2", Sidechain: true, Role: "user", At: 70 * time.Second})
	l, err := transcript.Parse(bytes.NewReader(b.Bytes()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	chain, err := l.Reconstruct("s2")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}

	d := detect.New([]string{"reviewer", "tester"}, time.Second)
	got := d.Detect(chain, []protocol.ActiveInvocation{
		inv("i1", "reviewer", t0.Add(10*time.Second)),
		inv("i2", "tester", t0.Add(40*time.Second)),
	})
	if got.WorkerType != "reviewer" || got.Confidence != detect.ConfidenceTiming ||
		got.EvidenceReason != protocol.ReasonTimingDisambiguated {
		t.Errorf("Detect = %s, want reviewer by timing", got)
	}
}
