// Package detect decides which delegated worker produced a sidechain.
//
// Rules are evaluated in order and the first that applies wins:
//
//  1. exactly one active invocation             -> 1.0 "sole active"
//  2. none active, sidechain names a known worker -> 0.9 "transcript-confirmed"
//  3. several active, one clearly closest start  -> 0.7 "timing-disambiguated"
//  4. several active, no clear winner            -> 0.5 "ambiguous-latest-guess"
//  5. otherwise                                   -> "unknown", 0.0
package detect

import (
	"regexp"
	"time"

	"submon/pkg/protocol"
	"submon/pkg/transcript"
)

// Confidence per rule.
const (
	ConfidenceSoleActive   = 1.0
	ConfidenceTranscript   = 0.9
	ConfidenceTiming       = 0.7
	ConfidenceLatestGuess  = 0.5
	ConfidenceNoEvidence   = 0.0
	DefaultTimingEpsilon   = 2 * time.Second
	DefaultConfidenceFloor = 0.7
)

var (
	selfIdent    = regexp.MustCompile(`(?i)\b(?:i am|i'm|acting as|you are|you're)\s+(?:the\s+|an?\s+)?([a-z0-9][a-z0-9_-]*)`)
	subagentType = regexp.MustCompile(`(?i)subagent_type["']?\s*[:=]\s*["']?([a-z0-9][a-z0-9_-]*)`)
)

// Detector holds the known worker names and the timing epsilon. The zero
// value knows no workers and requires a strict timing winner.
type Detector struct {
	known   map[string]struct{}
	Epsilon time.Duration
}

// New returns a Detector for the given worker names.
func New(known []string, epsilon time.Duration) *Detector {
	d := &Detector{known: make(map[string]struct{}, len(known)), Epsilon: epsilon}
	for _, k := range known {
		d.known[protocol.NormalizeWorker(k)] = struct{}{}
	}
	if d.Epsilon < 0 {
		d.Epsilon = 0
	}
	return d
}

// Detect returns exactly one result for chain given the session's active
// invocations. It has no side effects.
func (d *Detector) Detect(chain transcript.Sidechain, active []protocol.ActiveInvocation) protocol.DetectionResult {
	switch len(active) {
	case 0:
		if name, ok := d.SelfIdentified(chain); ok {
			return protocol.DetectionResult{
				WorkerType:     name,
				Confidence:     ConfidenceTranscript,
				EvidenceReason: protocol.ReasonTranscriptConfirmed,
			}
		}
		return protocol.DetectionResult{
			WorkerType:     protocol.UnknownWorker,
			Confidence:     ConfidenceNoEvidence,
			EvidenceReason: protocol.ReasonNoEvidence,
		}
	case 1:
		return fromActive(active[0], ConfidenceSoleActive, protocol.ReasonSoleActive, 1)
	}

	if first := chain.FirstAt(); !first.IsZero() {
		if winner, ok := d.timingWinner(first, active); ok {
			return fromActive(winner, ConfidenceTiming, protocol.ReasonTimingDisambiguated, len(active))
		}
	}
	return fromActive(latest(active), ConfidenceLatestGuess, protocol.ReasonAmbiguousLatest, len(active))
}

// Current resolves the worker a hook is running under right now, with no
// sidechain to inspect. No active invocation means the main thread.
func (d *Detector) Current(active []protocol.ActiveInvocation) protocol.DetectionResult {
	if len(active) == 0 {
		return protocol.DetectionResult{
			WorkerType:     protocol.MainWorker,
			Confidence:     ConfidenceSoleActive,
			EvidenceReason: protocol.ReasonMainThread,
		}
	}
	return d.Detect(transcript.Sidechain{}, active)
}

// SelfIdentified scans the sidechain text, in order, for a line naming a
// known worker ("I am the reviewer", "subagent_type: tester").
func (d *Detector) SelfIdentified(chain transcript.Sidechain) (string, bool) {
	for _, ev := range chain.Events {
		if ev.Text == "" {
			continue
		}
		for _, re := range []*regexp.Regexp{subagentType, selfIdent} {
			for _, m := range re.FindAllStringSubmatch(ev.Text, -1) {
				name := protocol.NormalizeWorker(m[1])
				if _, ok := d.known[name]; ok {
					return name, true
				}
			}
		}
	}
	return "", false
}

// timingWinner picks the invocation whose start is closest to first, but
// only if it beats every other candidate by more than Epsilon.
func (d *Detector) timingWinner(first time.Time, active []protocol.ActiveInvocation) (protocol.ActiveInvocation, bool) {
	best := -1
	var bestDist time.Duration
	for i, a := range active {
		dist := absDuration(first.Sub(a.StartedAt))
		if best < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	for i, a := range active {
		if i == best {
			continue
		}
		if absDuration(first.Sub(a.StartedAt))-bestDist <= d.Epsilon {
			return protocol.ActiveInvocation{}, false
		}
	}
	return active[best], true
}

// latest returns the most recently started invocation; on equal start
// times the later entry wins.
func latest(active []protocol.ActiveInvocation) protocol.ActiveInvocation {
	l := active[0]
	for _, a := range active[1:] {
		if !a.StartedAt.Before(l.StartedAt) {
			l = a
		}
	}
	return l
}

func fromActive(a protocol.ActiveInvocation, conf float64, reason string, candidates int) protocol.DetectionResult {
	return protocol.DetectionResult{
		WorkerType:     a.WorkerType,
		Confidence:     conf,
		EvidenceReason: reason,
		InvocationID:   a.InvocationID,
		Candidates:     candidates,
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
