// Package stats derives WorkerStats from a reconstructed sidechain.
package stats

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"submon/pkg/protocol"
	"submon/pkg/transcript"
)

// DefaultDocExtensions are the extensions that mark a path as
// documentation.
var DefaultDocExtensions = []string{".md", ".mdx", ".markdown", ".rst", ".adoc", ".txt"}

// Analyzer computes WorkerStats. The zero value is not usable; use New.
type Analyzer struct {
	Classifier    *Classifier
	DocExtensions []string
}

// New returns an Analyzer with the built-in classifier.
func New() *Analyzer {
	return &Analyzer{Classifier: NewClassifier(), DocExtensions: DefaultDocExtensions}
}

// Analyze returns the stats of chain. Detection fields are left for the
// caller. Malformed tool inputs are counted in Anomalies and skipped.
//
// Created versus modified is a local heuristic: the first Write of a path
// within this sidechain counts as created, any later write or edit as
// modified. The filesystem is never consulted.
func (a *Analyzer) Analyze(chain transcript.Sidechain) protocol.WorkerStats {
	st := protocol.WorkerStats{
		SessionID:    chain.Root.SessionID,
		EventCount:   len(chain.Events),
		TouchedPaths: []string{},
		Tools:        []protocol.ToolUsage{},
		Messages:     map[string]protocol.MessageStats{},
	}
	if len(chain.Events) == 0 {
		return st
	}

	st.RuntimeSeconds = runtimeSeconds(chain)
	st.TurnCount = CountTurns(chain.Events)
	st.Tools = toolUsage(chain.Events)
	st.Messages, st.EstimatedTokens = messageStats(chain.Events)

	created := map[string]struct{}{}
	modified := map[string]struct{}{}
	read := map[string]struct{}{}
	deleted := map[string]struct{}{}
	written := map[string]struct{}{}
	touched := map[string]struct{}{}

	for _, ev := range chain.Events {
		for _, call := range ev.ToolCalls {
			accesses, err := a.Classifier.Classify(call)
			if err != nil {
				st.Anomalies++
				continue
			}
			for _, acc := range accesses {
				touched[acc.Path] = struct{}{}
				switch acc.Op {
				case OpRead:
					read[acc.Path] = struct{}{}
				case OpWrite:
					if _, seen := written[acc.Path]; seen {
						modified[acc.Path] = struct{}{}
					} else {
						created[acc.Path] = struct{}{}
					}
					written[acc.Path] = struct{}{}
				case OpModify:
					modified[acc.Path] = struct{}{}
					written[acc.Path] = struct{}{}
				case OpDelete:
					deleted[acc.Path] = struct{}{}
				}
			}
		}
	}

	st.FilesCreated = len(created)
	st.FilesModified = len(modified)
	st.FilesRead = len(read)
	st.FilesDeleted = len(deleted)
	for p := range touched {
		st.TouchedPaths = append(st.TouchedPaths, p)
		if a.isDoc(p) {
			st.DocsTouched = true
		}
	}
	sort.Strings(st.TouchedPaths)
	return st
}

func (a *Analyzer) isDoc(p string) bool {
	ext := strings.ToLower(filepath.Ext(p))
	for _, d := range a.DocExtensions {
		if ext == d {
			return true
		}
	}
	return false
}

// runtimeSeconds spans the earliest and latest valid timestamps. Events
// whose timestamp did not parse are ignored.
func runtimeSeconds(chain transcript.Sidechain) float64 {
	first := chain.FirstAt()
	if first.IsZero() || !chain.LastAt.After(first) {
		return 0
	}
	return chain.LastAt.Sub(first).Seconds()
}

// CountTurns counts user -> assistant alternations. Tool results and
// system events do not change the current speaker.
func CountTurns(events []transcript.Event) int {
	turns := 0
	var last transcript.Role
	for _, ev := range events {
		switch ev.Role {
		case transcript.RoleUser:
			last = transcript.RoleUser
		case transcript.RoleAssistant:
			if last == transcript.RoleUser {
				turns++
			}
			last = transcript.RoleAssistant
		}
	}
	return turns
}

// FormatSummary renders stats for the stop hook's system message and the
// inspect command.
func FormatSummary(s protocol.WorkerStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Worker: %s (%.0f%%, %s)\n", s.WorkerType, s.Confidence*100, s.DetectionReason)
	fmt.Fprintf(&b, "Runtime: %.1fs  Turns: %d  Events: %d\n", s.RuntimeSeconds, s.TurnCount, s.EventCount)
	fmt.Fprintf(&b, "Files: %d created, %d modified, %d read, %d deleted\n",
		s.FilesCreated, s.FilesModified, s.FilesRead, s.FilesDeleted)
	if s.DocsTouched {
		b.WriteString("Documentation: touched\n")
	} else {
		b.WriteString("Documentation: not touched\n")
	}
	if s.Status != "" {
		fmt.Fprintf(&b, "Status: %s\n", s.Status)
	}
	if len(s.Tools) > 0 {
		parts := make([]string, len(s.Tools))
		for i, t := range s.Tools {
			parts[i] = fmt.Sprintf("%s x%d", t.Name, t.Count)
		}
		fmt.Fprintf(&b, "Tools: %s\n", strings.Join(parts, ", "))
	}
	if s.EstimatedTokens > 0 {
		fmt.Fprintf(&b, "Tokens: ~%d\n", s.EstimatedTokens)
	}
	if s.LowConfidence {
		b.WriteString("Warning: low confidence detection\n")
	}
	if s.Anomalies > 0 {
		fmt.Fprintf(&b, "Anomalies: %d\n", s.Anomalies)
	}

	const maxPaths = 10
	if n := len(s.TouchedPaths); n > 0 {
		fmt.Fprintf(&b, "Paths (%d):\n", n)
		for i, p := range s.TouchedPaths {
			if i == maxPaths {
				fmt.Fprintf(&b, "  ... and %d more\n", n-maxPaths)
				break
			}
			fmt.Fprintf(&b, "  %s\n", p)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
