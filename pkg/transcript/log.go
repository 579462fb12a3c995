package transcript

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"submon/pkg/protocol"
)

// Log is a parsed, indexed session log.
type Log struct {
	Path      string
	Events    []Event
	Anomalies []protocol.AnomalyWarning

	index    map[string]int // uuid -> position, first occurrence wins
	parent   []int          // position -> parent position, -1 when none or forward
	children [][]int        // position -> child positions in log order
}

// Sidechain is one delegated worker's private thread, ordered by
// (timestamp, log position). An event without a usable timestamp sorts
// as if it carried its parent's.
type Sidechain struct {
	Root   Event
	Events []Event
	LastAt time.Time // latest valid timestamp
}

// Len reports the number of events.
func (s Sidechain) Len() int { return len(s.Events) }

// FirstAt is the earliest valid timestamp, zero when no event has one.
func (s Sidechain) FirstAt() time.Time {
	for _, ev := range s.Events {
		if !ev.Timestamp.IsZero() {
			return ev.Timestamp
		}
	}
	return time.Time{}
}

// Load opens and parses the log at path.
func Load(path string) (*Log, error) {
	//nolint:gosec // path is supplied by the host hook payload or the operator
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer func() { _ = f.Close() }()

	l, err := Parse(f)
	if err != nil {
		return nil, err
	}
	l.Path = path
	return l, nil
}

// Parse reads a JSONL log in one pass. Malformed lines, metadata records
// without a uuid, and duplicate uuids never fail the parse: malformed and
// duplicate records are recorded in Anomalies and skipped.
func Parse(r io.Reader) (*Log, error) {
	l := &Log{index: make(map[string]int)}

	br := bufio.NewReaderSize(r, 256*1024)
	lineNo := 0
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			l.add(bytes.TrimSpace(line), lineNo)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read transcript line %d: %w", lineNo+1, err)
		}
	}

	l.link()
	return l, nil
}

func (l *Log) add(line []byte, lineNo int) {
	if len(line) == 0 {
		return
	}
	ev, warning, err := decodeEvent(line, lineNo)
	if errors.Is(err, errNoUUID) {
		return
	}
	if err != nil {
		l.Anomalies = append(l.Anomalies, protocol.AnomalyWarning{Line: lineNo, Reason: err.Error()})
		return
	}
	if _, dup := l.index[ev.UUID]; dup {
		l.Anomalies = append(l.Anomalies, protocol.AnomalyWarning{Line: lineNo, UUID: ev.UUID, Reason: "duplicate uuid"})
		return
	}
	if warning != "" {
		l.Anomalies = append(l.Anomalies, protocol.AnomalyWarning{Line: lineNo, UUID: ev.UUID, Reason: warning})
	}
	l.index[ev.UUID] = len(l.Events)
	l.Events = append(l.Events, ev)
}

// link resolves parent positions. A parent that is missing or appears
// later in the log is treated as absent, which keeps the graph acyclic.
func (l *Log) link() {
	l.parent = make([]int, len(l.Events))
	l.children = make([][]int, len(l.Events))
	for i, ev := range l.Events {
		l.parent[i] = -1
		if ev.ParentUUID == "" {
			continue
		}
		p, ok := l.index[ev.ParentUUID]
		if !ok || p >= i {
			continue
		}
		l.parent[i] = p
		l.children[p] = append(l.children[p], i)
	}
}

// Lookup returns the event with the given uuid.
func (l *Log) Lookup(uuid string) (Event, bool) {
	i, ok := l.index[uuid]
	if !ok {
		return Event{}, false
	}
	return l.Events[i], true
}

// isRoot reports whether position i starts a sidechain: a sidechain event
// whose parent is null, missing, later in the log, or in the main chain.
func (l *Log) isRoot(i int) bool {
	if !l.Events[i].IsSidechain {
		return false
	}
	p := l.parent[i]
	return p < 0 || !l.Events[p].IsSidechain
}

// Roots returns every sidechain root in log order.
func (l *Log) Roots() []Event {
	var roots []Event
	for i := range l.Events {
		if l.isRoot(i) {
			roots = append(roots, l.Events[i])
		}
	}
	return roots
}

// Sidechains returns every sidechain in order of its root's log position.
func (l *Log) Sidechains() []Sidechain {
	var out []Sidechain
	for i := range l.Events {
		if l.isRoot(i) {
			out = append(out, l.collect(i))
		}
	}
	return out
}

// Reconstruct returns the sidechain containing the hint event. The hint
// may name any event of the sidechain. When hint is empty, unknown, or
// not a sidechain event, the most recently completed sidechain is
// returned instead. An empty log yields an empty Sidechain; a log with
// events but no sidechain yields a *protocol.ReconstructionError.
func (l *Log) Reconstruct(hint string) (Sidechain, error) {
	if len(l.Events) == 0 {
		return Sidechain{}, nil
	}

	if i, ok := l.index[hint]; ok && l.Events[i].IsSidechain {
		return l.collect(l.rootOf(i)), nil
	}

	best := -1
	var bestChain Sidechain
	bestLast := -1
	for i := range l.Events {
		if !l.isRoot(i) {
			continue
		}
		chain := l.collect(i)
		last := chain.Events[len(chain.Events)-1].Line
		if best < 0 || chain.LastAt.After(bestChain.LastAt) ||
			(chain.LastAt.Equal(bestChain.LastAt) && last > bestLast) {
			best, bestChain, bestLast = i, chain, last
		}
	}
	if best < 0 {
		return Sidechain{}, &protocol.ReconstructionError{Path: l.Path, Hint: hint, Reason: "no sidechain events"}
	}
	return bestChain, nil
}

// AnomaliesIn counts the anomalies that belong to chain: those naming one
// of its events, plus undecodable lines between its first and last line.
func (l *Log) AnomaliesIn(chain Sidechain) int {
	if len(chain.Events) == 0 {
		return 0
	}
	ids := make(map[string]struct{}, len(chain.Events))
	lo, hi := chain.Events[0].Line, chain.Events[0].Line
	for _, ev := range chain.Events {
		ids[ev.UUID] = struct{}{}
		lo, hi = min(lo, ev.Line), max(hi, ev.Line)
	}

	n := 0
	for _, a := range l.Anomalies {
		if a.UUID != "" {
			if _, ok := ids[a.UUID]; ok {
				n++
			}
			continue
		}
		if a.Line > lo && a.Line < hi {
			n++
		}
	}
	return n
}

// rootOf walks parent links from a sidechain event up to its root.
func (l *Log) rootOf(i int) int {
	for !l.isRoot(i) {
		i = l.parent[i]
	}
	return i
}

// collect gathers the sidechain rooted at position root by following
// child links through sidechain events only.
func (l *Log) collect(root int) Sidechain {
	positions := []int{root}
	stack := []int{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, c := range l.children[n] {
			if !l.Events[c].IsSidechain {
				continue
			}
			positions = append(positions, c)
			stack = append(stack, c)
		}
	}

	// Parents precede children in the log, so a single pass in log order
	// can hand a parent's time down to children that have none.
	sort.Ints(positions)
	at := make(map[int]time.Time, len(positions))
	for _, p := range positions {
		ts := l.Events[p].Timestamp
		if ts.IsZero() && p != root {
			ts = at[l.parent[p]]
		}
		at[p] = ts
	}

	sort.SliceStable(positions, func(a, b int) bool {
		ta, tb := at[positions[a]], at[positions[b]]
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return positions[a] < positions[b]
	})

	chain := Sidechain{Root: l.Events[root], Events: make([]Event, len(positions))}
	for k, p := range positions {
		chain.Events[k] = l.Events[p]
		if ts := l.Events[p].Timestamp; ts.After(chain.LastAt) {
			chain.LastAt = ts
		}
	}
	return chain
}
