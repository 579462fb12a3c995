// Package transcripttest builds synthetic session logs for tests and
// benchmarks.
package transcripttest

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

// Tool is a tool_use block.
type Tool struct {
	ID    string
	Name  string
	Input any
}

// Entry describes one log record. At is an offset from the builder's base
// time. A user entry with Results > 0 and no Text becomes a tool-result
// record.
type Entry struct {
	UUID      string
	Parent    string // empty encodes a null parent
	Sidechain bool
	Role      string // user | assistant | system
	At        time.Duration
	Text      string
	Tools     []Tool
	Results   int
	Stamp     string // written verbatim instead of the computed timestamp
}

// Builder accumulates JSONL lines.
type Builder struct {
	Base    time.Time
	Session string
	buf     bytes.Buffer
}

// New returns a builder whose offsets are relative to base.
func New(base time.Time) *Builder {
	return &Builder{Base: base, Session: "session-1"}
}

// Add appends one record.
func (b *Builder) Add(e Entry) *Builder {
	var parent any
	if e.Parent != "" {
		parent = e.Parent
	}

	var content any = e.Text
	if len(e.Tools) > 0 || e.Results > 0 {
		var blocks []map[string]any
		if e.Text != "" {
			blocks = append(blocks, map[string]any{"type": "text", "text": e.Text})
		}
		for _, t := range e.Tools {
			blocks = append(blocks, map[string]any{"type": "tool_use", "id": t.ID, "name": t.Name, "input": t.Input})
		}
		for i := 0; i < e.Results; i++ {
			blocks = append(blocks, map[string]any{"type": "tool_result", "tool_use_id": "t", "content": "ok"})
		}
		content = blocks
	}

	rec := map[string]any{
		"uuid":        e.UUID,
		"parentUuid":  parent,
		"isSidechain": e.Sidechain,
		"type":        e.Role,
		"sessionId":   b.Session,
		"timestamp":   b.Base.Add(e.At).UTC().Format(time.RFC3339Nano),
	}
	if e.Stamp != "" {
		rec["timestamp"] = e.Stamp
	}
	if e.Role == "system" {
		rec["content"] = e.Text
	} else {
		rec["message"] = map[string]any{"role": e.Role, "content": content}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		panic(err)
	}
	b.buf.Write(line)
	b.buf.WriteByte('\n')
	return b
}

// Raw appends a line verbatim.
func (b *Builder) Raw(line string) *Builder {
	b.buf.WriteString(line)
	b.buf.WriteByte('\n')
	return b
}

// Bytes returns the log contents.
func (b *Builder) Bytes() []byte { return b.buf.Bytes() }

// WriteFile writes the log into dir and returns its path.
func (b *Builder) WriteFile(tb testing.TB, dir string) string {
	tb.Helper()
	path := filepath.Join(dir, "session.jsonl")
	if err := os.WriteFile(path, b.buf.Bytes(), 0o600); err != nil {
		tb.Fatalf("write transcript: %v", err)
	}
	return path
}

// Generate builds a log of n events: a main chain with a Task call every
// 50 events, each followed by a sidechain of alternating user/assistant
// events that read and edit files.
func Generate(base time.Time, n int) *Builder {
	b := New(base)
	prev := ""
	i := 0
	id := func() string { i++; return "e" + strconv.Itoa(i) }

	for i < n {
		u := id()
		b.Add(Entry{UUID: u, Parent: prev, Role: "user", At: time.Duration(i) * time.Millisecond, Text: "please continue"})
		prev = u
		if i >= n {
			break
		}

		a := id()
		b.Add(Entry{UUID: a, Parent: prev, Role: "assistant", At: time.Duration(i) * time.Millisecond,
			Tools: []Tool{{ID: "tu" + a, Name: "Task", Input: map[string]any{"subagent_type": "reviewer", "description": "review"}}}})
		prev = a

		side := prev
		for k := 0; k < 48 && i < n; k++ {
			s := id()
			e := Entry{UUID: s, Parent: side, Sidechain: true, At: time.Duration(i) * time.Millisecond}
			if k%2 == 0 {
				e.Role = "user"
				e.Text = "I am the reviewer"
			} else {
				e.Role = "assistant"
				e.Tools = []Tool{
					{ID: "r" + s, Name: "Read", Input: map[string]any{"file_path": "/repo/file" + strconv.Itoa(k) + ".go"}},
					{ID: "w" + s, Name: "Edit", Input: map[string]any{"file_path": "/repo/README.md", "old_string": "a", "new_string": "b"}},
				}
			}
			b.Add(e)
			side = s
		}
	}
	return b
}
