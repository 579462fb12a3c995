// Package transcript parses a host session log (JSONL) and reconstructs the
// sidechains that delegated workers write into it.
//
// A log is read once, in order, into an index of uuid -> position and
// position -> children. Everything else (roots, sidechains, hint
// resolution) is computed from that index without re-reading the file.
package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is the speaker of an event.
type Role string

// Event roles. A user record whose content is only tool results is
// RoleToolResult.
const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleSystem     Role = "system"
	RoleToolResult Role = "tool-result"
)

// ToolCall is one tool_use block of an assistant event.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Event is one record of the log.
type Event struct {
	UUID        string
	ParentUUID  string // empty when the record has no parent
	Type        string // raw record type: user, assistant, system, ...
	Role        Role
	Timestamp   time.Time
	IsSidechain bool
	SessionID   string
	Text        string // text blocks joined with newlines
	ToolCalls   []ToolCall
	Payload     json.RawMessage // raw message.content
	Line        int             // 1-based position in the log
}

type rawEntry struct {
	UUID        string      `json:"uuid"`
	ParentUUID  *string     `json:"parentUuid"`
	Type        string      `json:"type"`
	Timestamp   string      `json:"timestamp"`
	IsSidechain bool        `json:"isSidechain"`
	SessionID   string      `json:"sessionId"`
	Message     *rawMessage `json:"message"`
	Content     string      `json:"content"` // system records carry top-level content
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// errNoUUID marks metadata records (summaries, snapshots) that are not
// part of the event graph.
var errNoUUID = errors.New("record has no uuid")

// decodeEvent turns one JSONL line into an Event. A non-nil warning means
// the event is usable but part of it was malformed.
func decodeEvent(line []byte, lineNo int) (ev Event, warning string, err error) {
	var raw rawEntry
	if err := json.Unmarshal(line, &raw); err != nil {
		return Event{}, "", fmt.Errorf("invalid json: %w", err)
	}
	if raw.UUID == "" {
		return Event{}, "", errNoUUID
	}

	ev = Event{
		UUID:        raw.UUID,
		Type:        raw.Type,
		IsSidechain: raw.IsSidechain,
		SessionID:   raw.SessionID,
		Line:        lineNo,
	}
	if raw.ParentUUID != nil {
		ev.ParentUUID = *raw.ParentUUID
	}

	if raw.Timestamp != "" {
		ts, terr := time.Parse(time.RFC3339Nano, raw.Timestamp)
		if terr != nil {
			warning = fmt.Sprintf("bad timestamp %q", raw.Timestamp)
		}
		ev.Timestamp = ts
	}

	role := raw.Type
	if raw.Message != nil && raw.Message.Role != "" {
		role = raw.Message.Role
	}
	ev.Role = Role(role)

	if raw.Message == nil {
		ev.Text = raw.Content
		if raw.Type == "system" {
			ev.Role = RoleSystem
		}
		return ev, warning, nil
	}

	ev.Payload = raw.Message.Content
	onlyResults, cerr := decodeContent(raw.Message.Content, &ev)
	if cerr != nil && warning == "" {
		warning = cerr.Error()
	}
	if ev.Role == RoleUser && onlyResults {
		ev.Role = RoleToolResult
	}
	return ev, warning, nil
}

// decodeContent fills Text and ToolCalls. It reports whether the content
// was a non-empty list made only of tool_result blocks.
func decodeContent(content json.RawMessage, ev *Event) (bool, error) {
	content = bytes.TrimSpace(content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return false, nil
	}

	switch content[0] {
	case '"':
		if err := json.Unmarshal(content, &ev.Text); err != nil {
			return false, fmt.Errorf("bad string content: %w", err)
		}
		return false, nil
	case '[':
	default:
		return false, fmt.Errorf("unexpected content type %q", content[0])
	}

	var blocks []rawBlock
	if err := json.Unmarshal(content, &blocks); err != nil {
		return false, fmt.Errorf("bad content blocks: %w", err)
	}

	var texts []string
	results := 0
	for _, b := range blocks {
		switch b.Type {
		case "text":
			texts = append(texts, b.Text)
		case "tool_use":
			ev.ToolCalls = append(ev.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Input: b.Input})
		case "tool_result":
			results++
		}
	}
	ev.Text = strings.Join(texts, "\n")
	return len(blocks) > 0 && results == len(blocks), nil
}
