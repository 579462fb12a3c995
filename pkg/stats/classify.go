package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"submon/pkg/transcript"
)

// Op is the kind of file access a tool call performs.
type Op int

// File operations. OpWrite is resolved into created or modified by the
// analyzer.
const (
	OpRead Op = iota + 1
	OpWrite
	OpModify
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Access is one file touched by a tool call.
type Access struct {
	Op   Op
	Path string
}

// Rule extracts file accesses from a tool call's input. An error marks
// the input as malformed.
type Rule func(input json.RawMessage) ([]Access, error)

var errMissingPath = errors.New("missing path argument")

// Classifier maps tool names to extraction rules.
type Classifier struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewClassifier returns a classifier with the built-in rules for the
// host's file tools.
func NewClassifier() *Classifier {
	c := &Classifier{rules: make(map[string]Rule)}
	c.Register("Read", PathRule("file_path", OpRead))
	c.Register("Write", PathRule("file_path", OpWrite))
	c.Register("Edit", PathRule("file_path", OpModify))
	c.Register("MultiEdit", PathRule("file_path", OpModify))
	c.Register("NotebookEdit", PathRule("notebook_path", OpModify))
	c.Register("Bash", ShellDeleteRule("command"))
	return c
}

// Register adds or replaces the rule for a tool.
func (c *Classifier) Register(tool string, rule Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[tool] = rule
}

// Classify returns the accesses of call. Tools without a rule touch no
// files.
func (c *Classifier) Classify(call transcript.ToolCall) ([]Access, error) {
	c.mu.RLock()
	rule, ok := c.rules[call.Name]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	acc, err := rule(call.Input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call.Name, err)
	}
	return acc, nil
}

// PathRule reads a single string argument as the path.
func PathRule(field string, op Op) Rule {
	return func(input json.RawMessage) ([]Access, error) {
		var args map[string]any
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}
		p, _ := args[field].(string)
		if strings.TrimSpace(p) == "" {
			return nil, errMissingPath
		}
		return []Access{{Op: op, Path: p}}, nil
	}
}

// ShellDeleteRule finds rm and unlink invocations in a shell command and
// reports their operands as deleted.
func ShellDeleteRule(field string) Rule {
	return func(input json.RawMessage) ([]Access, error) {
		var args map[string]any
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("decode input: %w", err)
		}
		cmd, ok := args[field].(string)
		if !ok {
			return nil, fmt.Errorf("missing %s argument", field)
		}
		var out []Access
		for _, p := range deletedPaths(cmd) {
			out = append(out, Access{Op: OpDelete, Path: p})
		}
		return out, nil
	}
}

// deletedPaths splits cmd on shell separators and collects non-flag
// operands of rm/unlink. Quoting is handled only for simple cases.
func deletedPaths(cmd string) []string {
	for _, sep := range []string{"&&", "||", ";", "|", "\n"} {
		cmd = strings.ReplaceAll(cmd, sep, " ; ")
	}

	var out []string
	deleting := false
	atStart := true
	for _, tok := range strings.Fields(cmd) {
		if tok == ";" {
			deleting, atStart = false, true
			continue
		}
		if atStart {
			atStart = false
			if tok == "sudo" || tok == "command" {
				atStart = true
				continue
			}
			base := path.Base(tok)
			deleting = base == "rm" || base == "unlink"
			continue
		}
		if !deleting || strings.HasPrefix(tok, "-") {
			continue
		}
		tok = strings.Trim(tok, `"'`)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
