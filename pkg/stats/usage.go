package stats

import (
	"bytes"
	"sort"
	"strings"

	"submon/pkg/protocol"
	"submon/pkg/transcript"
)

// Tool categories.
const (
	CategoryFile     = "file"
	CategoryWeb      = "web"
	CategoryCommand  = "command"
	CategoryCode     = "code"
	CategoryGit      = "git"
	CategorySearch   = "search"
	CategorySubagent = "subagent"
	CategoryMCP      = "mcp"
	CategoryOther    = "other"
)

var toolCategories = map[string]string{
	"Read": CategoryFile, "Write": CategoryFile, "Edit": CategoryFile, "MultiEdit": CategoryFile,
	"Create": CategoryFile, "Move": CategoryFile, "Delete": CategoryFile,
	"WebSearch": CategoryWeb, "WebFetch": CategoryWeb,
	"Bash": CategoryCommand, "Shell": CategoryCommand, "Command": CategoryCommand,
	"Notebook": CategoryCode, "NotebookEdit": CategoryCode, "Debug": CategoryCode, "Test": CategoryCode, "Lint": CategoryCode,
	"GitAdd": CategoryGit, "GitCommit": CategoryGit, "GitPush": CategoryGit, "GitStatus": CategoryGit,
	"Grep": CategorySearch, "Find": CategorySearch, "Glob": CategorySearch, "LS": CategorySearch,
	protocol.TaskTool: CategorySubagent,
}

// CategorizeTool groups a tool name. Out-of-process tools (mcp__server__tool)
// are CategoryMCP; names it does not know are CategoryOther.
func CategorizeTool(name string) string {
	if strings.HasPrefix(name, "mcp__") {
		return CategoryMCP
	}
	if c, ok := toolCategories[name]; ok {
		return c
	}
	return CategoryOther
}

// charsPerToken is the rough ratio used for token estimates.
const charsPerToken = 4

// toolUsage counts tool calls by name, most used first, ties by name.
func toolUsage(events []transcript.Event) []protocol.ToolUsage {
	counts := map[string]int{}
	for _, ev := range events {
		for _, call := range ev.ToolCalls {
			counts[call.Name]++
		}
	}

	out := make([]protocol.ToolUsage, 0, len(counts))
	for name, n := range counts {
		out = append(out, protocol.ToolUsage{Name: name, Category: CategorizeTool(name), Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// messageStats sizes messages per role and estimates the token count of
// the whole chain.
func messageStats(events []transcript.Event) (map[string]protocol.MessageStats, int) {
	out := map[string]protocol.MessageStats{}
	total := 0
	for _, ev := range events {
		n := contentChars(ev)
		m := out[string(ev.Role)]
		m.Count++
		m.TotalChars += n
		out[string(ev.Role)] = m
		total += n
	}
	return out, total / charsPerToken
}

// contentChars is the size of an event's content: the text of a plain
// string message, the raw JSON of a block list.
func contentChars(ev transcript.Event) int {
	p := bytes.TrimSpace(ev.Payload)
	if len(p) == 0 || p[0] == '"' || bytes.Equal(p, []byte("null")) {
		return len(ev.Text)
	}
	return len(p)
}
