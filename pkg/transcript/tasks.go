package transcript

import (
	"encoding/json"
	"time"

	"submon/pkg/protocol"
)

// TaskInvocation is a main-chain call to the host's worker-spawning tool.
type TaskInvocation struct {
	ToolUseID    string    `json:"tool_use_id"`
	EventUUID    string    `json:"event_uuid"`
	SubagentType string    `json:"subagent_type"`
	Description  string    `json:"description,omitempty"`
	Prompt       string    `json:"prompt,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type taskInput struct {
	SubagentType string `json:"subagent_type"`
	Description  string `json:"description"`
	Prompt       string `json:"prompt"`
}

// TaskInvocations lists Task tool calls made from the main chain, in log
// order. Calls whose input cannot be decoded are skipped.
func (l *Log) TaskInvocations() []TaskInvocation {
	var out []TaskInvocation
	for _, ev := range l.Events {
		if ev.IsSidechain {
			continue
		}
		for _, call := range ev.ToolCalls {
			if call.Name != protocol.TaskTool {
				continue
			}
			var in taskInput
			if err := json.Unmarshal(call.Input, &in); err != nil {
				continue
			}
			in.SubagentType = protocol.NormalizeWorker(in.SubagentType)
			if in.SubagentType == "" {
				in.SubagentType = protocol.GeneralPurposeWorker
			}
			out = append(out, TaskInvocation{
				ToolUseID:    call.ID,
				EventUUID:    ev.UUID,
				SubagentType: in.SubagentType,
				Description:  in.Description,
				Prompt:       in.Prompt,
				Timestamp:    ev.Timestamp,
			})
		}
	}
	return out
}
