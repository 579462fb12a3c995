// Package hook implements the host lifecycle hooks.
//
// Every firing is its own process: it reads one JSON payload, updates the
// shared state, and answers {"continue":true}. Nothing here may block the
// host, so every failure is logged and swallowed.
package hook

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"submon/pkg/correlation"
	"submon/pkg/detect"
	"submon/pkg/history"
	"submon/pkg/logging"
	"submon/pkg/protocol"
	"submon/pkg/registry"
	"submon/pkg/stats"
	"submon/pkg/store"
)

// Host hook event names.
const (
	EventPreToolUse   = "PreToolUse"
	EventSubagentStop = "SubagentStop"
)

// Audit event types written to hook_events.
const (
	AuditInvocationStart = "invocation_start"
	AuditInvocationStop  = "invocation_stop"
	AuditCorrelation     = "correlation_publish"
)

//go:embed input.schema.json
var inputSchema []byte

const schemaURL = "submon://hook/input.schema.json"

// Input is the host hook payload.
type Input struct {
	HookEventName       string          `json:"hook_event_name"`
	SessionID           string          `json:"session_id"`
	TranscriptPath      string          `json:"transcript_path"`
	AgentTranscriptPath string          `json:"agent_transcript_path"`
	AgentID             string          `json:"agent_id"`
	SidechainRootHint   string          `json:"sidechain_root_hint"`
	Cwd                 string          `json:"cwd"`
	ToolName            string          `json:"tool_name"`
	ToolInput           json.RawMessage `json:"tool_input"`
}

// Response is written back to the host.
type Response struct {
	Continue      bool   `json:"continue"`
	SystemMessage string `json:"systemMessage,omitempty"`
}

// continueJSON is the pre-encoded default response.
var continueJSON = []byte(`{"continue":true}`)

// Deps are the collaborators of a Handler. DB, Correlation and History
// may be nil when the database could not be opened; the affected steps
// are skipped.
type Deps struct {
	Registry        *registry.Registry
	Detector        *detect.Detector
	Analyzer        *stats.Analyzer
	DB              *sql.DB
	History         *history.Store
	Correlation     *correlation.Service
	ToolPrefixes    []string
	ConfidenceFloor float64
	Summary         bool
	Logger          *slog.Logger
	Now             func() time.Time
}

// Handler dispatches hook payloads.
type Handler struct {
	deps   Deps
	log    *slog.Logger
	schema *jsonschema.Schema
}

// New validates deps and compiles the payload schema.
func New(deps Deps) (*Handler, error) {
	if deps.Registry == nil || deps.Detector == nil || deps.Analyzer == nil {
		return nil, errors.New("hook: registry, detector and analyzer are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if len(deps.ToolPrefixes) == 0 {
		deps.ToolPrefixes = []string{"mcp__"}
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(inputSchema)); err != nil {
		return nil, fmt.Errorf("add hook schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile hook schema: %w", err)
	}

	return &Handler{deps: deps, log: logging.OrDiscard(deps.Logger), schema: schema}, nil
}

// Handle processes one payload and returns the response bytes. event,
// when non-empty, overrides hook_event_name. It never fails.
func (h *Handler) Handle(ctx context.Context, payload []byte, event string) (out []byte) {
	out = continueJSON
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("hook panicked", "panic", r)
			out = continueJSON
		}
	}()

	in, err := h.decode(payload)
	if err != nil {
		h.log.Warn("ignoring hook payload", "err", err)
		return continueJSON
	}
	if event != "" {
		in.HookEventName = event
	}

	switch {
	case in.HookEventName == EventPreToolUse && in.ToolName == protocol.TaskTool:
		h.onInvocationStart(ctx, in)
	case in.HookEventName == EventPreToolUse && h.publishes(in.ToolName):
		h.onToolCall(ctx, in)
	case in.HookEventName == EventSubagentStop:
		if msg := h.onInvocationStop(ctx, in); msg != "" {
			return encode(Response{Continue: true, SystemMessage: msg})
		}
	default:
		h.log.Debug("hook event ignored", "event", in.HookEventName, "tool", in.ToolName)
	}
	return continueJSON
}

// decode validates payload against the schema and decodes it. Failures
// are reported as *protocol.AnomalyWarning.
func (h *Handler) decode(payload []byte) (Input, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Input{}, &protocol.AnomalyWarning{Reason: fmt.Sprintf("invalid hook json: %v", err)}
	}
	if err := h.schema.Validate(doc); err != nil {
		return Input{}, &protocol.AnomalyWarning{Reason: fmt.Sprintf("hook payload rejected: %v", err)}
	}
	var in Input
	if err := json.Unmarshal(payload, &in); err != nil {
		return Input{}, &protocol.AnomalyWarning{Reason: fmt.Sprintf("decode hook payload: %v", err)}
	}
	return in, nil
}

func (h *Handler) publishes(tool string) bool {
	for _, p := range h.deps.ToolPrefixes {
		if p != "" && strings.HasPrefix(tool, p) {
			return true
		}
	}
	return false
}

// audit appends to hook_events when the database is available.
func (h *Handler) audit(ctx context.Context, typ string, in Input, invocationID, worker string, payload any) {
	if h.deps.DB == nil {
		return
	}
	var body string
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			body = string(b)
		}
	}
	err := store.LogEvent(ctx, h.deps.DB, protocol.HookEvent{
		Type: typ, SessionID: in.SessionID, InvocationID: invocationID, WorkerType: worker, Payload: body,
	})
	if err != nil {
		h.log.Warn("audit write failed", "type", typ, "err", err)
	}
}

func encode(r Response) []byte {
	out, err := json.Marshal(r)
	if err != nil {
		return continueJSON
	}
	return out
}
