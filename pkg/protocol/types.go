package protocol

import (
	"fmt"
	"strings"
	"time"
)

// NormalizeWorker folds a worker type to its canonical spelling so that
// "Reviewer" from a Task call and "reviewer" from an agent file group
// together. An empty name stays empty.
func NormalizeWorker(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ActiveInvocation is an in-flight delegation. Owned by the registry:
// created by the start hook, removed by the matching stop hook or reaped
// after the staleness threshold.
type ActiveInvocation struct {
	InvocationID string    `json:"invocation_id"`
	SessionID    string    `json:"session_id"`
	WorkerType   string    `json:"worker_type"`
	Description  string    `json:"description,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// Detection evidence reasons, in rule order.
const (
	ReasonSoleActive          = "sole active"
	ReasonTranscriptConfirmed = "transcript-confirmed"
	ReasonTimingDisambiguated = "timing-disambiguated"
	ReasonAmbiguousLatest     = "ambiguous-latest-guess"
	ReasonNoEvidence          = "no evidence"
	ReasonMainThread          = "no active invocation"
	ReasonCorrelated          = "correlated"
)

// DetectionResult is produced once per terminated sidechain and never
// mutated afterwards.
type DetectionResult struct {
	WorkerType     string  `json:"worker_type"`
	Confidence     float64 `json:"confidence"`
	EvidenceReason string  `json:"evidence_reason"`
	InvocationID   string  `json:"invocation_id,omitempty"` // matched ActiveInvocation, empty when none
	Candidates     int     `json:"candidates"`              // active invocations considered
	SessionID      string  `json:"session_id,omitempty"`    // set when resolved through correlation
}

// Below reports whether the result's confidence falls under floor.
func (d DetectionResult) Below(floor float64) bool {
	return d.Confidence < floor
}

// Completion statuses recorded with each run.
const (
	StatusCompleted       = "completed"
	StatusLikelyCompleted = "likely_completed"
	StatusUncertain       = "uncertain"
)

// CompletionStatus grades how sure we are that the run that stopped is
// the one we attributed it to.
func CompletionStatus(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return StatusCompleted
	case confidence >= 0.5:
		return StatusLikelyCompleted
	default:
		return StatusUncertain
	}
}

// String renders a short human-readable form, e.g. "reviewer (100%, sole active)".
func (d DetectionResult) String() string {
	return fmt.Sprintf("%s (%.0f%%, %s)", d.WorkerType, d.Confidence*100, d.EvidenceReason)
}

// WorkerStats is one row of the worker_stats history. Written once,
// immutable thereafter.
type WorkerStats struct {
	ID              int64                   `json:"id,omitempty"`
	SessionID       string                  `json:"session_id"`
	InvocationID    string                  `json:"invocation_id,omitempty"`
	WorkerType      string                  `json:"worker_type"`
	Confidence      float64                 `json:"confidence"`
	DetectionReason string                  `json:"detection_reason"`
	LowConfidence   bool                    `json:"low_confidence"`
	RuntimeSeconds  float64                 `json:"runtime_seconds"`
	TurnCount       int                     `json:"turn_count"`
	EventCount      int                     `json:"event_count"`
	FilesCreated    int                     `json:"files_created"`
	FilesModified   int                     `json:"files_modified"`
	FilesRead       int                     `json:"files_read"`
	FilesDeleted    int                     `json:"files_deleted"`
	TouchedPaths    []string                `json:"touched_paths"` // sorted, distinct
	DocsTouched     bool                    `json:"docs_touched"`
	Anomalies       int                     `json:"anomalies"`
	Status          string                  `json:"status"`
	Tools           []ToolUsage             `json:"tools"`    // most used first
	Messages        map[string]MessageStats `json:"messages"` // keyed by role
	EstimatedTokens int                     `json:"estimated_tokens"`
	DetectedAt      time.Time               `json:"detected_at"`
}

// ToolUsage counts the calls a run made to one tool.
type ToolUsage struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// MessageStats sizes the messages of one role.
type MessageStats struct {
	Count      int `json:"count"`
	TotalChars int `json:"total_chars"`
}

// AvgChars is the mean message size, zero when there are no messages.
func (m MessageStats) AvgChars() float64 {
	if m.Count == 0 {
		return 0
	}
	return float64(m.TotalChars) / float64(m.Count)
}

// ApplyDetection copies a detection result onto the stats row. Confidence
// below floor sets LowConfidence.
func (s *WorkerStats) ApplyDetection(d DetectionResult, floor float64) {
	s.WorkerType = d.WorkerType
	s.InvocationID = d.InvocationID
	s.Confidence = d.Confidence
	s.DetectionReason = d.EvidenceReason
	s.LowConfidence = d.Below(floor)
	s.Status = CompletionStatus(d.Confidence)
}

// CallerContext is the context published for a tool call and returned to
// the process that later looks it up.
type CallerContext struct {
	SessionID       string  `json:"session_id"`
	AgentType       string  `json:"agent_type"`
	AgentConfidence float64 `json:"agent_confidence"`
	ProjectPath     string  `json:"project_path,omitempty"`
}

// CorrelationRecord is one row of the correlations table.
type CorrelationRecord struct {
	Fingerprint  string        `json:"fingerprint"`
	ToolName     string        `json:"tool_name"`
	ParamPreview string        `json:"param_preview,omitempty"`
	Context      CallerContext `json:"context"`
	CreatedAt    time.Time     `json:"created_at"`
}

// HookEvent is one row of the hook_events audit table.
type HookEvent struct {
	ID           int64  `json:"id"`
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	InvocationID string `json:"invocation_id"`
	WorkerType   string `json:"worker_type"`
	Payload      string `json:"payload"`
	CreatedAt    string `json:"created_at"`
}
