package hook

import (
	"context"
	"encoding/json"
	"errors"

	"submon/pkg/protocol"
	"submon/pkg/stats"
	"submon/pkg/transcript"
)

type taskInput struct {
	SubagentType string `json:"subagent_type"`
	Description  string `json:"description"`
}

// onInvocationStart registers the worker the Task call is about to spawn.
func (h *Handler) onInvocationStart(ctx context.Context, in Input) {
	var task taskInput
	if len(in.ToolInput) > 0 {
		if err := json.Unmarshal(in.ToolInput, &task); err != nil {
			h.log.Warn("task input", "err", &protocol.AnomalyWarning{Reason: err.Error()})
		}
	}

	id, err := h.deps.Registry.Register(ctx, in.SessionID, task.SubagentType, task.Description)
	if err != nil {
		h.log.Warn("register invocation", "session_id", in.SessionID, "err", err)
		return
	}
	worker := protocol.NormalizeWorker(task.SubagentType)
	if worker == "" {
		worker = protocol.GeneralPurposeWorker
	}
	h.audit(ctx, AuditInvocationStart, in, id, worker, task)
}

// onToolCall publishes the caller context for an out-of-process tool.
func (h *Handler) onToolCall(ctx context.Context, in Input) {
	if h.deps.Correlation == nil {
		return
	}
	active, err := h.deps.Registry.Snapshot(ctx, in.SessionID)
	if err != nil {
		h.log.Debug("snapshot for correlation", "err", err)
		active = nil
	}
	caller := h.deps.Detector.Current(active)

	cc := protocol.CallerContext{
		SessionID:       in.SessionID,
		AgentType:       caller.WorkerType,
		AgentConfidence: caller.Confidence,
		ProjectPath:     in.Cwd,
	}
	fp, err := h.deps.Correlation.PublishCall(ctx, in.ToolName, in.ToolInput, cc)
	if err != nil {
		h.log.Warn("publish correlation", "tool", in.ToolName, "err", err)
		return
	}
	h.log.Debug("correlation published", "tool", in.ToolName, "fingerprint", fp,
		"worker_type", caller.WorkerType, "confidence", caller.Confidence)
	h.audit(ctx, AuditCorrelation, in, caller.InvocationID, caller.WorkerType,
		map[string]any{"tool": in.ToolName, "fingerprint": fp})
}

// onInvocationStop reconstructs the finished sidechain, records its stats
// and retires the matching invocation. It returns the summary message,
// or "" when summaries are off.
func (h *Handler) onInvocationStop(ctx context.Context, in Input) string {
	chain, anomalies := h.reconstruct(in)

	active, err := h.deps.Registry.Snapshot(ctx, in.SessionID)
	if err != nil {
		h.log.Warn("snapshot active invocations", "session_id", in.SessionID, "err", err)
		active = nil
	}
	res := h.deps.Detector.Detect(chain, active)

	st := h.deps.Analyzer.Analyze(chain)
	st.Anomalies += anomalies
	st.SessionID = in.SessionID
	st.ApplyDetection(res, h.deps.ConfidenceFloor)
	st.DetectedAt = h.deps.Now()

	log := h.log.With("session_id", in.SessionID, "invocation_id", res.InvocationID,
		"worker_type", res.WorkerType, "confidence", res.Confidence)
	if st.LowConfidence {
		log.Warn("detection below floor", "err", &protocol.LowConfidenceDetection{
			WorkerType: res.WorkerType, Confidence: res.Confidence, Floor: h.deps.ConfidenceFloor,
		})
	}

	if h.deps.History != nil {
		if _, err := h.deps.History.Insert(ctx, st); err != nil {
			log.Warn("record worker stats", "err", err)
		}
	}

	if res.InvocationID != "" {
		if _, err := h.deps.Registry.Unregister(ctx, res.InvocationID); err != nil {
			log.Warn("unregister invocation", "err", err)
		}
	}

	log.Info("invocation stopped", "reason", res.EvidenceReason, "events", st.EventCount,
		"runtime_seconds", st.RuntimeSeconds, "turns", st.TurnCount)
	h.audit(ctx, AuditInvocationStop, in, res.InvocationID, res.WorkerType, res)

	if !h.deps.Summary {
		return ""
	}
	return stats.FormatSummary(st)
}

// reconstruct loads the sidechain that just finished and counts the log
// anomalies that fall inside it. Any failure yields an empty sidechain so
// detection and bookkeeping still run.
func (h *Handler) reconstruct(in Input) (transcript.Sidechain, int) {
	path := in.AgentTranscriptPath
	if path == "" {
		path = in.TranscriptPath
	}
	if path == "" {
		h.log.Warn("stop hook without transcript path", "session_id", in.SessionID)
		return transcript.Sidechain{}, 0
	}

	l, err := transcript.Load(path)
	if err != nil {
		h.log.Warn("load transcript", "path", path, "err", err)
		return transcript.Sidechain{}, 0
	}
	for i := range l.Anomalies {
		h.log.Debug("transcript anomaly", "path", path, "err", &l.Anomalies[i])
	}

	chain, err := l.Reconstruct(in.SidechainRootHint)
	var rerr *protocol.ReconstructionError
	if errors.As(err, &rerr) {
		h.log.Warn("no sidechain to analyze", "err", rerr)
		return transcript.Sidechain{}, 0
	}
	n := l.AnomaliesIn(chain)
	if n > 0 {
		h.log.Info("transcript anomalies in sidechain", "path", path, "root", chain.Root.UUID, "count", n)
	}
	return chain, n
}
