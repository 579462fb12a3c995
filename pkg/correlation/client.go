package correlation

import (
	"context"
	"log/slog"

	"submon/pkg/detect"
	"submon/pkg/logging"
	"submon/pkg/protocol"
)

// Client is the surface for tool handlers. It never returns errors: an
// unavailable store, an unhashable call, or an expired record all look
// like "no context".
type Client struct {
	svc *Service
	log *slog.Logger
}

// NewClient wraps svc. A nil svc yields a Client that never finds
// anything.
func NewClient(svc *Service, log *slog.Logger) *Client {
	return &Client{svc: svc, log: logging.OrDiscard(log)}
}

// Dial opens the store at path. Failure is logged and produces a Client
// that always returns nil.
func Dial(ctx context.Context, path string, opts Options) *Client {
	svc, err := Open(ctx, path, opts)
	if err != nil {
		logging.OrDiscard(opts.Logger).Debug("correlation store unavailable", "path", path, "err", err)
		svc = nil
	}
	return NewClient(svc, opts.Logger)
}

// Close releases the underlying store.
func (c *Client) Close() error {
	if c.svc == nil {
		return nil
	}
	return c.svc.Close()
}

// Lookup returns the caller context for the call, or nil.
func (c *Client) Lookup(ctx context.Context, toolName string, params any) *protocol.CallerContext {
	if c == nil || c.svc == nil {
		return nil
	}
	cc, ok, err := c.svc.LookupCall(ctx, toolName, params)
	if err != nil {
		c.log.Debug("correlation lookup failed", "tool", toolName, "err", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &cc
}

// Caller converts the looked-up context into a detection result. With no
// context the caller is unknown at confidence 0.
func (c *Client) Caller(ctx context.Context, toolName string, params any) protocol.DetectionResult {
	cc := c.Lookup(ctx, toolName, params)
	if cc == nil {
		return protocol.DetectionResult{
			WorkerType:     protocol.UnknownWorker,
			EvidenceReason: protocol.ReasonNoEvidence,
		}
	}
	return protocol.DetectionResult{
		WorkerType:     cc.AgentType,
		Confidence:     cc.AgentConfidence,
		EvidenceReason: protocol.ReasonCorrelated,
		SessionID:      cc.SessionID,
	}
}

// Authorize resolves the caller of a tool call and applies allow to it,
// so a tool can restrict itself to particular workers.
func (c *Client) Authorize(ctx context.Context, toolName string, params any, allow detect.Capability) detect.Decision {
	return detect.Guard(allow, c.Caller(ctx, toolName, params))
}
