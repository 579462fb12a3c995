package detect

import (
	"context"
	"errors"
	"fmt"

	"submon/pkg/protocol"
)

// ErrSkipped is returned by a wrapped handler whose guard denied the caller.
var ErrSkipped = errors.New("caller not permitted")

// Capability decides whether a detected caller may proceed.
type Capability func(protocol.DetectionResult) bool

// AllowWorkers permits only the named worker types.
func AllowWorkers(names ...string) Capability {
	set := nameSet(names)
	return func(r protocol.DetectionResult) bool {
		_, ok := set[protocol.NormalizeWorker(r.WorkerType)]
		return ok
	}
}

// BlockWorkers permits every worker type except the named ones.
func BlockWorkers(names ...string) Capability {
	set := nameSet(names)
	return func(r protocol.DetectionResult) bool {
		_, blocked := set[protocol.NormalizeWorker(r.WorkerType)]
		return !blocked
	}
}

// MinConfidence permits results at or above min.
func MinConfidence(minimum float64) Capability {
	return func(r protocol.DetectionResult) bool { return r.Confidence >= minimum }
}

// All permits a caller only when every capability does. All() permits
// everyone.
func All(caps ...Capability) Capability {
	return func(r protocol.DetectionResult) bool {
		for _, c := range caps {
			if c != nil && !c(r) {
				return false
			}
		}
		return true
	}
}

// Decision is the outcome of a guard check.
type Decision struct {
	Proceed bool
	Caller  protocol.DetectionResult
}

// Guard applies allow to res. A nil allow permits everyone.
func Guard(allow Capability, res protocol.DetectionResult) Decision {
	return Decision{Proceed: allow == nil || allow(res), Caller: res}
}

// Handler is the work a guard protects.
type Handler func(ctx context.Context, caller protocol.DetectionResult) error

// Wrap returns h behind a guard. Denied callers get an error wrapping
// ErrSkipped and h is not called.
func Wrap(allow Capability, h Handler) Handler {
	return func(ctx context.Context, caller protocol.DetectionResult) error {
		if d := Guard(allow, caller); !d.Proceed {
			return fmt.Errorf("%s: %w", caller, ErrSkipped)
		}
		return h(ctx, caller)
	}
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[protocol.NormalizeWorker(n)] = struct{}{}
	}
	return set
}
