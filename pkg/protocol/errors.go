package protocol

import (
	"errors"
	"fmt"
	"time"
)

// ErrStoreUnavailable is the sentinel wrapped by every StoreUnavailableError.
// Tracker and correlation callers treat it as "no data".
var ErrStoreUnavailable = errors.New("store unavailable")

// ReconstructionError reports that no sidechain matching the request exists
// in the event log. The stop hook logs it and still reports success.
type ReconstructionError struct {
	Path   string // event log path, empty when parsed from a reader
	Hint   string // requested root hint, may be empty
	Reason string
}

func (e *ReconstructionError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("reconstruct sidechain %s in %q: %s", e.Hint, e.Path, e.Reason)
	}
	return fmt.Sprintf("reconstruct sidechain in %q: %s", e.Path, e.Reason)
}

// AnomalyWarning describes one malformed event or payload that was skipped.
// It is counted, never returned as a fatal error.
type AnomalyWarning struct {
	Line   int    // 1-based log line, 0 when unknown
	UUID   string // event uuid when known
	Reason string
}

func (e *AnomalyWarning) Error() string {
	if e.UUID != "" {
		return fmt.Sprintf("anomaly at line %d (%s): %s", e.Line, e.UUID, e.Reason)
	}
	return fmt.Sprintf("anomaly at line %d: %s", e.Line, e.Reason)
}

// LowConfidenceDetection marks a detection whose confidence fell below the
// configured floor. It is surfaced in WorkerStats, not treated as a failure.
type LowConfidenceDetection struct {
	WorkerType string
	Confidence float64
	Floor      float64
}

func (e *LowConfidenceDetection) Error() string {
	return fmt.Sprintf("low confidence detection of %s: %.2f < %.2f",
		e.WorkerType, e.Confidence, e.Floor)
}

// StoreUnavailableError wraps lock timeouts, missing files and schema
// failures of the shared state store.
type StoreUnavailableError struct {
	Op   string // e.g. "lock registry", "open db"
	Path string
	Err  error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes both the cause and ErrStoreUnavailable to errors.Is.
func (e *StoreUnavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// StaleEntryReaped is informational: an ActiveInvocation exceeded the
// staleness threshold and was dropped from the registry.
type StaleEntryReaped struct {
	InvocationID string
	WorkerType   string
	Age          time.Duration
}

func (e *StaleEntryReaped) Error() string {
	return fmt.Sprintf("reaped stale invocation %s (%s) after %s",
		e.InvocationID, e.WorkerType, e.Age.Round(time.Second))
}
