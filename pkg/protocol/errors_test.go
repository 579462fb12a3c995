package protocol_test

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"submon/pkg/protocol"
)

func TestReconstructionError_ErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("stop hook: %w", &protocol.ReconstructionError{
		Path:   "/tmp/session.jsonl",
		Hint:   "abc",
		Reason: "no sidechain events",
	})

	var target *protocol.ReconstructionError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to extract ReconstructionError")
	}
	if target.Hint != "abc" {
		t.Errorf("expected Hint 'abc', got %q", target.Hint)
	}
	if !strings.Contains(wrapped.Error(), "no sidechain events") {
		t.Errorf("message missing reason: %q", wrapped.Error())
	}
}

func TestStoreUnavailableError_IsSentinelAndCause(t *testing.T) {
	err := &protocol.StoreUnavailableError{Op: "lock registry", Path: "/x", Err: os.ErrDeadlineExceeded}
	wrapped := fmt.Errorf("register: %w", err)

	if !errors.Is(wrapped, protocol.ErrStoreUnavailable) {
		t.Error("expected errors.Is(ErrStoreUnavailable)")
	}
	if !errors.Is(wrapped, os.ErrDeadlineExceeded) {
		t.Error("expected errors.Is(cause)")
	}
}

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"anomaly", &protocol.AnomalyWarning{Line: 4, Reason: "bad json"}, "line 4"},
		{"anomaly uuid", &protocol.AnomalyWarning{Line: 2, UUID: "u1", Reason: "dup"}, "(u1)"},
		{"low confidence", &protocol.LowConfidenceDetection{WorkerType: "x", Confidence: 0.5, Floor: 0.7}, "0.50 < 0.70"},
		{"stale", &protocol.StaleEntryReaped{InvocationID: "i1", WorkerType: "w", Age: 2 * time.Hour}, "2h0m0s"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !strings.Contains(tc.err.Error(), tc.want) {
				t.Errorf("%q does not contain %q", tc.err.Error(), tc.want)
			}
		})
	}
}

func TestApplyDetection_LowConfidenceFloor(t *testing.T) {
	var s protocol.WorkerStats
	s.ApplyDetection(protocol.DetectionResult{
		WorkerType: "reviewer", Confidence: 0.5, EvidenceReason: protocol.ReasonAmbiguousLatest, InvocationID: "i1",
	}, 0.7)
	if !s.LowConfidence {
		t.Error("expected LowConfidence for 0.5 < 0.7")
	}
	if s.WorkerType != "reviewer" || s.InvocationID != "i1" {
		t.Errorf("detection not applied: %+v", s)
	}

	s.ApplyDetection(protocol.DetectionResult{WorkerType: "reviewer", Confidence: 1.0}, 0.7)
	if s.LowConfidence {
		t.Error("expected LowConfidence=false for 1.0")
	}
}
