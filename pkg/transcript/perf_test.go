package transcript_test

import (
	"bytes"
	"testing"
	"time"

	"submon/pkg/transcript"
	tt "submon/pkg/transcript/transcripttest"
)

// 50k events must parse and reconstruct at 15k events/s or better.
func TestReconstruct_50kEventsThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("throughput test skipped in -short mode")
	}
	const n = 50_000
	data := tt.Generate(t0, n).Bytes()

	start := time.Now()
	l, err := transcript.Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	chain, err := l.Reconstruct("")
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	elapsed := time.Since(start)

	if len(l.Events) != n {
		t.Fatalf("expected %d events, got %d", n, len(l.Events))
	}
	if chain.Len() == 0 {
		t.Fatal("expected a non-empty sidechain")
	}
	if limit := 3300 * time.Millisecond; elapsed > limit {
		t.Errorf("50k events took %v, want < %v", elapsed, limit)
	}
	t.Logf("50k events in %v (%.0f events/s)", elapsed, float64(n)/elapsed.Seconds())
}

func BenchmarkParseAndReconstruct(b *testing.B) {
	data := tt.Generate(t0, 10_000).Bytes()
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l, err := transcript.Parse(bytes.NewReader(data))
		if err != nil {
			b.Fatal(err)
		}
		if _, err := l.Reconstruct(""); err != nil {
			b.Fatal(err)
		}
	}
}
