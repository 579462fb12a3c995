package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_JSONToWriter(t *testing.T) {
	var buf bytes.Buffer
	log, closeFn, err := New(Config{Level: slog.LevelInfo, Format: FormatJSON, Writer: &buf, Component: "hook"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = closeFn() }()

	log.Info("registered", "worker_type", "reviewer")
	log.Debug("hidden")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if rec["component"] != "hook" || rec["worker_type"] != "reviewer" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNew_FileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "submon.log")

	for i := 0; i < 2; i++ {
		log, closeFn, err := New(Config{Path: path})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		log.Info("line")
		if err := closeFn(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if n := strings.Count(string(data), "msg=line"); n != 2 {
		t.Errorf("expected 2 lines, got %d: %q", n, data)
	}
}

func TestNew_UnwritablePathFallsBack(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	log, _, err := New(Config{Path: filepath.Join(blocker, "x.log"), Writer: &buf})
	if err == nil {
		t.Fatal("expected open error to be reported")
	}
	if log == nil {
		t.Fatal("expected fallback logger")
	}
	log.Info("still works")
	if !strings.Contains(buf.String(), "still works") {
		t.Errorf("fallback writer not used: %q", buf.String())
	}
}
