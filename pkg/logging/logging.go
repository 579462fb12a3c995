// Package logging builds the slog loggers used by submon processes.
//
// Hook processes must keep stdout free for the hook response, so they log to
// a file in the data directory. CLI commands log to stderr.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Format represents the output format for logs.
type Format int

const (
	// FormatText outputs human-readable key=value logs.
	FormatText Format = iota
	// FormatJSON outputs one JSON object per line.
	FormatJSON
)

// Config holds the logging configuration.
type Config struct {
	Level     slog.Level
	Format    Format
	Path      string // log file; empty means Writer
	Writer    io.Writer
	Component string
}

// ParseLevel maps a config string to a slog level. Unknown values map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat maps a config string to a Format. Unknown values map to text.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// New returns a logger and a close function for the underlying file.
// When the log file cannot be opened the logger falls back to Writer (or
// io.Discard), so logging never prevents a hook from completing.
func New(cfg Config) (*slog.Logger, func() error, error) {
	closer := func() error { return nil }

	w := cfg.Writer
	var openErr error
	if cfg.Path != "" {
		f, err := openLogFile(cfg.Path)
		if err != nil {
			openErr = err
		} else {
			w = f
			closer = f.Close
		}
	}
	if w == nil {
		w = io.Discard
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	if cfg.Component != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("component", cfg.Component)})
	}

	return slog.New(handler), closer, openErr
}

// Discard returns a logger that drops everything. Used by tests and as a
// nil-safe default for library types.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	//nolint:gosec // path comes from config.ResolvePaths
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}
