// Binary submon-hook is the host lifecycle hook. It is registered for
// PreToolUse (Task and out-of-process tool calls) and SubagentStop.
//
// Protocol: reads one JSON payload from stdin, writes {"continue":true}
// (optionally with a systemMessage) to stdout. An optional first argument
// overrides the payload's hook_event_name.
//
// Design: fail-open. Every error is logged to the submon log file and the
// host is always told to continue.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"submon/pkg/agents"
	"submon/pkg/config"
	"submon/pkg/correlation"
	"submon/pkg/detect"
	"submon/pkg/history"
	"submon/pkg/hook"
	"submon/pkg/logging"
	"submon/pkg/registry"
	"submon/pkg/stats"
	"submon/pkg/store"
)

// hookTimeout bounds one firing; the host waits on us.
const hookTimeout = 5 * time.Second

// continueJSON is written when nothing else can be.
var continueJSON = []byte(`{"continue":true}`)

// HandleHook loads configuration, wires the handler and processes input.
// Extracted from main() for testability.
func HandleHook(ctx context.Context, input []byte, event string) []byte {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "submon-hook: %v (using defaults)\n", err)
		cfg = config.Default()
		paths, perr := config.ResolvePaths()
		if perr != nil {
			return continueJSON
		}
		cfg.Paths = paths
	}

	log, closeLog, err := logging.New(logging.Config{
		Level:     logging.ParseLevel(cfg.Log.Level),
		Format:    logging.ParseFormat(cfg.Log.Format),
		Path:      cfg.Paths.LogPath,
		Writer:    os.Stderr, // only if the log file cannot be opened
		Component: "submon-hook",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "submon-hook: %v\n", err)
	}
	defer func() { _ = closeLog() }()

	h, cleanup, err := newHandler(ctx, cfg, log)
	if err != nil {
		log.Error("build hook handler", "err", err)
		return continueJSON
	}
	defer cleanup()

	return h.Handle(ctx, input, event)
}

// newHandler wires the hook dependencies. A database that cannot be
// opened disables history, correlation and auditing for this firing.
func newHandler(ctx context.Context, cfg *config.Config, log *slog.Logger) (*hook.Handler, func(), error) {
	catalogue := agents.Load(cfg.Agents.Dirs)
	for path, err := range catalogue.Invalid {
		log.Debug("skipping worker definition", "path", path, "err", err)
	}

	deps := hook.Deps{
		Registry: registry.New(cfg.Paths.RegistryPath, registry.Options{
			Staleness:   cfg.Tracker.Staleness.Duration,
			LockTimeout: cfg.Tracker.LockTimeout.Duration,
			Logger:      log,
		}),
		Detector:        detect.New(catalogue.Names(), cfg.Detector.TimingEpsilon.Duration),
		Analyzer:        stats.New(),
		ToolPrefixes:    cfg.Correlation.ToolPrefixes,
		ConfidenceFloor: cfg.Detector.ConfidenceFloor,
		Summary:         cfg.Hook.Summary,
		Logger:          log,
	}

	cleanup := func() {}
	db, err := store.Open(ctx, cfg.Paths.DBPath, store.Options{MaxOpenConns: 1})
	if err != nil {
		log.Warn("database unavailable", "err", err)
	} else {
		corr, cerr := correlation.New(ctx, db, correlation.Options{
			TTL:        cfg.Correlation.ServiceTTL(),
			PurgeAfter: cfg.Correlation.PurgeAfter.Duration,
			Logger:     log,
		})
		if cerr != nil {
			log.Warn("correlation unavailable", "err", cerr)
		} else {
			deps.Correlation = corr
		}
		deps.DB = db
		deps.History = history.New(db)
		cleanup = func() {
			if deps.Correlation != nil {
				_ = deps.Correlation.Close()
			}
			_ = db.Close()
		}
	}

	h, err := hook.New(deps)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return h, cleanup, nil
}

func main() {
	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submon-hook: failed to read stdin: %v\n", err)
		writeOut(continueJSON)
		return
	}

	var event string
	if len(os.Args) > 1 {
		event = os.Args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	writeOut(HandleHook(ctx, input, event))
}

// writeOut writes data to stdout, logging any write error to stderr.
func writeOut(data []byte) {
	if _, err := os.Stdout.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "submon-hook: stdout write error: %v\n", err)
	}
}
