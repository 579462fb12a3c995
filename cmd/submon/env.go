package main

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"submon/pkg/agents"
	"submon/pkg/config"
	"submon/pkg/correlation"
	"submon/pkg/detect"
	"submon/pkg/logging"
	"submon/pkg/registry"
	"submon/pkg/store"
)

// env is the per-invocation command environment: effective config and
// a stderr logger.
type env struct {
	cfg *config.Config
	log *slog.Logger
}

// loadEnv reads the configuration. CLI logs go to stderr at warn level
// unless --verbose is set.
func loadEnv(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := slog.LevelWarn
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = slog.LevelDebug
	}
	log, _, err := logging.New(logging.Config{
		Level:     level,
		Format:    logging.ParseFormat(cfg.Log.Format),
		Writer:    cmd.ErrOrStderr(),
		Component: "submon",
	})
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log}, nil
}

// openDB opens the database read-write, creating it and the schema.
func (e *env) openDB(ctx context.Context) (*sql.DB, error) {
	return store.Open(ctx, e.cfg.Paths.DBPath, store.Options{})
}

// openDBReadOnly opens an existing database. ok is false when none has
// been created yet.
func (e *env) openDBReadOnly(ctx context.Context) (db *sql.DB, ok bool, err error) {
	db, err = store.OpenReadOnly(ctx, e.cfg.Paths.DBPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return db, true, nil
}

func (e *env) correlation(ctx context.Context, db *sql.DB) (*correlation.Service, error) {
	return correlation.New(ctx, db, correlation.Options{
		TTL:        e.cfg.Correlation.ServiceTTL(),
		PurgeAfter: e.cfg.Correlation.PurgeAfter.Duration,
		Logger:     e.log,
	})
}

func (e *env) registry() *registry.Registry {
	return registry.New(e.cfg.Paths.RegistryPath, registry.Options{
		Staleness:   e.cfg.Tracker.Staleness.Duration,
		LockTimeout: e.cfg.Tracker.LockTimeout.Duration,
		Logger:      e.log,
	})
}

// detector builds a detector that knows the configured worker definitions.
func (e *env) detector() *detect.Detector {
	catalogue := agents.Load(e.cfg.Agents.Dirs)
	for path, err := range catalogue.Invalid {
		e.log.Warn("invalid worker definition", "path", path, "err", err)
	}
	return detect.New(catalogue.Names(), e.cfg.Detector.TimingEpsilon.Duration)
}
