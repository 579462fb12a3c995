package main

import (
	"context"
	"time"

	"submon/pkg/correlation"
	"submon/pkg/history"
	"submon/pkg/protocol"
)

// dashData is one refresh of everything the dashboard shows. It doubles
// as the JSON snapshot printed when stdout is not a terminal.
type dashData struct {
	Active       []protocol.ActiveInvocation `json:"active"`
	Recent       []protocol.WorkerStats      `json:"recent"`
	Summary      []history.WorkerSummary     `json:"summary"`
	Correlations correlation.Stats           `json:"correlations"`
	DBOnline     bool                        `json:"db_online"`
	FetchedAt    time.Time                   `json:"fetched_at"`
	Err          string                      `json:"error,omitempty"`
}

// dashRecentLimit caps the runs table.
const dashRecentLimit = 50

// fetchDashData reads the registry and, when the database exists, the
// history and correlation tables. Errors are reported in Err rather than
// returned so a refresh never stops the dashboard.
func (e *env) fetchDashData(ctx context.Context) dashData {
	d := dashData{
		Active:    []protocol.ActiveInvocation{},
		Recent:    []protocol.WorkerStats{},
		Summary:   []history.WorkerSummary{},
		FetchedAt: time.Now(),
	}

	active, err := e.registry().SnapshotAll(ctx)
	if err != nil {
		d.Err = err.Error()
	} else if active != nil {
		d.Active = active
	}

	db, ok, err := e.openDBReadOnly(ctx)
	if err != nil {
		d.Err = err.Error()
		return d
	}
	if !ok {
		return d
	}
	defer func() { _ = db.Close() }()
	d.DBOnline = true

	hist := history.New(db)
	if recent, err := hist.Recent(ctx, history.QueryOpts{Limit: dashRecentLimit}); err != nil {
		d.Err = err.Error()
	} else if recent != nil {
		d.Recent = recent
	}
	if sums, err := hist.Summary(ctx, history.QueryOpts{}); err != nil {
		d.Err = err.Error()
	} else if sums != nil {
		d.Summary = sums
	}

	svc, err := e.correlation(ctx, db)
	if err != nil {
		d.Err = err.Error()
		return d
	}
	defer func() { _ = svc.Close() }()
	if st, err := svc.Stats(ctx); err != nil {
		d.Err = err.Error()
	} else {
		d.Correlations = st
	}
	return d
}
