package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"submon/pkg/eventlog"
)

// newEventsCmd creates the "submon events" subcommand.
func newEventsCmd() *cobra.Command {
	var opts eventlog.QueryOpts
	var since time.Duration
	var counts bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the hook audit log",
		Long:  "Lists hook lifecycle events (invocation start/stop, correlation publishes), newest first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return fmt.Errorf("events: %w", err)
			}
			r, err := eventlog.NewReader(cmd.Context(), e.cfg.Paths.DBPath)
			if err != nil {
				return fmt.Errorf("events: %w", err)
			}
			defer func() { _ = r.Close() }()

			out := cmd.OutOrStdout()
			if counts {
				byType, err := r.CountByType(cmd.Context())
				if err != nil {
					return fmt.Errorf("events: %w", err)
				}
				return writeJSON(out, byType)
			}

			if since > 0 {
				after := time.Now().Add(-since)
				opts.After = &after
			}
			events, err := r.Query(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("events: %w", err)
			}
			fmt.Fprint(out, formatEventsTable(paletteFor(out), events))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.SessionID, "session", "", "filter by session id")
	cmd.Flags().StringVar(&opts.WorkerType, "worker", "", "filter by worker type")
	cmd.Flags().StringVar(&opts.EventType, "type", "", "filter by event type (invocation_start|invocation_stop|correlation_publish)")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this (e.g. 1h)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum number of events")
	cmd.Flags().BoolVar(&counts, "counts", false, "print event counts per type as JSON")
	return cmd
}
