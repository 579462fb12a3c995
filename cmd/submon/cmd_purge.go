package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"submon/pkg/history"
)

// newPurgeCmd creates the "submon purge" subcommand.
func newPurgeCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove expired correlations, stale invocations and old history",
		Long: "Deletes correlation records past their TTL and drops registry entries older\n" +
			"than the staleness threshold. With --older-than, also deletes worker runs\n" +
			"recorded before that age.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan < 0 {
				return fmt.Errorf("purge: --older-than must not be negative")
			}
			e, err := loadEnv(cmd)
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			ctx := cmd.Context()

			reaped, err := e.registry().Reap(ctx)
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}

			db, err := e.openDB(ctx)
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			defer func() { _ = db.Close() }()
			svc, err := e.correlation(ctx, db)
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			defer func() { _ = svc.Close() }()

			n, err := svc.PurgeExpired(ctx)
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}

			var runs int64
			if olderThan > 0 {
				if runs, err = history.New(db).PurgeBefore(ctx, time.Now().Add(-olderThan)); err != nil {
					return fmt.Errorf("purge: %w", err)
				}
				e.log.Info("purged worker history", "older_than", olderThan, "rows", runs)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Purged %d correlation record(s).\n", n)
			if olderThan > 0 {
				fmt.Fprintf(out, "Purged %d worker run(s) older than %s.\n", runs, olderThan)
			}
			fmt.Fprintf(out, "Reaped %d stale invocation(s).\n", len(reaped))
			for i := range reaped {
				fmt.Fprintf(out, "  %s\n", reaped[i].Error())
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "also delete worker runs older than this (e.g. 720h)")
	return cmd
}
