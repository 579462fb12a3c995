package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"submon/pkg/correlation"
	"submon/pkg/protocol"
)

// newCorrelationsCmd creates the "submon correlations" subcommand.
func newCorrelationsCmd() *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "correlations",
		Short: "Show correlation store statistics and recent records",
		Long:  "Prints totals for the correlation store and its newest records. Expired rows are dimmed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return fmt.Errorf("correlations: %w", err)
			}
			db, err := e.openDB(cmd.Context())
			if err != nil {
				return fmt.Errorf("correlations: %w", err)
			}
			defer func() { _ = db.Close() }()
			svc, err := e.correlation(cmd.Context(), db)
			if err != nil {
				return fmt.Errorf("correlations: %w", err)
			}
			defer func() { _ = svc.Close() }()

			st, err := svc.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("correlations: %w", err)
			}
			recs, err := svc.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("correlations: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if recs == nil {
					recs = []protocol.CorrelationRecord{}
				}
				return writeJSON(out, struct {
					Stats  correlation.Stats            `json:"stats"`
					Recent []protocol.CorrelationRecord `json:"recent"`
				}{st, recs})
			}
			fmt.Fprint(out, formatCorrelations(paletteFor(out), st, svc.TTL(), recs, time.Now()))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
