package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"submon/pkg/history"
	"submon/pkg/protocol"
)

// statusReport is the --json shape of "submon status".
type statusReport struct {
	Summary []history.WorkerSummary `json:"summary"`
	Recent  []protocol.WorkerStats  `json:"recent"`
	Tools   []history.ToolTotal     `json:"tools,omitempty"`
}

// newStatusCmd creates the "submon status" subcommand.
func newStatusCmd() *cobra.Command {
	var opts history.QueryOpts
	var asJSON, withTools bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent worker runs and per-worker totals",
		Long:  "Lists recorded worker runs, newest first, preceded by an aggregate per worker type.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			db, ok, err := e.openDBReadOnly(cmd.Context())
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			report := statusReport{Summary: []history.WorkerSummary{}, Recent: []protocol.WorkerStats{}}
			if ok {
				defer func() { _ = db.Close() }()
				hist := history.New(db)
				if report.Recent, err = hist.Recent(cmd.Context(), opts); err != nil {
					return fmt.Errorf("status: %w", err)
				}
				if report.Summary, err = hist.Summary(cmd.Context(), opts); err != nil {
					return fmt.Errorf("status: %w", err)
				}
				if withTools {
					toolOpts := opts
					toolOpts.Limit = 0
					if report.Tools, err = hist.ToolUsage(cmd.Context(), toolOpts); err != nil {
						return fmt.Errorf("status: %w", err)
					}
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, report)
			}
			p := paletteFor(out)
			if s := formatSummaryTable(p, report.Summary); s != "" {
				fmt.Fprintln(out, s)
			}
			fmt.Fprint(out, formatStatsTable(p, report.Recent))
			if withTools {
				fmt.Fprintln(out)
				fmt.Fprint(out, formatToolsTable(p, report.Tools))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list")
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "filter by session id")
	cmd.Flags().StringVar(&opts.WorkerType, "worker", "", "filter by worker type")
	cmd.Flags().BoolVar(&withTools, "tools", false, "also total tool calls by tool")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
