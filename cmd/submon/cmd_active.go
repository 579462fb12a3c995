package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"submon/pkg/protocol"
)

// newActiveCmd creates the "submon active" subcommand.
func newActiveCmd() *cobra.Command {
	var session string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "active",
		Short: "List in-flight worker invocations",
		Long:  "Prints the active invocation registry. Entries past the staleness threshold are hidden.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return fmt.Errorf("active: %w", err)
			}
			reg := e.registry()

			var active []protocol.ActiveInvocation
			if session != "" {
				active, err = reg.Snapshot(cmd.Context(), session)
			} else {
				active, err = reg.SnapshotAll(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("active: %w", err)
			}
			if active == nil {
				active = []protocol.ActiveInvocation{}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, active)
			}
			fmt.Fprint(out, formatActiveTable(paletteFor(out), active, time.Now()))
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "only this session")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
