package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"submon/internal/version"
)

// newRootCmd creates the root submon command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:           "submon",
		Short:         "Delegated worker monitor",
		Long:          "submon reports on the delegated workers of host sessions:\nwho ran, for how long, what they touched, and which worker made a tool call.",
		Version:       fmt.Sprintf("submon %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")

	cmd.AddCommand(
		newInitCmd(),
		newStatusCmd(),
		newActiveCmd(),
		newLookupCmd(),
		newCorrelationsCmd(),
		newInspectCmd(),
		newPurgeCmd(),
		newEventsCmd(),
		newDashCmd(),
		newVersionCmd(),
	)

	return cmd
}

// newVersionCmd creates the "submon version" subcommand.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "submon %s\n", version.Long())
			return nil
		},
	}
}
