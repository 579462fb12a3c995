package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
)

// newInitCmd creates the "submon init" subcommand.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the data directory, database schema and config file",
		Long: "Creates the submon data directory, applies the database schema and writes\n" +
			"config.toml with the effective settings. Safe to run repeatedly; an existing\n" +
			"config.toml is kept unless --force is given.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			paths := e.cfg.Paths
			if err := paths.EnsureHome(); err != nil {
				return fmt.Errorf("init: %w", err)
			}

			db, err := e.openDB(cmd.Context())
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			_ = db.Close()

			wrote, err := writeConfig(paths.ConfigPath, e.cfg.Encode, force)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "data dir:  %s\n", paths.Home)
			fmt.Fprintf(out, "database:  %s\n", paths.DBPath)
			fmt.Fprintf(out, "registry:  %s\n", paths.RegistryPath)
			if wrote {
				fmt.Fprintf(out, "config:    %s (written)\n", paths.ConfigPath)
			} else {
				fmt.Fprintf(out, "config:    %s (kept)\n", paths.ConfigPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config.toml")
	return cmd
}

// writeConfig writes the encoded config unless path exists and force is
// false. It reports whether the file was written.
func writeConfig(path string, encode func() ([]byte, error), force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("stat %s: %w", path, err)
		}
	}
	data, err := encode()
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
