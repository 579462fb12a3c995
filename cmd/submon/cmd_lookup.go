package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"submon/pkg/correlation"
)

// lookupResult is the output of "submon lookup".
type lookupResult struct {
	Tool        string  `json:"tool"`
	Fingerprint string  `json:"fingerprint"`
	Found       bool    `json:"found"`
	SessionID   string  `json:"session_id,omitempty"`
	Worker      string  `json:"worker,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
	ProjectPath string  `json:"project_path,omitempty"`
}

// newLookupCmd creates the "submon lookup" subcommand.
func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <tool> [params-json]",
		Short: "Resolve the caller context published for a tool call",
		Long: "Computes the fingerprint of a tool call and looks it up in the correlation\n" +
			"store, the same way an out-of-process tool server does. Params default to {}.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := json.RawMessage("{}")
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("lookup: params are not valid JSON: %s", args[1])
				}
				params = json.RawMessage(args[1])
			}

			e, err := loadEnv(cmd)
			if err != nil {
				return fmt.Errorf("lookup: %w", err)
			}
			fp, err := correlation.Fingerprint(args[0], params)
			if err != nil {
				return fmt.Errorf("lookup: %w", err)
			}

			db, err := e.openDB(cmd.Context())
			if err != nil {
				return fmt.Errorf("lookup: %w", err)
			}
			defer func() { _ = db.Close() }()
			svc, err := e.correlation(cmd.Context(), db)
			if err != nil {
				return fmt.Errorf("lookup: %w", err)
			}
			defer func() { _ = svc.Close() }()

			cc, found, err := svc.Lookup(cmd.Context(), fp)
			if err != nil {
				return fmt.Errorf("lookup: %w", err)
			}
			res := lookupResult{Tool: correlation.NormalizeToolName(args[0]), Fingerprint: fp, Found: found}
			if found {
				res.SessionID = cc.SessionID
				res.Worker = cc.AgentType
				res.Confidence = cc.AgentConfidence
				res.ProjectPath = cc.ProjectPath
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}
