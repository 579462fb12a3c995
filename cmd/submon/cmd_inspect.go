package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"submon/pkg/detect"
	"submon/pkg/protocol"
	"submon/pkg/stats"
	"submon/pkg/transcript"
)

// inspectedChain is the dry-run analysis of one sidechain.
type inspectedChain struct {
	Root      string                   `json:"root"`
	Events    int                      `json:"events"`
	FirstAt   time.Time                `json:"first_at"`
	LastAt    time.Time                `json:"last_at"`
	Detection protocol.DetectionResult `json:"detection"`
	Stats     protocol.WorkerStats     `json:"stats"`
}

// inspectReport is the output of "submon inspect".
type inspectReport struct {
	Path       string                      `json:"path"`
	Events     int                         `json:"events"`
	Anomalies  []protocol.AnomalyWarning   `json:"anomalies"`
	Tasks      []transcript.TaskInvocation `json:"tasks"`
	Sidechains []inspectedChain            `json:"sidechains"`
}

// newInspectCmd creates the "submon inspect" subcommand.
func newInspectCmd() *cobra.Command {
	var root string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <transcript.jsonl>",
		Short: "Analyze a session log without recording anything",
		Long: "Reconstructs every sidechain of a session log and prints the worker each\n" +
			"one is attributed to plus its stats. Task calls on the main chain stand in\n" +
			"for the registry, so attribution works after the fact. Nothing is persisted.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return fmt.Errorf("inspect: %w", err)
			}
			l, err := transcript.Load(args[0])
			if err != nil {
				return fmt.Errorf("inspect: %w", err)
			}

			report, err := inspectLog(l, e.detector(), stats.New(), root, e.cfg.Detector.ConfidenceFloor)
			if err != nil {
				return fmt.Errorf("inspect: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, report)
			}
			printInspect(out, report)
			return nil
		},
	}

	cmd.Flags().StringVar(&root, "root", "", "only the sidechain containing this event uuid")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// inspectLog analyzes every sidechain of l, or just the one selected by
// root.
func inspectLog(l *transcript.Log, det *detect.Detector, an *stats.Analyzer, root string, floor float64) (inspectReport, error) {
	report := inspectReport{
		Path:       l.Path,
		Events:     len(l.Events),
		Anomalies:  l.Anomalies,
		Tasks:      l.TaskInvocations(),
		Sidechains: []inspectedChain{},
	}
	if report.Anomalies == nil {
		report.Anomalies = []protocol.AnomalyWarning{}
	}
	if report.Tasks == nil {
		report.Tasks = []transcript.TaskInvocation{}
	}

	var chains []transcript.Sidechain
	if root != "" {
		chain, err := l.Reconstruct(root)
		if err != nil {
			return report, err
		}
		chains = []transcript.Sidechain{chain}
	} else {
		chains = l.Sidechains()
	}

	for _, chain := range chains {
		res := det.Detect(chain, spawnedBy(chain, report.Tasks))
		st := an.Analyze(chain)
		st.Anomalies += l.AnomaliesIn(chain)
		st.ApplyDetection(res, floor)
		report.Sidechains = append(report.Sidechains, inspectedChain{
			Root:      chain.Root.UUID,
			Events:    chain.Len(),
			FirstAt:   chain.FirstAt(),
			LastAt:    chain.LastAt,
			Detection: res,
			Stats:     st,
		})
	}
	return report, nil
}

// spawnedBy reconstructs the invocations that were active when chain
// started: the Task calls of the main-chain event the sidechain hangs off.
func spawnedBy(chain transcript.Sidechain, tasks []transcript.TaskInvocation) []protocol.ActiveInvocation {
	var out []protocol.ActiveInvocation
	for _, t := range tasks {
		if t.EventUUID != chain.Root.ParentUUID {
			continue
		}
		out = append(out, protocol.ActiveInvocation{
			InvocationID: t.ToolUseID,
			SessionID:    chain.Root.SessionID,
			WorkerType:   t.SubagentType,
			Description:  t.Description,
			StartedAt:    t.Timestamp,
		})
	}
	return out
}

func printInspect(w io.Writer, r inspectReport) {
	p := paletteFor(w)
	fmt.Fprintf(w, "%s: %d events, %d anomalies, %d task calls, %d sidechains\n",
		r.Path, r.Events, len(r.Anomalies), len(r.Tasks), len(r.Sidechains))
	for i := range r.Anomalies {
		fmt.Fprintf(w, "  %s\n", p.warn.Render(r.Anomalies[i].Error()))
	}

	if len(r.Tasks) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, p.header.Render("Task calls:"))
		for _, t := range r.Tasks {
			fmt.Fprintf(w, "  %s  %-20s %s\n", t.Timestamp.Local().Format(time.DateTime),
				truncate(t.SubagentType, 20), truncate(strings.ReplaceAll(t.Description, "\n", " "), 60))
		}
	}

	for _, c := range r.Sidechains {
		fmt.Fprintln(w)
		fmt.Fprintln(w, p.header.Render(fmt.Sprintf("Sidechain %s (%d events)", c.Root, c.Events)))
		fmt.Fprintln(w, indent(stats.FormatSummary(c.Stats), "  "))
	}
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
