package cli

import (
	"github.com/spf13/cobra"

	"matchsync/internal/audit"
	"matchsync/internal/config"
	"matchsync/internal/report"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	RunID       string
	MatchID     string
	EventType   string
	League      string
	ChangesOnly bool
	ByRun       bool
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Query the audit trail",
		Long: `Query the append-only audit trail.

By default lists matching events in chronological order. With --runs,
aggregates events into one row per run; a run with no run_completed
event is reported as incomplete.

Examples:
  matchsync report --runs
  matchsync report --run 0196a1b2-7c3d-7e4f-8a9b-0c1d2e3f4a5b
  matchsync report --match 100436 --changes-only
  matchsync report --type queue_failed --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run", "", "filter to one run id")
	cmd.Flags().StringVar(&opts.MatchID, "match", "", "filter to one external match id")
	cmd.Flags().StringVar(&opts.EventType, "type", "", "filter to one event type")
	cmd.Flags().StringVar(&opts.League, "league", "", "filter to runs scoped to one league")
	cmd.Flags().BoolVar(&opts.ChangesOnly, "changes-only", false, "only discoveries, updates, and failed submissions")
	cmd.Flags().BoolVar(&opts.ByRun, "runs", false, "aggregate one row per run")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	reader := report.Reader{Dir: cfg.Paths.AuditDir}
	events, err := reader.Load(report.Filter{
		RunID:         opts.RunID,
		EventType:     audit.EventType(opts.EventType),
		CorrelationID: opts.MatchID,
		League:        opts.League,
		ChangesOnly:   opts.ChangesOnly,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read audit trail", err)
	}

	w := cmd.OutOrStdout()
	if opts.ByRun {
		runs := report.Summarize(events)
		if opts.Format == "json" {
			return report.WriteRunsJSON(w, runs)
		}
		report.WriteRunTable(w, runs)
		return nil
	}

	if opts.Format == "json" {
		return report.WriteJSON(w, events)
	}
	report.WriteEventTable(w, events)
	return nil
}
