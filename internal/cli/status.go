package cli

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"matchsync/internal/config"
	"matchsync/internal/match"
	"matchsync/internal/snapshot"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
}

// StatusResult is the data payload for status command output.
type StatusResult struct {
	ScopeKey       string         `json:"scope_key"`
	SnapshotPath   string         `json:"snapshot_path"`
	LastRunID      string         `json:"last_run_id,omitempty"`
	TrackedMatches int            `json:"tracked_matches"`
	Matches        []match.Record `json:"matches,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current snapshot",
		Long: `Show the last-known state for the configured scope: which matches are
tracked, their current status and scores, and the run that produced it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	scopeKey := snapshot.ScopeKey(cfg.Scope.League, cfg.Scope.AgeGroup, cfg.Scope.Division)
	store, err := snapshot.NewStore(cfg.Paths.StateDir, scopeKey, slog.Default())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open state store", err)
	}

	snap, err := store.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load snapshot", err)
	}

	// Stable output order regardless of map iteration.
	ids := make([]string, 0, len(snap.Matches))
	for id := range snap.Matches {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]match.Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, snap.Matches[id])
	}

	result := StatusResult{
		ScopeKey:       scopeKey,
		SnapshotPath:   store.Path(),
		LastRunID:      snap.LastRunID,
		TrackedMatches: len(records),
		Matches:        records,
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Scope: %s\n", scopeKey)
	if snap.LastRunID == "" {
		fmt.Fprintln(w, "No completed runs yet.")
		return nil
	}
	fmt.Fprintf(w, "Last run: %s at %s\n", snap.LastRunID, snap.LastRunTimestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Tracked matches: %d\n", len(records))
	if len(records) == 0 {
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Match", "Date", "Home", "Away", "Score", "Status"})
	for _, rec := range records {
		tw.AppendRow(table.Row{
			rec.ExternalID,
			rec.MatchDate,
			rec.HomeTeam,
			rec.AwayTeam,
			formatScore(rec),
			rec.Status,
		})
	}
	tw.Render()
	return nil
}

// formatScore renders "5-1" when both scores are present, "-" otherwise.
func formatScore(rec match.Record) string {
	if rec.HomeScore == nil || rec.AwayScore == nil {
		return "-"
	}
	return fmt.Sprintf("%d-%d", *rec.HomeScore, *rec.AwayScore)
}
