package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"matchsync/internal/audit"
	"matchsync/internal/config"
	"matchsync/internal/queue"
	"matchsync/internal/run"
	"matchsync/internal/snapshot"
	"matchsync/internal/source"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// Publisher allows overriding the queue publisher (for testing).
	// If nil, defaults to the SQLite outbox at the configured path.
	Publisher queue.Publisher
}

// RunResult is the data payload for run command output.
type RunResult struct {
	RunID   string        `json:"run_id"`
	Summary audit.Summary `json:"summary"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <matches-file>",
		Short: "Reconcile a batch of scraped matches",
		Long: `Reconcile one batch of scraped match data against the last snapshot.

Reads match records from a JSON or CSV file, classifies each as
discovered, updated, or unchanged, logs every decision to the audit
trail, submits discovered and updated matches to the queue, and
atomically replaces the state snapshot.

Example:
  matchsync run ./matches.json
  matchsync run --config ./matchsync.yaml ./scrape/2026-04-18.csv --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, args[0], cmd)
		},
	}

	return cmd
}

func runReconcile(opts *RunOptions, matchesPath string, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	src, err := source.FromFile(matchesPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "unsupported matches file", err)
	}

	scopeKey := snapshot.ScopeKey(cfg.Scope.League, cfg.Scope.AgeGroup, cfg.Scope.Division)
	snaps, err := snapshot.NewStore(cfg.Paths.StateDir, scopeKey, slog.Default())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open state store", err)
	}

	trail, err := audit.NewWriter(cfg.Paths.AuditDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open audit trail", err)
	}

	publisher := opts.Publisher
	if publisher == nil {
		if err := os.MkdirAll(filepath.Dir(cfg.Paths.OutboxPath), 0o755); err != nil {
			return WrapExitError(ExitCommandError, "failed to create outbox directory", err)
		}
		outbox, err := queue.OpenOutbox(cfg.Paths.OutboxPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open outbox", err)
		}
		defer func() {
			if closeErr := outbox.Close(); closeErr != nil {
				slog.Error("error closing outbox", "error", closeErr)
			}
		}()
		publisher = outbox
	}

	orch, err := run.New(run.Config{
		Snapshots:     snaps,
		Audit:         trail,
		Publisher:     publisher,
		Source:        src,
		Routing:       cfg.Queue.Divisions,
		Metadata:      runMetadata(cfg),
		Logger:        slog.Default(),
		SubmitWorkers: cfg.Queue.Workers,
		SubmitTimeout: cfg.Queue.SubmitTimeout,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build run", err)
	}

	// A signal cancels the run; cancellation means no snapshot is saved and
	// the previous state stays authoritative.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, cancelling run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	report, err := orch.Execute(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "run failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	result := RunResult{RunID: report.RunID, Summary: report.Summary}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	return formatter.Success(formatRunSummary(result))
}

func formatRunSummary(r RunResult) string {
	return fmt.Sprintf("run %s completed: %d matches (%d discovered, %d updated, %d unchanged), %d submitted, %d failed",
		r.RunID,
		r.Summary.TotalMatches,
		r.Summary.Discovered,
		r.Summary.Updated,
		r.Summary.Unchanged,
		r.Summary.QueueSubmitted,
		r.Summary.QueueFailed)
}

func runMetadata(cfg *config.Config) *audit.RunMetadata {
	m := audit.RunMetadata{
		League:    cfg.Scope.League,
		AgeGroup:  cfg.Scope.AgeGroup,
		Division:  cfg.Scope.Division,
		DateRange: cfg.Scope.DateRange,
	}
	if m == (audit.RunMetadata{}) {
		return nil
	}
	return &m
}
