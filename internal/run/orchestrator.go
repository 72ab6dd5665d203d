// Package run ties the pipeline together for one scraping run: load prior
// state, reconcile, log audit events, submit changed matches downstream,
// persist the new snapshot, and record the final summary.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"matchsync/internal/audit"
	"matchsync/internal/match"
	"matchsync/internal/queue"
	"matchsync/internal/reconcile"
	"matchsync/internal/snapshot"
	"matchsync/internal/source"
)

// State is the lifecycle state of one run.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// RunError reports which step of a run failed. A failed run emits no
// run_completed event; its absence in the audit trail is the durable signal
// of an incomplete run.
type RunError struct {
	RunID string
	Step  string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run %s failed at %s: %v", e.RunID, e.Step, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

const (
	defaultSubmitWorkers = 4
	defaultSubmitTimeout = 10 * time.Second
)

// StateStore is the snapshot persistence boundary.
// Satisfied by *snapshot.Store.
type StateStore interface {
	Load() (*snapshot.Snapshot, error)
	Save(runID string, matches map[string]match.Record) error
}

// Appender is the audit trail sink. Satisfied by *audit.Writer.
type Appender interface {
	Append(e audit.Event) error
}

// Config wires the orchestrator's collaborators. Snapshots, Audit,
// Publisher, and Source are required; the rest default sensibly.
// All collaborators are injected - there is no global state.
type Config struct {
	Snapshots StateStore
	Audit     Appender
	Publisher queue.Publisher
	Source    source.Source

	Routing  queue.RoutingTable
	Metadata *audit.RunMetadata
	Logger   *slog.Logger

	// NewRunID generates the run's unique id. Defaults to UUIDv7, which is
	// time-sortable and convenient when scanning the audit trail.
	NewRunID func() string

	// Clock stamps audit events. Defaults to time.Now.
	Clock func() time.Time

	// SubmitWorkers bounds concurrent queue submissions. Defaults to 4.
	SubmitWorkers int

	// SubmitTimeout bounds each queue submission. A timeout is recorded as
	// queue_failed, not a crash. Defaults to 10s.
	SubmitTimeout time.Duration
}

// Report is the outcome of a completed run.
type Report struct {
	RunID   string
	Summary audit.Summary
}

// Orchestrator executes one run. It is single-use: the caller guarantees
// at-most-one concurrent run per tracked scope, and a second Execute call
// on the same instance is an error.
type Orchestrator struct {
	cfg Config

	mu    sync.Mutex
	state State
}

// New validates the wiring and returns an orchestrator in StateNotStarted.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Snapshots == nil {
		return nil, fmt.Errorf("run: snapshot store is required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("run: audit writer is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("run: queue publisher is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("run: match source is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.SubmitWorkers <= 0 {
		cfg.SubmitWorkers = defaultSubmitWorkers
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	return &Orchestrator{cfg: cfg, state: StateNotStarted}, nil
}

// State returns the run's current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// fail transitions to StateFailed and wraps the failing step.
func (o *Orchestrator) fail(runID, step string, err error) error {
	o.setState(StateFailed)
	o.cfg.Logger.Error("run failed", "run_id", runID, "step", step, "error", err)
	return &RunError{RunID: runID, Step: step, Err: err}
}

// Execute performs one run end to end.
//
// The new snapshot is persisted only after the whole batch reconciles, so a
// mid-run failure or cancellation leaves the previous snapshot authoritative
// and the run replayable. Submission failures are per-match: they are
// recorded as queue_failed events and never abort the batch. Audit append
// failures, snapshot I/O failures, and source errors are fatal.
func (o *Orchestrator) Execute(ctx context.Context) (*Report, error) {
	o.mu.Lock()
	if o.state != StateNotStarted {
		state := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("run: orchestrator already used (state %s)", state)
	}
	o.state = StateRunning
	o.mu.Unlock()

	runID := o.cfg.NewRunID()
	logger := o.cfg.Logger.With("run_id", runID)
	logger.Info("run starting")

	prior, err := o.cfg.Snapshots.Load()
	if err != nil {
		return nil, o.fail(runID, "load snapshot", err)
	}
	logger.Info("previous snapshot loaded", "tracked_matches", len(prior.Matches))

	if err := o.cfg.Audit.Append(audit.NewRunStarted(o.cfg.Clock(), runID, o.cfg.Metadata)); err != nil {
		return nil, o.fail(runID, "audit run_started", err)
	}

	records, err := o.cfg.Source.Fetch(ctx)
	if err != nil {
		return nil, o.fail(runID, "fetch matches", err)
	}
	logger.Info("matches fetched", "count", len(records))

	res := reconcile.Reconcile(records, prior.Matches, logger)
	logger.Info("batch reconciled",
		"discovered", len(res.Discovered),
		"updated", len(res.Updated),
		"unchanged", len(res.Unchanged),
		"skipped", len(res.Skipped))

	// Match events are appended in decision order before any submission is
	// dispatched for them.
	toSubmit := make([]match.Record, 0, len(res.Discovered)+len(res.Updated))
	for _, rec := range res.Discovered {
		if err := o.cfg.Audit.Append(audit.NewMatchEvent(o.cfg.Clock(), runID, audit.EventMatchDiscovered, rec, nil)); err != nil {
			return nil, o.fail(runID, "audit match_discovered", err)
		}
		toSubmit = append(toSubmit, rec)
	}
	for _, up := range res.Updated {
		if err := o.cfg.Audit.Append(audit.NewMatchEvent(o.cfg.Clock(), runID, audit.EventMatchUpdated, up.Record, up.Changes)); err != nil {
			return nil, o.fail(runID, "audit match_updated", err)
		}
		toSubmit = append(toSubmit, up.Record)
	}

	submitted, failed, submitErr := o.submitAll(ctx, runID, logger, toSubmit)
	if submitErr != nil {
		return nil, o.fail(runID, "audit queue event", submitErr)
	}

	for _, rec := range res.Unchanged {
		if err := o.cfg.Audit.Append(audit.NewMatchEvent(o.cfg.Clock(), runID, audit.EventMatchUnchanged, rec, nil)); err != nil {
			return nil, o.fail(runID, "audit match_unchanged", err)
		}
	}

	// A cancelled run never commits a new snapshot; whatever audit lines
	// were already appended stay, as a factual record of the partial run.
	if err := ctx.Err(); err != nil {
		return nil, o.fail(runID, "cancelled", err)
	}

	if err := o.cfg.Snapshots.Save(runID, res.Snapshot); err != nil {
		return nil, o.fail(runID, "save snapshot", err)
	}

	summary := audit.Summary{
		TotalMatches:   len(records),
		Discovered:     len(res.Discovered),
		Updated:        len(res.Updated),
		Unchanged:      len(res.Unchanged),
		QueueSubmitted: submitted,
		QueueFailed:    failed,
	}
	if err := o.cfg.Audit.Append(audit.NewRunCompleted(o.cfg.Clock(), runID, o.cfg.Metadata, summary)); err != nil {
		return nil, o.fail(runID, "audit run_completed", err)
	}

	o.setState(StateCompleted)
	logger.Info("run completed",
		"total", summary.TotalMatches,
		"discovered", summary.Discovered,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
		"queue_submitted", summary.QueueSubmitted,
		"queue_failed", summary.QueueFailed)
	return &Report{RunID: runID, Summary: summary}, nil
}

// submitAll dispatches queue submissions on a bounded worker pool.
//
// Each submission is independent: a failed or timed-out publish is recorded
// as a queue_failed event and never cancels or blocks sibling submissions.
// The only error returned is an audit append failure, which is fatal to the
// run; even then, in-flight siblings are drained first.
func (o *Orchestrator) submitAll(ctx context.Context, runID string, logger *slog.Logger, recs []match.Record) (submitted, failed int, err error) {
	if len(recs) == 0 {
		return 0, 0, nil
	}

	workers := o.cfg.SubmitWorkers
	if workers > len(recs) {
		workers = len(recs)
	}

	jobs := make(chan match.Record)
	var mu sync.Mutex
	var firstErr error
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				ok, appendErr := o.submitOne(ctx, runID, logger, rec)
				mu.Lock()
				if ok {
					submitted++
				} else {
					failed++
				}
				if appendErr != nil && firstErr == nil {
					firstErr = appendErr
				}
				mu.Unlock()
			}
		}()
	}

	for _, rec := range recs {
		jobs <- rec
	}
	close(jobs)
	wg.Wait()

	return submitted, failed, firstErr
}

// submitOne builds, validates, and publishes one payload, then records the
// outcome in the audit trail. ok reports submission success; appendErr is
// non-nil only when the audit append itself failed.
func (o *Orchestrator) submitOne(ctx context.Context, runID string, logger *slog.Logger, rec match.Record) (ok bool, appendErr error) {
	payload, err := queue.BuildPayload(rec, o.cfg.Routing)
	if err != nil {
		logger.Warn("queue payload rejected", "match_id", rec.ExternalID, "error", err)
		return false, o.cfg.Audit.Append(audit.NewQueueFailed(o.cfg.Clock(), runID, rec.ExternalID, err.Error()))
	}

	subCtx, cancel := context.WithTimeout(ctx, o.cfg.SubmitTimeout)
	defer cancel()

	taskID, err := o.cfg.Publisher.Publish(subCtx, payload)
	if err != nil {
		logger.Warn("queue submission failed", "match_id", rec.ExternalID, "error", err)
		return false, o.cfg.Audit.Append(audit.NewQueueFailed(o.cfg.Clock(), runID, rec.ExternalID, err.Error()))
	}

	return true, o.cfg.Audit.Append(audit.NewQueueSubmitted(o.cfg.Clock(), runID, rec.ExternalID, taskID))
}
