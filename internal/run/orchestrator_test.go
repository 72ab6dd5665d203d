package run

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchsync/internal/audit"
	"matchsync/internal/match"
	"matchsync/internal/queue"
	"matchsync/internal/snapshot"
	"matchsync/internal/source"
	"matchsync/internal/testutil"
)

var runStart = time.Date(2026, 4, 18, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// publisherFunc adapts a function to queue.Publisher.
type publisherFunc func(ctx context.Context, p queue.Payload) (string, error)

func (f publisherFunc) Publish(ctx context.Context, p queue.Payload) (string, error) {
	return f(ctx, p)
}

func okPublisher() queue.Publisher {
	var n atomic.Int64
	return publisherFunc(func(ctx context.Context, p queue.Payload) (string, error) {
		return fmt.Sprintf("task-%d", n.Add(1)), nil
	})
}

// failingAppender fails every append after the first n succeed.
type failingAppender struct {
	inner Appender
	mu    sync.Mutex
	left  int
}

func (f *failingAppender) Append(e audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.left <= 0 {
		return errors.New("disk full")
	}
	f.left--
	return f.inner.Append(e)
}

// failingSaver wraps a StateStore and fails Save.
type failingSaver struct {
	StateStore
}

func (f failingSaver) Save(runID string, matches map[string]match.Record) error {
	return errors.New("write denied")
}

type harness struct {
	snapshots *snapshot.Store
	audit     *audit.Writer
	clock     *testutil.Clock
	auditDir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	base := t.TempDir()
	snaps, err := snapshot.NewStore(filepath.Join(base, "state"), "ecnl-u14", discard())
	require.NoError(t, err)
	auditDir := filepath.Join(base, "audit")
	w, err := audit.NewWriter(auditDir)
	require.NoError(t, err)
	clock := testutil.NewClock(runStart, time.Second)
	snaps.SetClock(clock.Now)
	return &harness{snapshots: snaps, audit: w, clock: clock, auditDir: auditDir}
}

func (h *harness) config(src source.Source, pub queue.Publisher, runID string) Config {
	return Config{
		Snapshots: h.snapshots,
		Audit:     h.audit,
		Publisher: pub,
		Source:    src,
		Logger:    discard(),
		NewRunID:  func() string { return runID },
		Clock:     h.clock.Now,
	}
}

func (h *harness) events(t *testing.T) []audit.Event {
	t.Helper()
	entries, err := os.ReadDir(h.auditDir)
	require.NoError(t, err)

	var events []audit.Event
	for _, entry := range entries {
		f, err := os.Open(filepath.Join(h.auditDir, entry.Name()))
		require.NoError(t, err)
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			var e audit.Event
			require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
			events = append(events, e)
		}
		require.NoError(t, sc.Err())
		f.Close()
	}
	return events
}

func eventsOfType(events []audit.Event, typ audit.EventType) []audit.Event {
	var out []audit.Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func fixture(id string) match.Record {
	return match.Record{
		ExternalID: id,
		HomeTeam:   "Ravens",
		AwayTeam:   "Falcons",
		MatchDate:  "2026-04-18",
		Season:     "2025-26",
		AgeGroup:   "U14",
		MatchType:  "league",
		Status:     match.StatusScheduled,
	}
}

// The two-run scenario: discovery on first sight, a field-level diff on the
// second run, and summaries reflecting both.
func TestExecute_EndToEndTwoRuns(t *testing.T) {
	h := newHarness(t)

	// Run 1: empty previous snapshot, one scheduled match.
	first := fixture("100436")
	orch, err := New(h.config(source.Static([]match.Record{first}), okPublisher(), "run-1"))
	require.NoError(t, err)

	report, err := orch.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, orch.State())
	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, audit.Summary{TotalMatches: 1, Discovered: 1, QueueSubmitted: 1}, report.Summary)

	events := h.events(t)
	discovered := eventsOfType(events, audit.EventMatchDiscovered)
	require.Len(t, discovered, 1)
	assert.Equal(t, "100436", discovered[0].CorrelationID)

	snap, err := h.snapshots.Load()
	require.NoError(t, err)
	require.Contains(t, snap.Matches, "100436")
	assert.Equal(t, "run-1", snap.LastRunID)

	// Run 2: same match, now completed with scores.
	second := fixture("100436")
	second.Status = match.StatusCompleted
	second.HomeScore = match.IntPtr(5)
	second.AwayScore = match.IntPtr(1)

	orch2, err := New(h.config(source.Static([]match.Record{second}), okPublisher(), "run-2"))
	require.NoError(t, err)

	report2, err := orch2.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audit.Summary{TotalMatches: 1, Updated: 1, QueueSubmitted: 1}, report2.Summary)

	events = h.events(t)
	updated := eventsOfType(events, audit.EventMatchUpdated)
	require.Len(t, updated, 1)
	require.Len(t, updated[0].Changes, 3)
	assert.Equal(t, match.FieldChange{From: "scheduled", To: "completed"}, updated[0].Changes["match_status"])
	assert.Contains(t, updated[0].Changes, "home_score")
	assert.Contains(t, updated[0].Changes, "away_score")

	completed := eventsOfType(events, audit.EventRunCompleted)
	require.Len(t, completed, 2)
	last := completed[1]
	require.NotNil(t, last.Summary)
	assert.Equal(t, 0, last.Summary.Discovered)
	assert.Equal(t, 1, last.Summary.Updated)
	assert.Equal(t, 0, last.Summary.Unchanged)
}

func TestExecute_RunStartedFirstRunCompletedLast(t *testing.T) {
	h := newHarness(t)
	orch, err := New(h.config(source.Static([]match.Record{fixture("1"), fixture("2")}), okPublisher(), "run-1"))
	require.NoError(t, err)

	_, err = orch.Execute(context.Background())
	require.NoError(t, err)

	events := h.events(t)
	require.NotEmpty(t, events)
	assert.Equal(t, audit.EventRunStarted, events[0].Type)
	assert.Equal(t, audit.EventRunCompleted, events[len(events)-1].Type)
	for _, e := range events {
		assert.Equal(t, "run-1", e.RunID)
	}
}

func TestExecute_UnchangedMatchesNotSubmitted(t *testing.T) {
	h := newHarness(t)

	var published atomic.Int64
	pub := publisherFunc(func(ctx context.Context, p queue.Payload) (string, error) {
		published.Add(1)
		return "task", nil
	})

	orch, err := New(h.config(source.Static([]match.Record{fixture("1")}), pub, "run-1"))
	require.NoError(t, err)
	_, err = orch.Execute(context.Background())
	require.NoError(t, err)

	orch2, err := New(h.config(source.Static([]match.Record{fixture("1")}), pub, "run-2"))
	require.NoError(t, err)
	report, err := orch2.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, audit.Summary{TotalMatches: 1, Unchanged: 1}, report.Summary)
	assert.Equal(t, int64(1), published.Load(), "only the first run submits")

	unchanged := eventsOfType(h.events(t), audit.EventMatchUnchanged)
	assert.Len(t, unchanged, 1)
}

func TestExecute_SubmissionFailureDoesNotAbortRun(t *testing.T) {
	h := newHarness(t)

	pub := publisherFunc(func(ctx context.Context, p queue.Payload) (string, error) {
		if p.ExternalID == "2" {
			return "", errors.New("transport: connection refused")
		}
		return "task-" + p.ExternalID, nil
	})

	batch := []match.Record{fixture("1"), fixture("2"), fixture("3")}
	orch, err := New(h.config(source.Static(batch), pub, "run-1"))
	require.NoError(t, err)

	report, err := orch.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, orch.State())
	assert.Equal(t, 2, report.Summary.QueueSubmitted)
	assert.Equal(t, 1, report.Summary.QueueFailed)

	events := h.events(t)
	failedEvents := eventsOfType(events, audit.EventQueueFailed)
	require.Len(t, failedEvents, 1)
	assert.Equal(t, "2", failedEvents[0].CorrelationID)
	assert.Contains(t, failedEvents[0].ErrorMessage, "connection refused")

	// The failed match still made it into the new snapshot.
	snap, err := h.snapshots.Load()
	require.NoError(t, err)
	assert.Contains(t, snap.Matches, "2")
}

func TestExecute_SubmissionTimeoutRecordedAsQueueFailed(t *testing.T) {
	h := newHarness(t)

	pub := publisherFunc(func(ctx context.Context, p queue.Payload) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	cfg := h.config(source.Static([]match.Record{fixture("1")}), pub, "run-1")
	cfg.SubmitTimeout = 20 * time.Millisecond
	orch, err := New(cfg)
	require.NoError(t, err)

	report, err := orch.Execute(context.Background())
	require.NoError(t, err, "a submission timeout is not a crash")
	assert.Equal(t, 1, report.Summary.QueueFailed)
}

func TestExecute_InvalidRecordFailsValidationBeforeSubmission(t *testing.T) {
	h := newHarness(t)

	var published atomic.Int64
	pub := publisherFunc(func(ctx context.Context, p queue.Payload) (string, error) {
		published.Add(1)
		return "task", nil
	})

	bad := fixture("9")
	bad.Status = "abandoned"
	orch, err := New(h.config(source.Static([]match.Record{bad}), pub, "run-1"))
	require.NoError(t, err)

	report, err := orch.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.QueueFailed)
	assert.Equal(t, int64(0), published.Load(), "invalid payloads never reach the publisher")

	failedEvents := eventsOfType(h.events(t), audit.EventQueueFailed)
	require.Len(t, failedEvents, 1)
	assert.Contains(t, failedEvents[0].ErrorMessage, "match_status")
}

func TestExecute_SkippedMatchesExcludedEverywhere(t *testing.T) {
	h := newHarness(t)

	batch := []match.Record{fixture("1"), fixture(""), fixture("2")}
	orch, err := New(h.config(source.Static(batch), okPublisher(), "run-1"))
	require.NoError(t, err)

	report, err := orch.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Summary.TotalMatches)
	assert.Equal(t, 2, report.Summary.Discovered)
	assert.Equal(t, 2, report.Summary.QueueSubmitted)

	snap, err := h.snapshots.Load()
	require.NoError(t, err)
	assert.Len(t, snap.Matches, 2)
}

func TestExecute_SourceErrorIsFatal(t *testing.T) {
	h := newHarness(t)

	orch, err := New(h.config(source.JSONFile{Path: "/nonexistent/matches.json"}, okPublisher(), "run-1"))
	require.NoError(t, err)

	_, err = orch.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, orch.State())

	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "fetch matches", re.Step)

	// No run_completed event; the run_started line remains as the record of
	// an incomplete run.
	events := h.events(t)
	assert.Empty(t, eventsOfType(events, audit.EventRunCompleted))
	assert.Len(t, eventsOfType(events, audit.EventRunStarted), 1)
}

func TestExecute_AuditAppendFailureIsFatal(t *testing.T) {
	h := newHarness(t)

	cfg := h.config(source.Static([]match.Record{fixture("1")}), okPublisher(), "run-1")
	cfg.Audit = &failingAppender{inner: h.audit, left: 1} // run_started succeeds, the rest fail

	orch, err := New(cfg)
	require.NoError(t, err)

	_, err = orch.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, orch.State())

	// Previous snapshot (none) remains authoritative: nothing was saved.
	snap, err := h.snapshots.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Matches)
	assert.Empty(t, snap.LastRunID)
}

func TestExecute_SnapshotSaveFailureIsFatal(t *testing.T) {
	h := newHarness(t)

	cfg := h.config(source.Static([]match.Record{fixture("1")}), okPublisher(), "run-1")
	cfg.Snapshots = failingSaver{StateStore: h.snapshots}

	orch, err := New(cfg)
	require.NoError(t, err)

	_, err = orch.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, orch.State())

	var re *RunError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "save snapshot", re.Step)
	assert.Empty(t, eventsOfType(h.events(t), audit.EventRunCompleted))
}

func TestExecute_CancelledRunNeverSaves(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	pub := publisherFunc(func(pctx context.Context, p queue.Payload) (string, error) {
		cancel() // cancel mid-run, after reconciliation
		return "task", nil
	})

	orch, err := New(h.config(source.Static([]match.Record{fixture("1")}), pub, "run-1"))
	require.NoError(t, err)

	_, err = orch.Execute(ctx)
	require.Error(t, err)
	assert.Equal(t, StateFailed, orch.State())

	snap, err := h.snapshots.Load()
	require.NoError(t, err)
	assert.Empty(t, snap.Matches, "cancelled run must not publish a snapshot")
	assert.Empty(t, eventsOfType(h.events(t), audit.EventRunCompleted))
}

func TestExecute_ConcurrentSubmissionIsolation(t *testing.T) {
	h := newHarness(t)

	// One slow failure among many successes; siblings must all complete.
	pub := publisherFunc(func(ctx context.Context, p queue.Payload) (string, error) {
		if p.ExternalID == "5" {
			time.Sleep(30 * time.Millisecond)
			return "", errors.New("transport: timeout")
		}
		return "task-" + p.ExternalID, nil
	})

	var batch []match.Record
	for i := 1; i <= 10; i++ {
		batch = append(batch, fixture(fmt.Sprintf("%d", i)))
	}

	cfg := h.config(source.Static(batch), pub, "run-1")
	cfg.SubmitWorkers = 4
	orch, err := New(cfg)
	require.NoError(t, err)

	report, err := orch.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, report.Summary.QueueSubmitted)
	assert.Equal(t, 1, report.Summary.QueueFailed)
}

func TestExecute_SecondCallRejected(t *testing.T) {
	h := newHarness(t)
	orch, err := New(h.config(source.Static(nil), okPublisher(), "run-1"))
	require.NoError(t, err)

	_, err = orch.Execute(context.Background())
	require.NoError(t, err)

	_, err = orch.Execute(context.Background())
	assert.Error(t, err)
}

func TestExecute_RunMetadataOnLifecycleEvents(t *testing.T) {
	h := newHarness(t)

	cfg := h.config(source.Static(nil), okPublisher(), "run-1")
	cfg.Metadata = &audit.RunMetadata{League: "ECNL", AgeGroup: "U14", Division: "North"}
	orch, err := New(cfg)
	require.NoError(t, err)

	_, err = orch.Execute(context.Background())
	require.NoError(t, err)

	events := h.events(t)
	started := eventsOfType(events, audit.EventRunStarted)
	require.Len(t, started, 1)
	require.NotNil(t, started[0].RunMetadata)
	assert.Equal(t, "ECNL", started[0].RunMetadata.League)
}

func TestNew_RequiredCollaborators(t *testing.T) {
	h := newHarness(t)
	base := Config{Snapshots: h.snapshots, Audit: h.audit, Publisher: okPublisher(), Source: source.Static(nil)}

	for name, mutate := range map[string]func(*Config){
		"snapshots": func(c *Config) { c.Snapshots = nil },
		"audit":     func(c *Config) { c.Audit = nil },
		"publisher": func(c *Config) { c.Publisher = nil },
		"source":    func(c *Config) { c.Source = nil },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}
