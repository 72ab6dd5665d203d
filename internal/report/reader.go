// Package report reads the audit trail back and turns it into answers:
// what did a run decide, which matches changed, which submissions failed.
// It only ever reads; the trail stays append-only.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"matchsync/internal/audit"
)

// Filter selects audit events. Zero-value fields match everything.
type Filter struct {
	RunID         string
	EventType     audit.EventType
	CorrelationID string

	// League keeps only events belonging to runs whose run_started metadata
	// names this league. Needs the whole trail in view, so it is applied by
	// Load, not by Match.
	League string

	// ChangesOnly keeps only events that represent a change worth acting
	// on: match_discovered, match_updated, queue_failed.
	ChangesOnly bool
}

// Match reports whether the event passes the per-event parts of the filter.
func (f Filter) Match(e audit.Event) bool {
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.EventType != "" && e.Type != f.EventType {
		return false
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if f.ChangesOnly {
		switch e.Type {
		case audit.EventMatchDiscovered, audit.EventMatchUpdated, audit.EventQueueFailed:
		default:
			return false
		}
	}
	return true
}

// Reader loads audit events from a directory of daily JSONL files.
type Reader struct {
	Dir string
}

// auditFilePattern matches the writer's daily partition naming.
const auditFilePattern = "match-audit-*.jsonl"

// Load reads every audit file in the directory, oldest first, and returns
// the events passing the filter. Daily files are read in name order, which
// is date order; within a file, lines are already in append order.
func (r Reader) Load(filter Filter) ([]audit.Event, error) {
	paths, err := filepath.Glob(filepath.Join(r.Dir, auditFilePattern))
	if err != nil {
		return nil, fmt.Errorf("list audit files in %s: %w", r.Dir, err)
	}
	sort.Strings(paths)

	var all []audit.Event
	for _, path := range paths {
		if err := r.loadFile(path, &all); err != nil {
			return nil, err
		}
	}

	// A league filter selects whole runs: a run belongs to a league when its
	// run_started metadata says so.
	var leagueRuns map[string]bool
	if filter.League != "" {
		leagueRuns = make(map[string]bool)
		for _, e := range all {
			if e.Type == audit.EventRunStarted && e.RunMetadata != nil && e.RunMetadata.League == filter.League {
				leagueRuns[e.RunID] = true
			}
		}
	}

	var events []audit.Event
	for _, e := range all {
		if leagueRuns != nil && !leagueRuns[e.RunID] {
			continue
		}
		if filter.Match(e) {
			events = append(events, e)
		}
	}
	return events, nil
}

func (r Reader) loadFile(path string, events *[]audit.Event) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e audit.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s:%d: malformed audit line: %w", filepath.Base(path), lineNo, err)
		}
		*events = append(*events, e)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read audit file %s: %w", filepath.Base(path), err)
	}
	return nil
}

// RunReport aggregates one run's events into a per-run view.
//
// Complete is false when no run_completed event exists for the run, which is
// how an interrupted or failed run shows up in the trail.
type RunReport struct {
	RunID     string             `json:"run_id"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   *time.Time         `json:"ended_at,omitempty"`
	Complete  bool               `json:"complete"`
	Metadata  *audit.RunMetadata `json:"run_metadata,omitempty"`
	Summary   *audit.Summary     `json:"summary,omitempty"`

	// Counted from the trail itself, not from the run_completed summary, so
	// incomplete runs still report what they got through.
	Discovered     int `json:"discovered"`
	Updated        int `json:"updated"`
	Unchanged      int `json:"unchanged"`
	QueueSubmitted int `json:"queue_submitted"`
	QueueFailed    int `json:"queue_failed"`
}

// Summarize groups events by run id, in order of first appearance.
func Summarize(events []audit.Event) []RunReport {
	index := make(map[string]int)
	var runs []RunReport

	for _, e := range events {
		i, ok := index[e.RunID]
		if !ok {
			i = len(runs)
			index[e.RunID] = i
			runs = append(runs, RunReport{RunID: e.RunID, StartedAt: e.Timestamp})
		}
		r := &runs[i]

		switch e.Type {
		case audit.EventRunStarted:
			r.StartedAt = e.Timestamp
			r.Metadata = e.RunMetadata
		case audit.EventRunCompleted:
			t := e.Timestamp
			r.EndedAt = &t
			r.Complete = true
			r.Summary = e.Summary
		case audit.EventMatchDiscovered:
			r.Discovered++
		case audit.EventMatchUpdated:
			r.Updated++
		case audit.EventMatchUnchanged:
			r.Unchanged++
		case audit.EventQueueSubmitted:
			r.QueueSubmitted++
		case audit.EventQueueFailed:
			r.QueueFailed++
		}
	}
	return runs
}
