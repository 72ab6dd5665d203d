// Package audit defines the immutable audit events emitted for every
// reconciliation decision and run lifecycle boundary, and the append-only,
// date-partitioned writer that persists them.
//
// The audit trail is the system of record for "what was decided and when".
// It is independent of the state snapshot (which only records what is true
// now) and is never rewritten: a run that fails simply has no run_completed
// event, and that absence is the signal of an incomplete run.
package audit

import (
	"time"

	"matchsync/internal/match"
)

// EventType identifies one kind of audit event.
type EventType string

const (
	EventRunStarted      EventType = "run_started"
	EventRunCompleted    EventType = "run_completed"
	EventMatchDiscovered EventType = "match_discovered"
	EventMatchUpdated    EventType = "match_updated"
	EventMatchUnchanged  EventType = "match_unchanged"
	EventQueueSubmitted  EventType = "queue_submitted"
	EventQueueFailed     EventType = "queue_failed"
)

// RunMetadata describes the scope a run tracked.
type RunMetadata struct {
	League    string `json:"league,omitempty"`
	AgeGroup  string `json:"age_group,omitempty"`
	Division  string `json:"division,omitempty"`
	DateRange string `json:"date_range,omitempty"`
}

// Summary holds the aggregate counts reported by a run_completed event.
// Immutable once logged.
type Summary struct {
	TotalMatches   int `json:"total_matches"`
	Discovered     int `json:"discovered"`
	Updated        int `json:"updated"`
	Unchanged      int `json:"unchanged"`
	QueueSubmitted int `json:"queue_submitted"`
	QueueFailed    int `json:"queue_failed"`
}

// Event is one immutable audit fact, serialized as a single JSON line.
//
// CorrelationID carries the external match id for match and queue events and
// is absent for run lifecycle events. Within a run, events appear in the
// order decisions were made: run_started first, run_completed last.
type Event struct {
	Timestamp     time.Time     `json:"timestamp"`
	RunID         string        `json:"run_id"`
	Type          EventType     `json:"event_type"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	RunMetadata   *RunMetadata  `json:"run_metadata,omitempty"`
	MatchData     *match.Record `json:"match_data,omitempty"`
	Changes       match.Diff    `json:"changes,omitempty"`
	QueueTaskID   string        `json:"queue_task_id,omitempty"`
	QueueSuccess  *bool         `json:"queue_success,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	Summary       *Summary      `json:"summary,omitempty"`
}

// NewRunStarted builds the first event of a run.
func NewRunStarted(at time.Time, runID string, meta *RunMetadata) Event {
	return Event{Timestamp: at.UTC(), RunID: runID, Type: EventRunStarted, RunMetadata: meta}
}

// NewRunCompleted builds the final event of a run.
func NewRunCompleted(at time.Time, runID string, meta *RunMetadata, summary Summary) Event {
	return Event{Timestamp: at.UTC(), RunID: runID, Type: EventRunCompleted, RunMetadata: meta, Summary: &summary}
}

// NewMatchEvent builds a match_discovered, match_updated, or match_unchanged
// event. changes is nil except for match_updated.
func NewMatchEvent(at time.Time, runID string, typ EventType, rec match.Record, changes match.Diff) Event {
	return Event{
		Timestamp:     at.UTC(),
		RunID:         runID,
		Type:          typ,
		CorrelationID: rec.ExternalID,
		MatchData:     &rec,
		Changes:       changes,
	}
}

// NewQueueSubmitted builds the event recording a successful queue submission.
func NewQueueSubmitted(at time.Time, runID, matchID, taskID string) Event {
	ok := true
	return Event{
		Timestamp:     at.UTC(),
		RunID:         runID,
		Type:          EventQueueSubmitted,
		CorrelationID: matchID,
		QueueTaskID:   taskID,
		QueueSuccess:  &ok,
	}
}

// NewQueueFailed builds the event recording a failed queue submission.
func NewQueueFailed(at time.Time, runID, matchID, errMsg string) Event {
	ok := false
	return Event{
		Timestamp:     at.UTC(),
		RunID:         runID,
		Type:          EventQueueFailed,
		CorrelationID: matchID,
		QueueSuccess:  &ok,
		ErrorMessage:  errMsg,
	}
}
