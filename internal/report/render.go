package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"matchsync/internal/audit"
)

const timeFormat = "2006-01-02 15:04:05"

// WriteJSON writes events as an indented JSON array.
func WriteJSON(w io.Writer, events []audit.Event) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if events == nil {
		events = []audit.Event{}
	}
	return enc.Encode(events)
}

// WriteRunsJSON writes per-run aggregates as an indented JSON array.
func WriteRunsJSON(w io.Writer, runs []RunReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if runs == nil {
		runs = []RunReport{}
	}
	return enc.Encode(runs)
}

// WriteEventTable renders events as a table, one row per event.
func WriteEventTable(w io.Writer, events []audit.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "no audit events matched")
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Timestamp (UTC)", "Run", "Event", "Match", "Detail"})
	for _, e := range events {
		tw.AppendRow(table.Row{
			e.Timestamp.Format(timeFormat),
			shortRunID(e.RunID),
			e.Type,
			e.CorrelationID,
			eventDetail(e),
		})
	}
	tw.Render()
}

// WriteRunTable renders per-run aggregates as a table, one row per run.
func WriteRunTable(w io.Writer, runs []RunReport) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs found")
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Run", "Started (UTC)", "Status", "Discovered", "Updated", "Unchanged", "Submitted", "Failed"})
	for _, r := range runs {
		status := "incomplete"
		if r.Complete {
			status = "completed"
		}
		tw.AppendRow(table.Row{
			shortRunID(r.RunID),
			r.StartedAt.Format(timeFormat),
			status,
			r.Discovered,
			r.Updated,
			r.Unchanged,
			r.QueueSubmitted,
			r.QueueFailed,
		})
	}
	tw.Render()
}

// eventDetail summarizes the event-specific payload for the table's last
// column: changed fields for updates, task id or error for queue events.
func eventDetail(e audit.Event) string {
	switch e.Type {
	case audit.EventMatchUpdated:
		return changedFields(e)
	case audit.EventQueueSubmitted:
		return "task " + e.QueueTaskID
	case audit.EventQueueFailed:
		return e.ErrorMessage
	case audit.EventRunCompleted:
		if e.Summary == nil {
			return ""
		}
		return fmt.Sprintf("%d matches: %d new, %d updated, %d unchanged",
			e.Summary.TotalMatches, e.Summary.Discovered, e.Summary.Updated, e.Summary.Unchanged)
	case audit.EventRunStarted:
		if e.RunMetadata == nil {
			return ""
		}
		return describeScope(e.RunMetadata)
	}
	return ""
}

// changedFields renders an update's diff as "field: old -> new" pairs,
// sorted by field name for stable output.
func changedFields(e audit.Event) string {
	if len(e.Changes) == 0 {
		return ""
	}
	fields := make([]string, 0, len(e.Changes))
	for name := range e.Changes {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, name := range fields {
		ch := e.Changes[name]
		parts = append(parts, fmt.Sprintf("%s: %s -> %s", name, formatValue(ch.From), formatValue(ch.To)))
	}
	return strings.Join(parts, "; ")
}

func formatValue(v any) string {
	if v == nil {
		return "(none)"
	}
	// JSON round-tripping turns integer scores into float64.
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", v)
}

func describeScope(m *audit.RunMetadata) string {
	var parts []string
	for _, s := range []string{m.League, m.AgeGroup, m.Division, m.DateRange} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " / ")
}

func shortRunID(id string) string {
	if len(id) <= 13 {
		return id
	}
	return id[:13]
}
