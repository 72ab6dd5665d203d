// Package reconcile drives the match comparator over a full run's records,
// bucketing each one as discovered, updated, or unchanged and building the
// new state snapshot map as it goes.
package reconcile

import (
	"log/slog"

	"matchsync/internal/match"
)

// UpdatedMatch pairs an updated record with its field-level diff.
type UpdatedMatch struct {
	Record  match.Record
	Changes match.Diff
}

// Result holds the categorized outcome of reconciling one run.
//
// Snapshot contains only matches seen in the current run: a match present in
// the previous snapshot but absent from the current results is silently
// dropped from tracking. No "removed" bucket or event exists today; consumers
// of the audit trail depend on the current event vocabulary.
type Result struct {
	Discovered []match.Record
	Updated    []UpdatedMatch
	Unchanged  []match.Record
	Skipped    []match.Record
	Snapshot   map[string]match.Record
}

// Total returns the number of current-run records that were considered,
// including skipped ones.
func (r Result) Total() int {
	return len(r.Discovered) + len(r.Updated) + len(r.Unchanged) + len(r.Skipped)
}

// Reconcile classifies every current record against the previous snapshot.
//
// Records without an external match id cannot be tracked across runs: they
// are routed to Skipped, logged as warnings, and excluded from the new
// snapshot map. Everything else is classified by match.Classify and inserted
// into the snapshot map under its id.
//
// Deterministic: identical inputs produce identical bucketing and snapshot
// contents, and order within each bucket follows input order. The previous
// map is never mutated.
func Reconcile(current []match.Record, previous map[string]match.Record, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}

	res := Result{Snapshot: make(map[string]match.Record, len(current))}
	for _, rec := range current {
		if rec.ExternalID == "" {
			logger.Warn("match has no external id, cannot track across runs",
				"home_team", rec.HomeTeam,
				"away_team", rec.AwayTeam,
				"match_date", rec.MatchDate)
			res.Skipped = append(res.Skipped, rec)
			continue
		}

		var prev *match.Record
		if p, ok := previous[rec.ExternalID]; ok {
			prev = &p
		}

		cls, diff := match.Classify(rec, prev)
		switch cls {
		case match.Discovered:
			res.Discovered = append(res.Discovered, rec)
		case match.Updated:
			res.Updated = append(res.Updated, UpdatedMatch{Record: rec, Changes: diff})
		case match.Unchanged:
			res.Unchanged = append(res.Unchanged, rec)
		}
		res.Snapshot[rec.ExternalID] = rec
	}
	return res
}
