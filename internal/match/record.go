package match

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a fixture as reported by the source.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusTBD       Status = "tbd"
	StatusCompleted Status = "completed"
	StatusPostponed Status = "postponed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusTBD, StatusCompleted, StatusPostponed, StatusCancelled:
		return true
	}
	return false
}

// dateLayout is the calendar-date format used for MatchDate.
const dateLayout = "2006-01-02"

// Record represents one fixture at a point in time.
//
// Optional fields are pointer-typed: nil means the source did not report a
// value, which is distinct from a zero value (a 0-0 score is not the same as
// no score). ExternalID is the stable identifier used to track the fixture
// across runs; records without one cannot be reconciled.
type Record struct {
	ExternalID string  `json:"external_match_id" csv:"external_match_id"`
	HomeTeam   string  `json:"home_team" csv:"home_team"`
	AwayTeam   string  `json:"away_team" csv:"away_team"`
	MatchDate  string  `json:"match_date" csv:"match_date"` // YYYY-MM-DD
	Season     string  `json:"season" csv:"season"`
	AgeGroup   string  `json:"age_group" csv:"age_group"`
	MatchType  string  `json:"match_type" csv:"match_type"`
	Division   *string `json:"division,omitempty" csv:"division,omitempty"`
	HomeScore  *int    `json:"home_score,omitempty" csv:"home_score,omitempty"`
	AwayScore  *int    `json:"away_score,omitempty" csv:"away_score,omitempty"`
	Status     Status  `json:"match_status" csv:"match_status"`
	Location   *string `json:"location,omitempty" csv:"location,omitempty"`
	Notes      *string `json:"notes,omitempty" csv:"notes,omitempty"`
	Source     *string `json:"source,omitempty" csv:"source,omitempty"`
}

// ValidationError reports a record field that fails validation.
// Validation runs before queue submission, never during comparison.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid match record: %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the record against the payload contract.
// Returns a *ValidationError naming the first offending field, or nil.
func (r Record) Validate() error {
	if r.ExternalID == "" {
		return &ValidationError{Field: "external_match_id", Reason: "must not be empty"}
	}
	if r.HomeTeam == "" {
		return &ValidationError{Field: "home_team", Reason: "must not be empty"}
	}
	if r.AwayTeam == "" {
		return &ValidationError{Field: "away_team", Reason: "must not be empty"}
	}
	if r.MatchDate == "" {
		return &ValidationError{Field: "match_date", Reason: "must not be empty"}
	}
	if _, err := time.Parse(dateLayout, r.MatchDate); err != nil {
		return &ValidationError{Field: "match_date", Reason: fmt.Sprintf("not a calendar date (want %s)", dateLayout)}
	}
	if !r.Status.Valid() {
		return &ValidationError{Field: "match_status", Reason: fmt.Sprintf("unknown status %q", r.Status)}
	}
	if r.HomeScore != nil && *r.HomeScore < 0 {
		return &ValidationError{Field: "home_score", Reason: "must not be negative"}
	}
	if r.AwayScore != nil && *r.AwayScore < 0 {
		return &ValidationError{Field: "away_score", Reason: "must not be negative"}
	}
	return nil
}

// fieldNames lists the semantic fields that participate in diffing,
// in the order diffs are reported. ExternalID is excluded: records are
// only ever compared under the same key.
var fieldNames = []string{
	"home_team",
	"away_team",
	"match_date",
	"season",
	"age_group",
	"match_type",
	"division",
	"home_score",
	"away_score",
	"match_status",
	"location",
	"notes",
	"source",
}

// fieldValue returns the comparable value of a named field.
// Absent optional fields map to nil.
func (r Record) fieldValue(name string) any {
	switch name {
	case "home_team":
		return r.HomeTeam
	case "away_team":
		return r.AwayTeam
	case "match_date":
		return r.MatchDate
	case "season":
		return r.Season
	case "age_group":
		return r.AgeGroup
	case "match_type":
		return r.MatchType
	case "division":
		return optString(r.Division)
	case "home_score":
		return optInt(r.HomeScore)
	case "away_score":
		return optInt(r.AwayScore)
	case "match_status":
		return string(r.Status)
	case "location":
		return optString(r.Location)
	case "notes":
		return optString(r.Notes)
	case "source":
		return optString(r.Source)
	}
	return nil
}

func optString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func optInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// StringPtr returns a pointer to s. Convenience for building records.
func StringPtr(s string) *string { return &s }

// IntPtr returns a pointer to n. Convenience for building records.
func IntPtr(n int) *int { return &n }
