// Package queue defines the outbound submission boundary for discovered and
// updated matches, and a durable local outbox implementation of it.
//
// The wire format of the real queue transport is out of scope; this package
// owns only the contract at the boundary: a validated match payload plus a
// correlation id goes in, a submission id comes out, or a transport error is
// returned.
package queue

import (
	"context"
	"fmt"

	"matchsync/internal/match"
)

// Payload is the validated match data submitted downstream. DivisionID is
// the resolved numeric routing identifier, set when the match's division or
// conference name appears in the routing table.
type Payload struct {
	match.Record
	DivisionID *int `json:"division_id,omitempty"`
}

// Publisher accepts a validated payload and returns a submission id.
// Implementations must be safe for concurrent use: the orchestrator may
// dispatch submissions from multiple workers.
type Publisher interface {
	Publish(ctx context.Context, p Payload) (taskID string, err error)
}

// RoutingTable maps human-readable division/conference names to the numeric
// ids the downstream consumer routes on. It is static configuration data,
// not reconciliation logic.
type RoutingTable map[string]int

// Resolve looks up the routing id for a division name. Returns nil when the
// record has no division or the name is unmapped; an unmapped division does
// not fail the submission.
func (t RoutingTable) Resolve(division *string) *int {
	if division == nil {
		return nil
	}
	id, ok := t[*division]
	if !ok {
		return nil
	}
	return &id
}

// BuildPayload validates the record and resolves its routing id.
// A validation failure surfaces here, before submission, as a typed
// *match.ValidationError.
func BuildPayload(rec match.Record, routing RoutingTable) (Payload, error) {
	if err := rec.Validate(); err != nil {
		return Payload{}, fmt.Errorf("build queue payload for %s: %w", rec.ExternalID, err)
	}
	return Payload{
		Record:     rec,
		DivisionID: routing.Resolve(rec.Division),
	}, nil
}
