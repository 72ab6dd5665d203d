package match

// Classification is the reconciliation outcome for one record.
type Classification string

const (
	// Discovered means the record has no previously observed state.
	Discovered Classification = "discovered"

	// Updated means at least one semantic field differs from prior state.
	Updated Classification = "updated"

	// Unchanged means every semantic field equals prior state.
	Unchanged Classification = "unchanged"
)

// FieldChange records one field-level difference between prior and
// current state. A field removed since the last observation has To == nil.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Diff maps field names to their changes. An empty Diff is never produced:
// a record with no differences classifies as Unchanged with a nil Diff.
type Diff map[string]FieldChange

// Classify compares current against previously observed state.
//
// If previous is nil the record is Discovered with no diff. Otherwise every
// semantic field present on either side is compared by value: absent on both
// sides is equal, absent on exactly one side is a difference (removal is
// recorded with To == nil). No type coercion is performed, so a score of 0
// and an absent score are not equal.
func Classify(current Record, previous *Record) (Classification, Diff) {
	if previous == nil {
		return Discovered, nil
	}

	var diff Diff
	for _, name := range fieldNames {
		from := previous.fieldValue(name)
		to := current.fieldValue(name)
		if from == nil && to == nil {
			continue
		}
		if from == to {
			continue
		}
		if diff == nil {
			diff = make(Diff)
		}
		diff[name] = FieldChange{From: from, To: to}
	}

	if len(diff) == 0 {
		return Unchanged, nil
	}
	return Updated, diff
}

// Equal reports whether two records carry identical semantic state.
func Equal(a, b Record) bool {
	c, _ := Classify(a, &b)
	return c == Unchanged
}
