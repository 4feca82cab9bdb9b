package domain

import "fmt"

// UpdateOutcome describes what UpdateNode did.
type UpdateOutcome string

const (
	OutcomeUpdated      UpdateOutcome = "updated"
	OutcomeRevived      UpdateOutcome = "revived"
	OutcomeNotFound     UpdateOutcome = "not_found"
	OutcomeNoAttributes UpdateOutcome = "no_attributes"
	OutcomeStale        UpdateOutcome = "stale"
	OutcomeOutOfOrder   UpdateOutcome = "out_of_order"
	OutcomeUnchanged    UpdateOutcome = "unchanged"
)

// UpdateResult is returned by UpdateNode. Entity is nil only when the
// identity is unknown.
type UpdateResult struct {
	Entity  *EntityRef
	Outcome UpdateOutcome
	Message string
}

// Applied reports whether a new state snapshot was written.
func (r UpdateResult) Applied() bool {
	return r.Outcome == OutcomeUpdated || r.Outcome == OutcomeRevived
}

// Err returns nil when a snapshot was written and otherwise wraps the
// sentinel matching the outcome. Skipped no-op updates wrap ErrNoOp.
func (r UpdateResult) Err() error {
	var sentinel error
	switch r.Outcome {
	case OutcomeUpdated, OutcomeRevived:
		return nil
	case OutcomeNoAttributes, OutcomeUnchanged:
		sentinel = ErrNoOp
	case OutcomeNotFound, OutcomeStale:
		sentinel = ErrNotFound
	case OutcomeOutOfOrder:
		sentinel = ErrStale
	default:
		return fmt.Errorf("unknown update outcome %q", r.Outcome)
	}
	return fmt.Errorf("%w: %s", sentinel, r.Message)
}
