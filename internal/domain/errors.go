package domain

import "errors"

var (
	// ErrNotFound is returned when an identity or relationship does not exist,
	// or a state has already expired.
	ErrNotFound = errors.New("not found")

	// ErrNoOp marks a mutation that was skipped because nothing would change.
	ErrNoOp = errors.New("no change")

	// ErrStale is returned when a write no longer matches the stored history,
	// such as closing a relationship that is already closed.
	ErrStale = errors.New("relationship already closed")

	// ErrKeySpaceExhausted is returned when the namespacer runs out of
	// alternative keys for a colliding attribute.
	ErrKeySpaceExhausted = errors.New("attribute key space exhausted")

	// ErrUpstreamUnavailable is returned when an external source stays
	// unreachable after all retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMalformedInput is returned for unparseable or structurally invalid
	// input documents.
	ErrMalformedInput = errors.New("malformed input")
)
