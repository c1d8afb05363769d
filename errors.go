package qgerm

import "errors"

// The failure taxonomy shared by all selection engines. Failures are
// always explicit: an engine never returns an empty selection as a stand-in
// for "could not find one". Callers branch with errors.Is.
var (
	// ErrIncompletePool means the full candidate pool cannot achieve
	// completeness, so searching subsets of it is pointless. Raised
	// before any iteration starts.
	ErrIncompletePool = errors.New("candidate pool is not complete")

	// ErrSearchExhausted means the configured bounds (max length, fixed
	// cardinality, trial budget) were explored without finding a complete
	// selection.
	ErrSearchExhausted = errors.New("search exhausted without a complete selection")

	// ErrInvalidConfig means the configuration is contradictory or out of
	// range.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDegenerate means a singular-value computation could not resolve
	// the rank at the configured tolerance.
	ErrDegenerate = errors.New("numerically degenerate spectrum")
)
