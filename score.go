package qgerm

import (
	"fmt"
	"math"
)

// ScoreFunc selects how a singular-value spectrum is collapsed into a
// single number. Lower is better for both.
type ScoreFunc string

const (
	// ScoreAll sums 1/lambda over the whole spectrum: rewards a uniformly
	// large, well-conditioned spectrum, since the smallest eigenvalue
	// dominates the sum.
	ScoreAll ScoreFunc = "all"

	// ScoreWorst is 1/lambda_min: only the least-sensed direction counts.
	ScoreWorst ScoreFunc = "worst"
)

func (f ScoreFunc) valid() bool { return f == ScoreAll || f == ScoreWorst }

/*
Score is the value of a candidate selection. Value is +Inf for any
selection that is not complete, so an incomplete set can never compare
favorably against a complete one, and never masquerades as score 0.
*/
type Score struct {
	Value float64
	N     int // cardinality of the scored selection
}

// InfScore marks an incomplete or otherwise invalid selection.
func InfScore(n int) Score { return Score{Value: math.Inf(1), N: n} }

// IsFailure reports whether the score marks an incomplete selection.
func (s Score) IsFailure() bool { return math.IsInf(s.Value, 1) }

// Less orders scores: lower value wins; values within tie tolerance fall
// back to smaller cardinality. The final tie-break (total gate count,
// then sequence key order) lives with the engines, which hold the
// sequences themselves.
func (s Score) Less(o Score) bool {
	if s.tiesWith(o) {
		return s.N < o.N
	}
	return s.Value < o.Value
}

func (s Score) tiesWith(o Score) bool {
	if s.IsFailure() || o.IsFailure() {
		return s.IsFailure() && o.IsFailure()
	}
	return math.Abs(s.Value-o.Value) < scoreTieTol
}

func (s Score) String() string {
	if s.IsFailure() {
		return fmt.Sprintf("Score(inf, n=%d)", s.N)
	}
	return fmt.Sprintf("Score(%.6g, n=%d)", s.Value, s.N)
}

/*
spectrumScore reduces a list of eigenvalues of the composite score matrix
(the squared singular values of the stacked sensitivity matrix) the way
the selection objective requires. eigs must be a full spectrum for the
dimension being covered: any entry at or below the completeness cutoff
makes the whole selection incomplete, so the sentinel is returned. The
result is scaled by n, the selection cardinality, so that between two
complete sets with similar spectra the smaller one wins.
*/
func spectrumScore(eigs []float64, f ScoreFunc, n int, cutoff float64) Score {
	if len(eigs) == 0 || n <= 0 {
		return InfScore(n)
	}
	min := math.Inf(1)
	sum := 0.0
	for _, e := range eigs {
		e = math.Abs(e)
		if e <= cutoff {
			return InfScore(n)
		}
		if e < min {
			min = e
		}
		sum += 1 / e
	}
	switch f {
	case ScoreWorst:
		return Score{Value: float64(n) / min, N: n}
	default:
		return Score{Value: float64(n) * sum, N: n}
	}
}
