package qgerm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

/*
AmplificationResult describes how much of the model's parameter space a
germ set senses. Rank counts the parameter directions amplified by the
set; NullSpace holds an orthonormal basis (one column per direction) for
what the set cannot see. A germ set is amplificationally complete exactly
when Rank equals the model's parameter count and NullSpace is empty.
*/
type AmplificationResult struct {
	Rank      int
	NullSpace *mat.Dense // P x (P-Rank), nil when complete
	Spectrum  []float64  // squared singular values, length P, descending
}

// Complete reports whether every model parameter is amplified.
func (r AmplificationResult) Complete(model GateSetModel) bool {
	return r.Rank == model.ParameterCount()
}

/*
AmplifiedParameters builds the amplification matrix of a germ set: each
germ's Jacobian at the given repetition count, stacked vertically into a
single (nGerms*d*d, P) matrix, then decomposed by SVD. An empty germ set
is trivially incomplete (rank zero, full null space), never an error.

Returns ErrDegenerate when the decomposition fails or when the spectrum
straddles the rank cutoff so closely that the rank is ambiguous at the
configured tolerance.
*/
func AmplifiedParameters(model GateSetModel, germs []Sequence, reps int, tol float64) (AmplificationResult, error) {
	p := model.ParameterCount()
	if tol <= 0 {
		tol = DefaultRankTol
	}
	if reps < 1 {
		reps = DefaultRepetitions
	}
	if len(germs) == 0 {
		return AmplificationResult{
			Rank:      0,
			NullSpace: identity(p),
			Spectrum:  make([]float64, p),
		}, nil
	}

	stacked, err := stackDerivatives(model, germs, reps)
	if err != nil {
		return AmplificationResult{}, err
	}

	var svd mat.SVD
	if !svd.Factorize(stacked, mat.SVDFullV) {
		return AmplificationResult{}, fmt.Errorf("%w: SVD of %d-germ amplification matrix did not converge", ErrDegenerate, len(germs))
	}
	values := svd.Values(nil)

	rank, ambiguous := rankOf(values, tol)
	if ambiguous {
		return AmplificationResult{}, fmt.Errorf("%w: singular values straddle the rank cutoff (tol=%g)", ErrDegenerate, tol)
	}

	spectrum := make([]float64, p)
	for i, v := range values {
		if i >= p {
			break
		}
		spectrum[i] = v * v
	}

	res := AmplificationResult{Rank: rank, Spectrum: spectrum}
	if rank < p {
		var v mat.Dense
		svd.VTo(&v)
		res.NullSpace = v.Slice(0, p, rank, p).(*mat.Dense)
	}
	return res, nil
}

/*
GermSetScore reduces the germ set's amplification spectrum through the
chosen score function. Incomplete sets (any unamplified direction, which
includes the empty set) score +Inf.
*/
func GermSetScore(model GateSetModel, germs []Sequence, f ScoreFunc, reps int, tol float64) (Score, error) {
	res, err := AmplifiedParameters(model, germs, reps, tol)
	if err != nil {
		return InfScore(len(germs)), err
	}
	cut := 0.0
	if len(res.Spectrum) > 0 {
		cut = tol * tol * res.Spectrum[0]
	}
	return spectrumScore(res.Spectrum, f, len(germs), cut), nil
}

// MinGermFloor is the reachability floor: each germ contributes at most
// d*d independent rows, so fewer than ceil(P/d^2) germs can never be
// complete.
func MinGermFloor(model GateSetModel) int {
	d2 := model.Dimension() * model.Dimension()
	p := model.ParameterCount()
	return (p + d2 - 1) / d2
}

func stackDerivatives(model GateSetModel, germs []Sequence, reps int) (*mat.Dense, error) {
	d2 := model.Dimension() * model.Dimension()
	p := model.ParameterCount()
	stacked := mat.NewDense(d2*len(germs), p, nil)
	for gi, germ := range germs {
		jac, err := model.Derivative(germ, reps)
		if err != nil {
			return nil, fmt.Errorf("derivative of germ %s: %w", germ, err)
		}
		r, c := jac.Dims()
		if r != d2 || c != p {
			return nil, fmt.Errorf("derivative of germ %s has shape (%d,%d), want (%d,%d)", germ, r, c, d2, p)
		}
		stacked.Slice(gi*d2, (gi+1)*d2, 0, p).(*mat.Dense).Copy(jac)
	}
	return stacked, nil
}

// rankOf counts singular values above tol*sigma_max. It also reports
// ambiguity: a value within a factor of two of the cutoff means the rank
// decision is not numerically trustworthy at this tolerance.
func rankOf(values []float64, tol float64) (rank int, ambiguous bool) {
	if len(values) == 0 || values[0] == 0 {
		return 0, false
	}
	cut := tol * values[0]
	for _, v := range values {
		if v > cut {
			rank++
		}
		if v > cut/2 && v < cut*2 {
			ambiguous = true
		}
	}
	return rank, ambiguous
}
