package qgerm

import (
	"context"
	"fmt"
	"log"
	"math/rand"
)

// Algorithm names the subset-search strategy used by the engines.
type Algorithm string

const (
	// AlgSlack is the integer toggle local search: shrink the selection
	// while tolerating a configured score regression ("slack").
	AlgSlack Algorithm = "slack"

	// AlgGreedy builds a selection constructively, always taking the
	// candidate that gains the most rank (then the best score).
	AlgGreedy Algorithm = "greedy"

	// AlgGRASP runs randomized-greedy constructions with swap refinement
	// over a number of restarts, keeping the best.
	AlgGRASP Algorithm = "grasp"
)

func (a Algorithm) valid() bool {
	return a == AlgSlack || a == AlgGreedy || a == AlgGRASP
}

// evalResult is one subset evaluation: the reduced score plus the raw
// rank, which the constructive searches use as their progress measure
// while the score is still the +Inf sentinel.
type evalResult struct {
	score    Score
	rank     int
	spectrum []float64
	err      error
}

// subsetScorer evaluates a weight vector over the candidate pool.
type subsetScorer func(weights []bool) evalResult

// scoreCache memoizes subset evaluations by weight-vector key, the same
// role the weight-tuple score dictionary plays in the searches' design.
type scoreCache struct {
	entries map[string]evalResult
	metrics *SearchMetrics
	eval    subsetScorer
}

func newScoreCache(eval subsetScorer, metrics *SearchMetrics) *scoreCache {
	return &scoreCache{entries: map[string]evalResult{}, metrics: metrics, eval: eval}
}

func (c *scoreCache) get(weights []bool) evalResult {
	k := weightsKey(weights)
	if r, ok := c.entries[k]; ok {
		c.metrics.recordEvaluation(true)
		return r
	}
	r := c.eval(weights)
	c.entries[k] = r
	c.metrics.recordEvaluation(false)
	return r
}

func weightsKey(weights []bool) string {
	b := make([]byte, len(weights))
	for i, w := range weights {
		if w {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}

func countWeights(weights []bool) int {
	n := 0
	for _, w := range weights {
		if w {
			n++
		}
	}
	return n
}

func cloneWeights(weights []bool) []bool {
	cp := make([]bool, len(weights))
	copy(cp, weights)
	return cp
}

// searchOptions carries the knobs shared by the three strategies.
type searchOptions struct {
	forced     []bool  // indices pinned to inclusion, never toggled off
	minSize    int     // selections may not shrink below this
	maxIter    int
	fixedSlack float64 // exactly one of fixedSlack / slackFrac is set
	slackFrac  float64
	targetRank int // rank at which a selection counts as complete
	verbose    bool
}

/*
slackSearch is the integer local search: starting from the full pool,
toggle one candidate at a time, moving whenever the score does not get
worse and the selection gets smaller. When no neighbor qualifies, relax
the acceptance bound by the configured slack (additive fixedSlack or
multiplicative slackFrac) and retry removals only; converge when even the
relaxed bound admits no smaller neighbor.
*/
func slackSearch(ctx context.Context, cache *scoreCache, n int, opt searchOptions) ([]bool, Score, error) {
	weights := make([]bool, n)
	for i := range weights {
		weights[i] = true
	}
	cur := cache.get(weights)
	if cur.err != nil {
		return nil, InfScore(n), cur.err
	}
	score := cur.score
	size := n

	for iter := 0; iter < opt.maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return weights, score, err
		}
		if opt.verbose {
			log.Printf("slack search iter %d: score=%s size=%d", iter, score, size)
		}

		improved := false
		for i := 0; i < n; i++ {
			if opt.forced[i] && weights[i] {
				continue
			}
			neighbor := cloneWeights(weights)
			neighbor[i] = !neighbor[i]
			nsize := countWeights(neighbor)
			if nsize < opt.minSize {
				continue
			}
			res := cache.get(neighbor)
			if res.err != nil {
				return weights, score, res.err
			}
			if !res.score.IsFailure() && res.score.Value <= score.Value && nsize < size {
				weights, score, size = neighbor, res.score, nsize
				improved = true
			}
		}
		if improved {
			continue
		}

		// No better neighbor: relax the acceptance bound and look for a
		// smaller selection within slack.
		relaxed := score.Value * (1 + opt.slackFrac)
		if opt.fixedSlack > 0 {
			relaxed = score.Value + opt.fixedSlack
		}
		for i := 0; i < n; i++ {
			if opt.forced[i] || !weights[i] {
				continue
			}
			neighbor := cloneWeights(weights)
			neighbor[i] = false
			nsize := size - 1
			if nsize < opt.minSize {
				continue
			}
			res := cache.get(neighbor)
			if res.err != nil {
				return weights, score, res.err
			}
			if !res.score.IsFailure() && res.score.Value < relaxed {
				weights, score, size = neighbor, res.score, nsize
				improved = true
			}
		}
		if !improved {
			if opt.verbose {
				log.Printf("slack search stationary at score=%s size=%d", score, size)
			}
			break
		}
	}
	return weights, score, nil
}

/*
greedyConstruct builds a selection from the forced members upward: each
step adds the candidate with the largest rank gain, breaking ties by
score, then by candidate order (which pool sorting makes deterministic).
When rng is non-nil the tie-broken front-runners form a restricted
candidate list and one is drawn at random, which is the randomized
construction GRASP repeats.
*/
func greedyConstruct(ctx context.Context, cache *scoreCache, n int, opt searchOptions, rng *rand.Rand) ([]bool, Score, error) {
	weights := cloneWeights(opt.forced)
	cur := cache.get(weights)
	if cur.err != nil {
		return nil, InfScore(0), cur.err
	}

	for countWeights(weights) < n {
		if err := ctx.Err(); err != nil {
			return weights, cur.score, err
		}
		if cur.rank >= opt.targetRank && countWeights(weights) >= opt.minSize && !cur.score.IsFailure() {
			break
		}

		bestGain := -1
		bestScore := InfScore(n + 1)
		var candidates []int
		var results []evalResult
		for i := 0; i < n; i++ {
			if weights[i] {
				continue
			}
			neighbor := cloneWeights(weights)
			neighbor[i] = true
			res := cache.get(neighbor)
			if res.err != nil {
				return weights, cur.score, res.err
			}
			gain := res.rank - cur.rank
			switch {
			case gain > bestGain,
				gain == bestGain && res.score.Less(bestScore):
				bestGain = gain
				bestScore = res.score
				candidates = []int{i}
				results = []evalResult{res}
			case gain == bestGain && res.score.tiesWith(bestScore):
				candidates = append(candidates, i)
				results = append(results, res)
			}
		}
		if len(candidates) == 0 {
			break
		}
		if bestGain <= 0 && cur.rank < opt.targetRank && bestScore.IsFailure() {
			// Nothing left can make progress toward completeness.
			return weights, cur.score, fmt.Errorf("%w: no candidate increases the amplified rank beyond %d", ErrSearchExhausted, cur.rank)
		}
		pick := 0
		if rng != nil && len(candidates) > 1 {
			pick = rng.Intn(len(candidates))
		}
		weights[candidates[pick]] = true
		cur = results[pick]
	}

	if cur.rank < opt.targetRank || cur.score.IsFailure() {
		return weights, cur.score, fmt.Errorf("%w: constructive search stopped at rank %d of %d", ErrSearchExhausted, cur.rank, opt.targetRank)
	}
	return weights, cur.score, nil
}

/*
swapRefine is the GRASP local-search phase: try every remove-one/add-one
swap (and plain removals) and accept strict score improvements until a
local optimum.
*/
func swapRefine(ctx context.Context, cache *scoreCache, weights []bool, opt searchOptions) ([]bool, Score, error) {
	cur := cache.get(weights)
	if cur.err != nil {
		return weights, cur.score, cur.err
	}
	n := len(weights)

	for iter := 0; iter < opt.maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return weights, cur.score, err
		}
		improved := false
		for out := 0; out < n && !improved; out++ {
			if !weights[out] || opt.forced[out] {
				continue
			}
			removed := cloneWeights(weights)
			removed[out] = false
			if countWeights(removed) >= opt.minSize {
				res := cache.get(removed)
				if res.err != nil {
					return weights, cur.score, res.err
				}
				if res.score.Less(cur.score) {
					weights, cur = removed, res
					improved = true
					break
				}
			}
			for in := 0; in < n; in++ {
				if weights[in] || in == out {
					continue
				}
				swapped := cloneWeights(removed)
				swapped[in] = true
				res := cache.get(swapped)
				if res.err != nil {
					return weights, cur.score, res.err
				}
				if res.score.Less(cur.score) {
					weights, cur = swapped, res
					improved = true
					break
				}
			}
		}
		if !improved {
			break
		}
	}
	return weights, cur.score, nil
}
