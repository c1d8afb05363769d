package qgerm

import (
	"context"
	"fmt"
	"log"
	"math/rand"

	"github.com/theapemachine/errnie"
	"gonum.org/v1/gonum/mat"
)

/*
Selection is a successful result from one of the selection engines: the
chosen sequences (in deterministic pool order), their score, and the
telemetry of the search that produced them. Engines return nil Selection
with a taxonomy error instead of an empty-but-valid result when no
complete selection exists.
*/
type Selection struct {
	Sequences []Sequence
	Score     Score
	Metrics   *SearchMetrics
}

// GermConfig tunes SelectGerms. Exactly one of SlackFrac / FixedSlack
// must be set when the slack algorithm runs.
type GermConfig struct {
	Algorithm       Algorithm
	ScoreFunc       ScoreFunc
	ForceSingletons bool // pre-include every single-gate sequence in the pool
	MaxGermLength   int  // pool bound used by GenerateGerms
	MinimumNumber   int  // lower bound on the returned cardinality
	Repetitions     int  // germ power for amplification matrices
	RankTol         float64
	Seed            int64
	Iterations      int
	SlackFrac       float64
	FixedSlack      float64
	Workers         int // trial-pool width for GRASP restarts
	Verbose         bool
}

// GermOption mutates a GermConfig, the same shape job options take in a
// scheduling call.
type GermOption func(*GermConfig)

func WithGermAlgorithm(a Algorithm) GermOption { return func(c *GermConfig) { c.Algorithm = a } }

func WithGermScoreFunc(f ScoreFunc) GermOption { return func(c *GermConfig) { c.ScoreFunc = f } }

func WithGermSeed(seed int64) GermOption { return func(c *GermConfig) { c.Seed = seed } }

func WithGermSlackFrac(f float64) GermOption {
	return func(c *GermConfig) { c.SlackFrac = f; c.FixedSlack = 0 }
}
func WithGermFixedSlack(s float64) GermOption {
	return func(c *GermConfig) { c.FixedSlack = s; c.SlackFrac = 0 }
}

// NewGermConfig returns the defaults: slack search with slackFrac 1.0,
// forced singletons, the "all" score.
func NewGermConfig(opts ...GermOption) *GermConfig {
	cfg := &GermConfig{
		Algorithm:       AlgSlack,
		ScoreFunc:       ScoreAll,
		ForceSingletons: true,
		MaxGermLength:   6,
		Repetitions:     DefaultRepetitions,
		RankTol:         DefaultRankTol,
		Iterations:      DefaultIterations,
		SlackFrac:       1.0,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *GermConfig) validate(poolSize int) error {
	if !c.Algorithm.valid() {
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, c.Algorithm)
	}
	if !c.ScoreFunc.valid() {
		return fmt.Errorf("%w: unknown score function %q", ErrInvalidConfig, c.ScoreFunc)
	}
	if c.Algorithm == AlgSlack && (c.SlackFrac > 0) == (c.FixedSlack > 0) {
		return fmt.Errorf("%w: exactly one of SlackFrac or FixedSlack must be set", ErrInvalidConfig)
	}
	if c.MinimumNumber > poolSize {
		return fmt.Errorf("%w: MinimumNumber %d exceeds pool size %d", ErrInvalidConfig, c.MinimumNumber, poolSize)
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("%w: Iterations must be positive", ErrInvalidConfig)
	}
	return nil
}

/*
SelectGerms searches the candidate pool for a minimal or near-minimal
germ set that is amplificationally complete for the model: the stacked
repeated-derivative matrix of the selection must have rank equal to the
model's parameter count.

The search is deterministic given (model, pool, cfg): randomized
strategies derive every random stream from cfg.Seed. On failure the
error distinguishes an incomplete pool (ErrIncompletePool: not even
the whole pool is complete, so constraints must be relaxed) from an
exhausted search (ErrSearchExhausted).
*/
func SelectGerms(ctx context.Context, model GateSetModel, pool []Sequence, cfg *GermConfig) (*Selection, error) {
	if cfg == nil {
		cfg = NewGermConfig()
	}
	if model == nil || len(pool) == 0 {
		return nil, fmt.Errorf("%w: model and a non-empty pool are required", ErrInvalidConfig)
	}
	if err := cfg.validate(len(pool)); err != nil {
		return nil, err
	}
	errnie.Info("SelectGerms - pool %v candidates, algorithm %v, seed %v", len(pool), cfg.Algorithm, cfg.Seed)

	p := model.ParameterCount()
	floor := MinGermFloor(model)
	if len(pool) < floor {
		return nil, fmt.Errorf("%w: pool of %d germs cannot reach rank %d (floor %d)", ErrSearchExhausted, len(pool), p, floor)
	}
	minSize := floor
	if cfg.MinimumNumber > minSize {
		minSize = cfg.MinimumNumber
	}

	metrics := newSearchMetrics()
	eval := germScorer(model, pool, cfg)
	cache := newScoreCache(eval, metrics)

	// The whole pool must be complete before the search is worth running.
	full := make([]bool, len(pool))
	for i := range full {
		full[i] = true
	}
	init := cache.get(full)
	if init.err != nil {
		return nil, init.err
	}
	if init.rank < p || init.score.IsFailure() {
		return nil, fmt.Errorf("%w: full pool amplifies only %d of %d parameters", ErrIncompletePool, init.rank, p)
	}
	log.Printf("germ selection: full pool complete (rank %d), searching %d candidates", init.rank, len(pool))

	forced := make([]bool, len(pool))
	if cfg.ForceSingletons {
		for i, s := range pool {
			forced[i] = s.Len() == 1
		}
	}
	opt := searchOptions{
		forced:     forced,
		minSize:    minSize,
		maxIter:    cfg.Iterations,
		fixedSlack: cfg.FixedSlack,
		slackFrac:  cfg.SlackFrac,
		targetRank: p,
		verbose:    cfg.Verbose,
	}

	var weights []bool
	var score Score
	var err error
	switch cfg.Algorithm {
	case AlgGreedy:
		weights, score, err = greedyConstruct(ctx, cache, len(pool), opt, nil)
	case AlgGRASP:
		weights, score, err = graspSearch(ctx, eval, metrics, len(pool), pool, opt, cfg.Seed, cfg.Iterations, cfg.Workers)
	default:
		weights, score, err = slackSearch(ctx, cache, len(pool), opt)
	}
	if err != nil {
		return nil, err
	}

	selected := pickWeights(pool, weights)
	final := cache.get(weights)
	if final.err != nil {
		return nil, final.err
	}
	if final.rank < p || final.score.IsFailure() {
		return nil, fmt.Errorf("%w: converged selection amplifies only %d of %d parameters", ErrSearchExhausted, final.rank, p)
	}
	metrics.recordImprovement(score)
	log.Printf("germ selection done: %d germs, %s", len(selected), score)
	return &Selection{Sequences: selected, Score: score, Metrics: metrics}, nil
}

// germScorer evaluates a germ subset: stack the repeated derivatives of
// the selected germs and reduce the squared singular spectrum.
func germScorer(model GateSetModel, pool []Sequence, cfg *GermConfig) subsetScorer {
	p := model.ParameterCount()
	return func(weights []bool) evalResult {
		selected := pickWeights(pool, weights)
		if len(selected) == 0 {
			return evalResult{score: InfScore(0), rank: 0}
		}
		stacked, err := stackDerivatives(model, selected, cfg.Repetitions)
		if err != nil {
			return evalResult{err: err}
		}
		var svd mat.SVD
		if !svd.Factorize(stacked, mat.SVDNone) {
			return evalResult{err: fmt.Errorf("%w: SVD of %d-germ stack did not converge", ErrDegenerate, len(selected))}
		}
		values := svd.Values(nil)
		rank, ambiguous := rankOf(values, cfg.RankTol)
		if ambiguous {
			return evalResult{err: fmt.Errorf("%w: germ-set spectrum straddles the rank cutoff", ErrDegenerate)}
		}
		spectrum := make([]float64, p)
		for i, v := range values {
			if i >= p {
				break
			}
			spectrum[i] = v * v
		}
		cut := 0.0
		if len(values) > 0 {
			cut = cfg.RankTol * values[0] * cfg.RankTol * values[0]
		}
		return evalResult{score: spectrumScore(spectrum, cfg.ScoreFunc, len(selected), cut), rank: rank}
	}
}

/*
GenerateGerms builds the candidate pool from the model's own gate labels
(lengths 1 through MaxGermLength) and runs SelectGerms on it. The pool
grows exponentially in MaxGermLength, so deep models pay for their depth
here.
*/
func GenerateGerms(ctx context.Context, model GateSetModel, cfg *GermConfig) (*Selection, error) {
	if cfg == nil {
		cfg = NewGermConfig()
	}
	if model == nil {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	if cfg.MaxGermLength < 1 {
		return nil, fmt.Errorf("%w: MaxGermLength must be at least 1", ErrInvalidConfig)
	}
	pool := AllSequences(model.GateLabels(), 1, cfg.MaxGermLength)
	return SelectGerms(ctx, model, pool, cfg)
}

/*
graspSearch runs Iterations independent randomized-greedy constructions,
each refined by swap local search, across the trial pool. Every restart
derives its own RNG from the base seed and its own score cache, so the
restarts share no mutable state and the best result is chosen by a
deterministic (score, cardinality, gate count, key) comparison no matter
how the trials interleave.
*/
func graspSearch(ctx context.Context, eval subsetScorer, metrics *SearchMetrics, n int, pool []Sequence, opt searchOptions, seed int64, iterations, workers int) ([]bool, Score, error) {
	type restart struct {
		weights []bool
		score   Score
	}

	trials := make([]TrialFn, iterations)
	for t := 0; t < iterations; t++ {
		t := t
		trials[t] = func() (any, error) {
			metrics.recordTrial()
			rng := rand.New(rand.NewSource(seed + int64(t)))
			cache := newScoreCache(eval, metrics)
			weights, _, err := greedyConstruct(ctx, cache, n, opt, rng)
			if err != nil {
				return nil, err
			}
			weights, score, err := swapRefine(ctx, cache, weights, opt)
			if err != nil {
				return nil, err
			}
			return restart{weights: weights, score: score}, nil
		}
	}

	results := NewTrialPool(workers).Run(ctx, trials)

	var best *restart
	var firstErr error
	for _, r := range results {
		if r.Err != nil {
			if firstErr == nil {
				firstErr = r.Err
			}
			continue
		}
		cand := r.Value.(restart)
		if best == nil || betterSelection(pool, cand.weights, cand.score, best.weights, best.score) {
			b := cand
			best = &b
		}
	}
	if best == nil {
		if firstErr != nil {
			return nil, InfScore(0), firstErr
		}
		return nil, InfScore(0), fmt.Errorf("%w: no GRASP restart produced a complete selection", ErrSearchExhausted)
	}
	return best.weights, best.score, nil
}

// betterSelection is the deterministic total order on candidate results:
// score, then cardinality, then total gate count, then weight key.
func betterSelection(pool []Sequence, aw []bool, as Score, bw []bool, bs Score) bool {
	if !as.tiesWith(bs) {
		return as.Value < bs.Value
	}
	an, bn := countWeights(aw), countWeights(bw)
	if an != bn {
		return an < bn
	}
	ag := TotalGateCount(pickWeights(pool, aw))
	bg := TotalGateCount(pickWeights(pool, bw))
	if ag != bg {
		return ag < bg
	}
	return weightsKey(aw) < weightsKey(bw)
}

func pickWeights(pool []Sequence, weights []bool) []Sequence {
	var out []Sequence
	for i, w := range weights {
		if w {
			out = append(out, pool[i])
		}
	}
	return out
}
