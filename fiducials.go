package qgerm

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/theapemachine/errnie"
	"gonum.org/v1/gonum/mat"
)

// FidConfig tunes SelectFiducials. Exactly one of SlackFrac / FixedSlack
// must be set when the slack algorithm runs.
type FidConfig struct {
	Algorithm     Algorithm
	ScoreFunc     ScoreFunc
	ForceEmpty    bool     // always include the zero-length fiducial
	OmitIdentity  bool     // drop identity-only sequences from the pool
	IdentityLabel string   // which label is the identity, default "Gi"
	GatesToOmit   []string // drop sequences containing any of these labels
	MaxFidLength  int      // pool bound used by GenerateFiducials
	FixedNum      int      // >0: exact-cardinality enumeration mode
	Threshold     float64  // auto-fail score bound
	RankTol       float64
	Seed          int64
	Iterations    int
	SlackFrac     float64
	FixedSlack    float64
	Workers       int
	Verbose       bool
}

// FidOption mutates a FidConfig.
type FidOption func(*FidConfig)

func WithFidAlgorithm(a Algorithm) FidOption { return func(c *FidConfig) { c.Algorithm = a } }

func WithFidScoreFunc(f ScoreFunc) FidOption { return func(c *FidConfig) { c.ScoreFunc = f } }

func WithFidSeed(seed int64) FidOption { return func(c *FidConfig) { c.Seed = seed } }

func WithFixedNum(n int) FidOption { return func(c *FidConfig) { c.FixedNum = n } }

func WithGatesToOmit(labels ...string) FidOption {
	return func(c *FidConfig) { c.GatesToOmit = labels }
}

// NewFidConfig returns the defaults: slack search with slackFrac 1.0,
// forced empty fiducial, identity-only candidates omitted.
func NewFidConfig(opts ...FidOption) *FidConfig {
	cfg := &FidConfig{
		Algorithm:     AlgSlack,
		ScoreFunc:     ScoreAll,
		ForceEmpty:    true,
		OmitIdentity:  true,
		IdentityLabel: "Gi",
		MaxFidLength:  2,
		Threshold:     DefaultThreshold,
		RankTol:       DefaultRankTol,
		Iterations:    DefaultIterations,
		SlackFrac:     1.0,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *FidConfig) validate() error {
	if !c.Algorithm.valid() {
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, c.Algorithm)
	}
	if !c.ScoreFunc.valid() {
		return fmt.Errorf("%w: unknown score function %q", ErrInvalidConfig, c.ScoreFunc)
	}
	if c.FixedNum < 0 {
		return fmt.Errorf("%w: FixedNum must be non-negative", ErrInvalidConfig)
	}
	if c.FixedNum == 0 && c.Algorithm == AlgSlack && (c.SlackFrac > 0) == (c.FixedSlack > 0) {
		return fmt.Errorf("%w: exactly one of SlackFrac or FixedSlack must be set", ErrInvalidConfig)
	}
	if c.Iterations <= 0 {
		return fmt.Errorf("%w: Iterations must be positive", ErrInvalidConfig)
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("%w: Threshold must be positive", ErrInvalidConfig)
	}
	return nil
}

// filterPool applies GatesToOmit and OmitIdentity, then guarantees the
// empty fiducial is present (and first) when ForceEmpty is set.
func (c *FidConfig) filterPool(pool []Sequence) []Sequence {
	omit := map[string]bool{}
	for _, l := range c.GatesToOmit {
		omit[l] = true
	}
	var out []Sequence
	hasEmpty := false
	for _, s := range pool {
		if s.Len() == 0 {
			hasEmpty = true
			out = append(out, s)
			continue
		}
		if s.ContainsAny(omit) {
			continue
		}
		if c.OmitIdentity && identityOnly(s, c.IdentityLabel) {
			continue
		}
		out = append(out, s)
	}
	if c.ForceEmpty && !hasEmpty {
		out = append([]Sequence{EmptySequence}, out...)
	}
	SortSequences(out)
	return out
}

func identityOnly(s Sequence, identity string) bool {
	for i := 0; i < s.Len(); i++ {
		if s.At(i) != identity {
			return false
		}
	}
	return true
}

/*
SelectFiducials searches the candidate pool for a minimal preparation or
measurement fiducial set that is informationally complete: the composite
matrix whose columns are every selected fiducial's SPAM columns must
have full rank over the model dimension, with a spectrum good enough to
stay below the configured threshold.

With FixedNum > 0 the search enumerates exactly-FixedNum subsets
instead, warning first when the enumeration is combinatorially large; it
honors context cancellation at subset boundaries and surfaces the best
found so far only when complete, ErrSearchExhausted otherwise.
*/
func SelectFiducials(ctx context.Context, model GateSetModel, pool []Sequence, role Role, cfg *FidConfig) (*Selection, error) {
	if cfg == nil {
		cfg = NewFidConfig()
	}
	if model == nil || len(pool) == 0 {
		return nil, fmt.Errorf("%w: model and a non-empty pool are required", ErrInvalidConfig)
	}
	if !role.valid() {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidConfig, role)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	pool = cfg.filterPool(pool)
	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: pool is empty after filtering", ErrInvalidConfig)
	}
	errnie.Info("SelectFiducials - role %v, pool %v candidates, algorithm %v", role, len(pool), cfg.Algorithm)

	cols, err := fiducialColumns(model, pool, role)
	if err != nil {
		return nil, err
	}
	d := model.Dimension()
	_, k := cols[0].Dims()
	floor := (d + k - 1) / k // need at least ceil(d/k) fiducials for rank d

	metrics := newSearchMetrics()
	eval := fiducialScorer(cols, d, cfg)
	cache := newScoreCache(eval, metrics)

	full := make([]bool, len(pool))
	for i := range full {
		full[i] = true
	}
	init := cache.get(full)
	if init.err != nil {
		return nil, init.err
	}
	if init.rank < d || init.score.IsFailure() || init.score.Value > cfg.Threshold {
		return nil, fmt.Errorf("%w: full %s fiducial pool scores %s against threshold %g", ErrIncompletePool, role, init.score, cfg.Threshold)
	}
	log.Printf("%s fiducial selection: full pool complete, searching %d candidates", role, len(pool))

	forced := make([]bool, len(pool))
	if cfg.ForceEmpty {
		for i, s := range pool {
			forced[i] = s.Len() == 0
		}
	}
	opt := searchOptions{
		forced:     forced,
		minSize:    floor,
		maxIter:    cfg.Iterations,
		fixedSlack: cfg.FixedSlack,
		slackFrac:  cfg.SlackFrac,
		targetRank: d,
		verbose:    cfg.Verbose,
	}

	var weights []bool
	var score Score
	switch {
	case cfg.FixedNum > 0:
		weights, score, err = fixedNumSearch(ctx, cache, pool, opt, cfg.FixedNum)
	case cfg.Algorithm == AlgGreedy:
		weights, score, err = greedyConstruct(ctx, cache, len(pool), opt, nil)
	case cfg.Algorithm == AlgGRASP:
		weights, score, err = graspSearch(ctx, eval, metrics, len(pool), pool, opt, cfg.Seed, cfg.Iterations, cfg.Workers)
	default:
		weights, score, err = slackSearch(ctx, cache, len(pool), opt)
	}
	if err != nil {
		// An aborted exact-cardinality enumeration still hands back the
		// best complete subset found before cancellation.
		if cfg.FixedNum > 0 && weights != nil && ctx.Err() != nil {
			metrics.recordImprovement(score)
			selected := pickWeights(pool, weights)
			return &Selection{Sequences: selected, Score: score, Metrics: metrics}, fmt.Errorf("%s fiducial search aborted: %w", role, err)
		}
		return nil, err
	}

	final := cache.get(weights)
	if final.err != nil {
		return nil, final.err
	}
	if final.rank < d || final.score.IsFailure() {
		return nil, fmt.Errorf("%w: converged %s fiducial set reaches rank %d of %d", ErrSearchExhausted, role, final.rank, d)
	}
	if final.score.Value > cfg.Threshold {
		log.Printf("warning: final %s fiducial set scores %s above threshold %g", role, final.score, cfg.Threshold)
	}
	metrics.recordImprovement(score)
	selected := pickWeights(pool, weights)
	log.Printf("%s fiducial selection done: %d fiducials, %s", role, len(selected), score)
	return &Selection{Sequences: selected, Score: score, Metrics: metrics}, nil
}

/*
GenerateFiducials builds the candidate pool from the model's own gate
labels (lengths 0 through MaxFidLength) and selects both the preparation
and the measurement fiducial sets with the same configuration. Both
searches must succeed; a failure of either is the failure of the whole
call, never a half-result.
*/
func GenerateFiducials(ctx context.Context, model GateSetModel, cfg *FidConfig) (prep, meas *Selection, err error) {
	if cfg == nil {
		cfg = NewFidConfig()
	}
	if model == nil {
		return nil, nil, fmt.Errorf("%w: model is required", ErrInvalidConfig)
	}
	pool := AllSequences(model.GateLabels(), 0, cfg.MaxFidLength)
	if prep, err = SelectFiducials(ctx, model, pool, Prep, cfg); err != nil {
		return nil, nil, fmt.Errorf("prep fiducials: %w", err)
	}
	if meas, err = SelectFiducials(ctx, model, pool, Meas, cfg); err != nil {
		return nil, nil, fmt.Errorf("meas fiducials: %w", err)
	}
	return prep, meas, nil
}

/*
TestFiducialList checks an externally supplied fiducial list for
informational completeness without running a search: it returns the
squared singular spectrum of the composite matrix and the reduced score,
with ok true only when the spectrum is full rank and the score is at or
below the threshold.
*/
func TestFiducialList(model GateSetModel, fids []Sequence, role Role, f ScoreFunc, threshold float64) (ok bool, spectrum []float64, score Score, err error) {
	if model == nil || len(fids) == 0 {
		return false, nil, InfScore(0), fmt.Errorf("%w: model and a non-empty fiducial list are required", ErrInvalidConfig)
	}
	if !role.valid() {
		return false, nil, InfScore(len(fids)), fmt.Errorf("%w: role %q", ErrInvalidConfig, role)
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	cols, err := fiducialColumns(model, fids, role)
	if err != nil {
		return false, nil, InfScore(len(fids)), err
	}
	cfg := &FidConfig{ScoreFunc: f, RankTol: DefaultRankTol}
	all := make([]bool, len(fids))
	for i := range all {
		all[i] = true
	}
	res := fiducialScorer(cols, model.Dimension(), cfg)(all)
	if res.err != nil {
		return false, nil, InfScore(len(fids)), res.err
	}
	ok = res.rank == model.Dimension() && !res.score.IsFailure() && res.score.Value <= threshold
	return ok, res.spectrum, res.score, nil
}

func fiducialColumns(model GateSetModel, pool []Sequence, role Role) ([]*mat.Dense, error) {
	cols := make([]*mat.Dense, len(pool))
	d := model.Dimension()
	for i, s := range pool {
		m, err := model.FiducialColumns(s, role)
		if err != nil {
			return nil, fmt.Errorf("fiducial columns of %s: %w", s, err)
		}
		r, _ := m.Dims()
		if r != d {
			return nil, fmt.Errorf("fiducial columns of %s have %d rows, want %d", s, r, d)
		}
		cols[i] = m
	}
	return cols, nil
}

// fiducialScorer evaluates a fiducial subset: gather the selected
// fiducials' SPAM columns into one composite matrix and reduce its
// squared singular spectrum over the model dimension.
func fiducialScorer(cols []*mat.Dense, d int, cfg *FidConfig) func(weights []bool) evalResult {
	return func(weights []bool) evalResult {
		nSel := countWeights(weights)
		if nSel == 0 {
			return evalResult{score: InfScore(0), rank: 0, spectrum: make([]float64, d)}
		}
		_, k := cols[0].Dims()
		composite := mat.NewDense(d, nSel*k, nil)
		col := 0
		for i, w := range weights {
			if !w {
				continue
			}
			composite.Slice(0, d, col, col+k).(*mat.Dense).Copy(cols[i])
			col += k
		}
		var svd mat.SVD
		if !svd.Factorize(composite, mat.SVDNone) {
			return evalResult{err: fmt.Errorf("%w: SVD of fiducial composite did not converge", ErrDegenerate)}
		}
		values := svd.Values(nil)
		rank, ambiguous := rankOf(values, cfg.RankTol)
		if ambiguous {
			return evalResult{err: fmt.Errorf("%w: fiducial spectrum straddles the rank cutoff", ErrDegenerate)}
		}
		spectrum := make([]float64, d)
		for i, v := range values {
			if i >= d {
				break
			}
			spectrum[i] = v * v
		}
		cut := 0.0
		if len(values) > 0 {
			cut = cfg.RankTol * values[0] * cfg.RankTol * values[0]
		}
		return evalResult{
			score:    spectrumScore(spectrum, cfg.ScoreFunc, nSel, cut),
			rank:     rank,
			spectrum: spectrum,
		}
	}
}

/*
fixedNumSearch enumerates every subset of exactly fixedNum candidates
(forced members always included) and keeps the best by score, breaking
machine-precision score ties toward the subset with the fewest total gate
operations. The enumeration honors context cancellation at subset
boundaries and logs a warning up front when the subset count is large,
since the caller has asked for something exponentially expensive.
*/
func fixedNumSearch(ctx context.Context, cache *scoreCache, pool []Sequence, opt searchOptions, fixedNum int) ([]bool, Score, error) {
	n := len(pool)
	if fixedNum > n {
		return nil, InfScore(0), fmt.Errorf("%w: FixedNum %d exceeds pool size %d", ErrInvalidConfig, fixedNum, n)
	}
	if fixedNum < opt.minSize {
		return nil, InfScore(0), fmt.Errorf("%w: FixedNum %d is below the completeness floor %d", ErrSearchExhausted, fixedNum, opt.minSize)
	}

	var free []int // candidate indices not pinned by forced
	forcedCount := 0
	for i := 0; i < n; i++ {
		if opt.forced[i] {
			forcedCount++
		} else {
			free = append(free, i)
		}
	}
	choose := fixedNum - forcedCount
	if choose < 0 {
		return nil, InfScore(0), fmt.Errorf("%w: FixedNum %d is below the %d forced members", ErrInvalidConfig, fixedNum, forcedCount)
	}
	total := binomial(len(free), choose)
	log.Printf("fixed-cardinality fiducial search: %d subsets of size %d", total, fixedNum)
	if total > FixedNumWarnThreshold {
		log.Printf("warning: enumerating %d fiducial subsets; this may take a long time", total)
	}

	var bestWeights []bool
	bestScore := InfScore(0)
	combo := make([]int, choose)
	for i := range combo {
		combo[i] = i
	}
	for {
		if err := ctx.Err(); err != nil {
			return bestWeights, bestScore, err
		}
		weights := cloneWeights(opt.forced)
		for _, c := range combo {
			weights[free[c]] = true
		}
		res := cache.get(weights)
		if res.err != nil {
			return bestWeights, bestScore, res.err
		}
		if !res.score.IsFailure() {
			if bestWeights == nil || betterSelection(pool, weights, res.score, bestWeights, bestScore) {
				bestWeights, bestScore = weights, res.score
			}
		}
		if !nextCombination(combo, len(free)) {
			break
		}
	}
	if bestWeights == nil {
		return nil, InfScore(fixedNum), fmt.Errorf("%w: no complete subset of size %d exists in the pool", ErrSearchExhausted, fixedNum)
	}
	return bestWeights, bestScore, nil
}

// nextCombination advances combo to the next k-combination of [0, n) in
// lexicographic order, returning false after the last one.
func nextCombination(combo []int, n int) bool {
	k := len(combo)
	if k == 0 {
		return false
	}
	i := k - 1
	for i >= 0 && combo[i] == n-k+i {
		i--
	}
	if i < 0 {
		return false
	}
	combo[i]++
	for j := i + 1; j < k; j++ {
		combo[j] = combo[j-1] + 1
	}
	return true
}

func binomial(n, k int) int {
	if k < 0 || k > n {
		return 0
	}
	if k > n-k {
		k = n - k
	}
	res := 1.0
	for i := 1; i <= k; i++ {
		res = res * float64(n-k+i) / float64(i)
	}
	return int(math.Round(res))
}
