package qgerm

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"

	"github.com/theapemachine/errnie"
	"gonum.org/v1/gonum/mat"
)

// PairIndex addresses one (prep fiducial, meas fiducial) combination by
// position in the corresponding fiducial lists.
type PairIndex struct {
	Prep int
	Meas int
}

/*
PairSet is the outcome of fiducial pair reduction: either one global pair
list applied to every germ, or a per-germ mapping (keyed by germ key).
The exact kept pairs are reported, never a count, so downstream
experiment-list assembly is deterministic.
*/
type PairSet struct {
	Global  []PairIndex
	PerGerm map[string][]PairIndex
}

// TotalPairs counts kept pairs across the whole set.
func (p *PairSet) TotalPairs() int {
	if p.Global != nil {
		return len(p.Global)
	}
	n := 0
	for _, pairs := range p.PerGerm {
		n += len(pairs)
	}
	return n
}

// Validate checks index bounds and the minimum-pairs-per-germ floor.
func (p *PairSet) Validate(nPrep, nMeas, minPerGerm int) error {
	if minPerGerm < 1 {
		minPerGerm = 1
	}
	check := func(pairs []PairIndex) error {
		if len(pairs) < minPerGerm {
			return fmt.Errorf("%w: %d pairs kept, minimum is %d", ErrInvalidConfig, len(pairs), minPerGerm)
		}
		for _, pr := range pairs {
			if pr.Prep < 0 || pr.Prep >= nPrep || pr.Meas < 0 || pr.Meas >= nMeas {
				return fmt.Errorf("%w: pair (%d,%d) out of bounds (%d preps, %d meas)", ErrInvalidConfig, pr.Prep, pr.Meas, nPrep, nMeas)
			}
		}
		return nil
	}
	if p.Global != nil {
		return check(p.Global)
	}
	for germ, pairs := range p.PerGerm {
		if err := check(pairs); err != nil {
			return fmt.Errorf("germ %s: %w", germ, err)
		}
	}
	return nil
}

// PairConfig tunes the pair reducers.
type PairConfig struct {
	MinimumPairs int // smallest pair-set size GFPR/PFPR will try
	MaxPairs     int // trial budget cap; 0 means the full cross product
	NRandom      int // random samples tested per size
	MinPerGerm   int // RFPR floor, at least 1
	Repetitions  int
	RankTol      float64
	Seed         int64
	Workers      int
	Verbose      bool
}

// PairOption mutates a PairConfig.
type PairOption func(*PairConfig)

func WithPairSeed(seed int64) PairOption { return func(c *PairConfig) { c.Seed = seed } }

func WithMinimumPairs(n int) PairOption { return func(c *PairConfig) { c.MinimumPairs = n } }

func WithNRandom(n int) PairOption { return func(c *PairConfig) { c.NRandom = n } }

func WithPairWorkers(n int) PairOption { return func(c *PairConfig) { c.Workers = n } }

// NewPairConfig returns the defaults: start at one pair, a hundred
// random samples per size, no budget cap.
func NewPairConfig(opts ...PairOption) *PairConfig {
	cfg := &PairConfig{
		MinimumPairs: 1,
		NRandom:      100,
		MinPerGerm:   1,
		Repetitions:  DefaultRepetitions,
		RankTol:      DefaultRankTol,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *PairConfig) validate(nPairs int) error {
	if c.MinimumPairs < 1 {
		return fmt.Errorf("%w: MinimumPairs must be at least 1", ErrInvalidConfig)
	}
	if c.MinimumPairs > nPairs {
		return fmt.Errorf("%w: MinimumPairs %d exceeds the %d available pairs", ErrInvalidConfig, c.MinimumPairs, nPairs)
	}
	if c.MaxPairs != 0 && c.MaxPairs < c.MinimumPairs {
		return fmt.Errorf("%w: MaxPairs %d is below MinimumPairs %d", ErrInvalidConfig, c.MaxPairs, c.MinimumPairs)
	}
	if c.NRandom < 1 {
		return fmt.Errorf("%w: NRandom must be at least 1", ErrInvalidConfig)
	}
	return nil
}

/*
ReduceGlobal is global fiducial pair reduction (GFPR): find one pair list
that, used for every germ, still amplifies every parameter direction the
full fiducial cross product amplifies. Pair-set sizes are tried from
MinimumPairs upward; at each size NRandom seeded samples are tested in
parallel and the lowest-numbered complete sample wins, which keeps the
result deterministic under any worker interleaving.

When the budget (MaxPairs) is exhausted without a complete sample, the
best sample seen is returned alongside ErrSearchExhausted so the caller
can decide whether a partial reduction is acceptable.
*/
func ReduceGlobal(ctx context.Context, model GateSetModel, prepFids, measFids, germs []Sequence, cfg *PairConfig) (*PairSet, error) {
	red, err := newPairReducer(model, prepFids, measFids, germs, cfg)
	if err != nil {
		return nil, err
	}
	cfg = red.cfg
	errnie.Info("ReduceGlobal - %v germs, %v candidate pairs, seed %v", len(germs), red.nPairs, cfg.Seed)

	allPairs := red.allPairs()
	fullRank, err := red.rankFor(germs, allPairs)
	if err != nil {
		return nil, err
	}
	log.Printf("GFPR: full cross product amplifies %d directions", fullRank)

	// Best sampled set so far; empty until a size has been sampled, so an
	// abort never hands back the unreduced cross product.
	best := []PairIndex{}
	bestRank := -1
	maxSize := red.nPairs
	if cfg.MaxPairs > 0 && cfg.MaxPairs < maxSize {
		maxSize = cfg.MaxPairs
	}

	for size := cfg.MinimumPairs; size <= maxSize; size++ {
		pairs, rank, err := red.sampleSize(ctx, germs, size, fullRank, size)
		if err != nil {
			if ctx.Err() != nil {
				// Best-effort abort: surface the best sampled set so far.
				sortPairs(best)
				return &PairSet{Global: best}, fmt.Errorf("pair search aborted at size %d: %w", size, err)
			}
			return nil, err
		}
		if rank == fullRank {
			sortPairs(pairs)
			log.Printf("GFPR: complete with %d of %d pairs", size, red.nPairs)
			return &PairSet{Global: pairs}, nil
		}
		if rank > bestRank || (rank == bestRank && len(pairs) < len(best)) {
			best, bestRank = pairs, rank
		}
	}
	sortPairs(best)
	return &PairSet{Global: best}, fmt.Errorf("%w: no complete pair set within %d pairs (best rank %d of %d)", ErrSearchExhausted, maxSize, bestRank, fullRank)
}

/*
ReducePerGerm is per-germ fiducial pair reduction (PFPR): the same
randomized size search run independently for each germ, covering only
that germ's amplified directions. Cheaper per test than GFPR, but the
union can keep more pairs since cross-germ redundancy is not exploited.
*/
func ReducePerGerm(ctx context.Context, model GateSetModel, prepFids, measFids, germs []Sequence, cfg *PairConfig) (*PairSet, error) {
	red, err := newPairReducer(model, prepFids, measFids, germs, cfg)
	if err != nil {
		return nil, err
	}
	cfg = red.cfg
	errnie.Info("ReducePerGerm - %v germs, %v candidate pairs, seed %v", len(germs), red.nPairs, cfg.Seed)

	allPairs := red.allPairs()
	out := &PairSet{PerGerm: map[string][]PairIndex{}}
	maxSize := red.nPairs
	if cfg.MaxPairs > 0 && cfg.MaxPairs < maxSize {
		maxSize = cfg.MaxPairs
	}

	for gi, germ := range germs {
		single := []Sequence{germ}
		fullRank, err := red.rankFor(single, allPairs)
		if err != nil {
			return nil, err
		}
		kept := allPairs
		found := false
		for size := cfg.MinimumPairs; size <= maxSize; size++ {
			pairs, rank, err := red.sampleSize(ctx, single, size, fullRank, size+gi*red.nPairs)
			if err != nil {
				return nil, err
			}
			if rank == fullRank {
				kept = pairs
				found = true
				break
			}
		}
		if !found && maxSize < red.nPairs {
			return nil, fmt.Errorf("%w: germ %s has no complete pair set within %d pairs", ErrSearchExhausted, germ, maxSize)
		}
		sortPairs(kept)
		out.PerGerm[germ.Key()] = kept
	}
	return out, nil
}

/*
ReduceRandom is random fiducial pair reduction (RFPR): keep a uniform,
seed-reproducible fraction of each germ's pairs with no completeness
verification at all. Documented as unsafe below a model-dependent
critical fraction (roughly amplified-parameter-count over total pairs),
but fast, and the exact kept set is reproducible from the seed.
*/
func ReduceRandom(germs []Sequence, nPrep, nMeas int, keepFraction float64, seed int64, minPerGerm int) (*PairSet, error) {
	if len(germs) == 0 || nPrep < 1 || nMeas < 1 {
		return nil, fmt.Errorf("%w: germs and fiducial counts are required", ErrInvalidConfig)
	}
	if keepFraction <= 0 || keepFraction > 1 {
		return nil, fmt.Errorf("%w: keepFraction %g must be in (0, 1]", ErrInvalidConfig, keepFraction)
	}
	if minPerGerm < 1 {
		minPerGerm = 1
	}
	nPairs := nPrep * nMeas
	keep := int(math.Round(keepFraction * float64(nPairs)))
	if keep < minPerGerm {
		keep = minPerGerm
	}

	out := &PairSet{PerGerm: map[string][]PairIndex{}}
	for gi, germ := range germs {
		rng := rand.New(rand.NewSource(seed + int64(gi)))
		perm := rng.Perm(nPairs)[:keep]
		pairs := make([]PairIndex, keep)
		for i, flat := range perm {
			pairs[i] = PairIndex{Prep: flat / nMeas, Meas: flat % nMeas}
		}
		sortPairs(pairs)
		out.PerGerm[germ.Key()] = pairs
	}
	return out, nil
}

// pairReducer owns the immutable working state shared by GFPR and PFPR:
// the propagated SPAM vectors of every fiducial and the germ Jacobians,
// computed once per reduction run.
type pairReducer struct {
	model    GateSetModel
	cfg      *PairConfig
	prepCols []*mat.Dense // d x kp per prep fiducial
	measCols []*mat.Dense // d x ke per meas fiducial
	jacobian map[string]*mat.Dense
	nPrep    int
	nMeas    int
	nPairs   int
}

func newPairReducer(model GateSetModel, prepFids, measFids, germs []Sequence, cfg *PairConfig) (*pairReducer, error) {
	if cfg == nil {
		cfg = NewPairConfig()
	}
	if model == nil || len(prepFids) == 0 || len(measFids) == 0 || len(germs) == 0 {
		return nil, fmt.Errorf("%w: model, fiducials and germs are required", ErrInvalidConfig)
	}
	if err := cfg.validate(len(prepFids) * len(measFids)); err != nil {
		return nil, err
	}
	red := &pairReducer{
		model:    model,
		cfg:      cfg,
		jacobian: map[string]*mat.Dense{},
		nPrep:    len(prepFids),
		nMeas:    len(measFids),
		nPairs:   len(prepFids) * len(measFids),
	}
	var err error
	if red.prepCols, err = fiducialColumns(model, prepFids, Prep); err != nil {
		return nil, err
	}
	if red.measCols, err = fiducialColumns(model, measFids, Meas); err != nil {
		return nil, err
	}
	for _, germ := range germs {
		jac, err := model.Derivative(germ, cfg.Repetitions)
		if err != nil {
			return nil, fmt.Errorf("derivative of germ %s: %w", germ, err)
		}
		red.jacobian[germ.Key()] = jac
	}
	return red, nil
}

func (red *pairReducer) allPairs() []PairIndex {
	pairs := make([]PairIndex, 0, red.nPairs)
	for i := 0; i < red.nPrep; i++ {
		for j := 0; j < red.nMeas; j++ {
			pairs = append(pairs, PairIndex{Prep: i, Meas: j})
		}
	}
	return pairs
}

/*
rankFor builds the probability-sensitivity matrix of the kept pairs: for
germ power G and pair (i, j), each (prep column r, effect column e)
combination contributes the row kron(e, r)^T * J_G, the derivative of the
measured probability with respect to the model parameters. The rank of
the stacked rows is how many parameter directions the kept pairs still
sense.
*/
func (red *pairReducer) rankFor(germs []Sequence, pairs []PairIndex) (int, error) {
	d := red.model.Dimension()
	p := red.model.ParameterCount()
	_, kp := red.prepCols[0].Dims()
	_, ke := red.measCols[0].Dims()
	rowsPerGerm := len(pairs) * kp * ke

	rows := mat.NewDense(rowsPerGerm*len(germs), p, nil)
	v := make([]float64, d*d)
	row := 0
	for _, germ := range germs {
		jac := red.jacobian[germ.Key()]
		if jac == nil {
			return 0, fmt.Errorf("%w: germ %s was not part of this reduction", ErrInvalidConfig, germ)
		}
		for _, pr := range pairs {
			for a := 0; a < kp; a++ {
				for b := 0; b < ke; b++ {
					for r := 0; r < d; r++ {
						for c := 0; c < d; c++ {
							v[r*d+c] = red.measCols[pr.Meas].At(r, b) * red.prepCols[pr.Prep].At(c, a)
						}
					}
					for col := 0; col < p; col++ {
						s := 0.0
						for k := 0; k < d*d; k++ {
							s += v[k] * jac.At(k, col)
						}
						rows.Set(row, col, s)
					}
					row++
				}
			}
		}
	}

	var svd mat.SVD
	if !svd.Factorize(rows, mat.SVDNone) {
		return 0, fmt.Errorf("%w: SVD of pair sensitivity matrix did not converge", ErrDegenerate)
	}
	rank, ambiguous := rankOf(svd.Values(nil), red.cfg.RankTol)
	if ambiguous {
		return 0, fmt.Errorf("%w: pair sensitivity spectrum straddles the rank cutoff", ErrDegenerate)
	}
	return rank, nil
}

/*
sampleSize tests NRandom seeded random pair subsets of the given size in
parallel and returns the lowest-numbered one reaching targetRank, or the
best-ranked sample otherwise. Every trial derives its RNG from the
configured seed and its own (sizeTag, trial) coordinates, so repeated
runs sample identical subsets.
*/
func (red *pairReducer) sampleSize(ctx context.Context, germs []Sequence, size, targetRank, sizeTag int) ([]PairIndex, int, error) {
	type sample struct {
		pairs []PairIndex
		rank  int
	}

	trials := make([]TrialFn, red.cfg.NRandom)
	for t := 0; t < red.cfg.NRandom; t++ {
		t := t
		trials[t] = func() (any, error) {
			rng := rand.New(rand.NewSource(red.cfg.Seed + int64(sizeTag)*1_000_003 + int64(t)))
			perm := rng.Perm(red.nPairs)[:size]
			pairs := make([]PairIndex, size)
			for i, flat := range perm {
				pairs[i] = PairIndex{Prep: flat / red.nMeas, Meas: flat % red.nMeas}
			}
			rank, err := red.rankFor(germs, pairs)
			if err != nil {
				return nil, err
			}
			return sample{pairs: pairs, rank: rank}, nil
		}
	}

	results := NewTrialPool(red.cfg.Workers).Run(ctx, trials)

	var best sample
	for _, r := range results {
		if r.Err != nil {
			return nil, 0, r.Err
		}
		s := r.Value.(sample)
		if s.rank == targetRank {
			return s.pairs, s.rank, nil
		}
		if s.rank > best.rank {
			best = s
		}
	}
	return best.pairs, best.rank, nil
}

func sortPairs(pairs []PairIndex) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Prep != pairs[j].Prep {
			return pairs[i].Prep < pairs[j].Prep
		}
		return pairs[i].Meas < pairs[j].Meas
	})
}
