package qgerm

// Numerical and search-wide defaults shared by the engines.
const (
	// DefaultRankTol is the relative singular-value tolerance for rank
	// determination: sigma counts toward the rank when
	// sigma > DefaultRankTol * sigma_max.
	DefaultRankTol = 1e-6

	// DefaultThreshold auto-fails a fiducial set whose score exceeds it,
	// even when the spectrum is technically nonzero.
	DefaultThreshold = 1e6

	// DefaultRepetitions is the germ power used when building
	// amplification matrices.
	DefaultRepetitions = 16

	// DefaultIterations bounds the toggle loop of the slack search and
	// the restart count of GRASP.
	DefaultIterations = 100

	// FixedNumWarnThreshold is the enumeration size above which
	// exact-cardinality fiducial search logs a warning before starting,
	// since the caller has asked for something combinatorially expensive.
	FixedNumWarnThreshold = 1 << 20

	// scoreTieTol is the window within which two scores are treated as
	// equal and the cardinality / gate-count tie-breaks apply.
	scoreTieTol = 1e-8
)
