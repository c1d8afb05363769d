package qgerm

import "gonum.org/v1/gonum/mat"

// Role distinguishes preparation fiducials (prefixes) from measurement
// fiducials (suffixes).
type Role string

const (
	Prep Role = "prep"
	Meas Role = "meas"
)

func (r Role) valid() bool { return r == Prep || r == Meas }

/*
GateSetModel is the narrow capability the selection engines need from a
gate-set implementation. The engines never see gate matrices or SPAM
vectors directly; they consume only derivative sensitivities evaluated at
the target parameter point. Implementations must be safe for concurrent
reads and immutable for the duration of a search.
*/
type GateSetModel interface {
	// ParameterCount is the number of free parameters P of the model.
	ParameterCount() int

	// Dimension is the superoperator dimension d (so a derivative matrix
	// has d*d rows).
	Dimension() int

	// GateLabels lists the gate labels sequences may be built from, in a
	// deterministic order.
	GateLabels() []string

	// Derivative returns the Jacobian of the superoperator of seq applied
	// reps times with respect to the model parameters, shape (d*d, P).
	Derivative(seq Sequence, reps int) (*mat.Dense, error)

	// FiducialColumns returns, for a prep fiducial, the target state
	// preparations propagated through seq (one column per preparation);
	// for a meas fiducial, the POVM effects pulled back through seq (one
	// column per effect). Shape (d, k).
	FiducialColumns(seq Sequence, role Role) (*mat.Dense, error)
}
