package qgerm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

/*
ExplicitModel is the reference GateSetModel: it owns dense superoperator
matrices for each gate label plus state-preparation and POVM-effect
vectors, all expressed in the same (e.g. Pauli-product) basis, evaluated
at the target point. Every matrix entry of every gate is treated as a
free parameter, so ParameterCount is nGates * d * d.

It exists so the engines have something concrete to run against; any
richer parameterization (TP, CPTP, ...) lives outside this module and
plugs in through the GateSetModel interface instead.
*/
type ExplicitModel struct {
	labels  []string
	gates   map[string]*mat.Dense
	preps   []*mat.VecDense
	effects []*mat.VecDense
	dim     int
}

// NewExplicitModel builds a model from per-label superoperators and SPAM
// vectors. All matrices must be square with a common dimension, which the
// SPAM vectors must share.
func NewExplicitModel(labels []string, gates map[string]*mat.Dense, preps, effects []*mat.VecDense) (*ExplicitModel, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no gate labels", ErrInvalidConfig)
	}
	dim := 0
	for _, l := range labels {
		g, ok := gates[l]
		if !ok {
			return nil, fmt.Errorf("%w: missing gate matrix for label %q", ErrInvalidConfig, l)
		}
		r, c := g.Dims()
		if r != c {
			return nil, fmt.Errorf("%w: gate %q is %dx%d, not square", ErrInvalidConfig, l, r, c)
		}
		if dim == 0 {
			dim = r
		} else if r != dim {
			return nil, fmt.Errorf("%w: gate %q dimension %d != %d", ErrInvalidConfig, l, r, dim)
		}
	}
	if len(preps) == 0 || len(effects) == 0 {
		return nil, fmt.Errorf("%w: need at least one prep and one effect", ErrInvalidConfig)
	}
	for _, v := range append(append([]*mat.VecDense{}, preps...), effects...) {
		if v.Len() != dim {
			return nil, fmt.Errorf("%w: SPAM vector length %d != %d", ErrInvalidConfig, v.Len(), dim)
		}
	}
	cp := make([]string, len(labels))
	copy(cp, labels)
	return &ExplicitModel{labels: cp, gates: gates, preps: preps, effects: effects, dim: dim}, nil
}

func (m *ExplicitModel) ParameterCount() int { return len(m.labels) * m.dim * m.dim }
func (m *ExplicitModel) Dimension() int      { return m.dim }

func (m *ExplicitModel) GateLabels() []string {
	cp := make([]string, len(m.labels))
	copy(cp, m.labels)
	return cp
}

// Product composes the superoperators of seq, first label applied first.
func (m *ExplicitModel) Product(seq Sequence) (*mat.Dense, error) {
	p := identity(m.dim)
	for i := 0; i < seq.Len(); i++ {
		g, ok := m.gates[seq.At(i)]
		if !ok {
			return nil, fmt.Errorf("unknown gate label %q in sequence %s", seq.At(i), seq)
		}
		next := mat.NewDense(m.dim, m.dim, nil)
		next.Mul(g, p)
		p = next
	}
	return p, nil
}

/*
Derivative applies the product rule over the fully expanded sequence
seq^reps. For an occurrence of gate G at position i, with L the product
of everything applied after it and R the product of everything applied
before it, the contribution to the Jacobian block of G is kron(L, R^T)
under row-major vectorization. Blocks for the same label accumulate over
occurrences. Shape (d*d, nGates*d*d).
*/
func (m *ExplicitModel) Derivative(seq Sequence, reps int) (*mat.Dense, error) {
	if reps < 1 {
		reps = 1
	}
	full := seq.Repeat(reps)
	n := full.Len()
	d := m.dim

	blockOf := map[string]int{}
	for i, l := range m.labels {
		blockOf[l] = i
	}

	// pre[i]: product of gates before position i; suf[i]: after it.
	pre := make([]*mat.Dense, n+1)
	pre[0] = identity(d)
	for i := 0; i < n; i++ {
		g, ok := m.gates[full.At(i)]
		if !ok {
			return nil, fmt.Errorf("unknown gate label %q in sequence %s", full.At(i), seq)
		}
		pre[i+1] = mat.NewDense(d, d, nil)
		pre[i+1].Mul(g, pre[i])
	}
	suf := make([]*mat.Dense, n+1)
	suf[n] = identity(d)
	for i := n - 1; i >= 0; i-- {
		g := m.gates[full.At(i)]
		suf[i] = mat.NewDense(d, d, nil)
		suf[i].Mul(suf[i+1], g)
	}

	jac := mat.NewDense(d*d, len(m.labels)*d*d, nil)
	var block mat.Dense
	for i := 0; i < n; i++ {
		block.Reset()
		block.Kronecker(suf[i+1], pre[i].T())
		b, ok := blockOf[full.At(i)]
		if !ok {
			return nil, fmt.Errorf("gate label %q not in model", full.At(i))
		}
		target := jac.Slice(0, d*d, b*d*d, (b+1)*d*d).(*mat.Dense)
		target.Add(target, &block)
	}
	return jac, nil
}

// FiducialColumns propagates each preparation through seq (prep role) or
// pulls each effect back through seq (meas role), one column per SPAM op.
func (m *ExplicitModel) FiducialColumns(seq Sequence, role Role) (*mat.Dense, error) {
	if !role.valid() {
		return nil, fmt.Errorf("%w: role %q", ErrInvalidConfig, role)
	}
	p, err := m.Product(seq)
	if err != nil {
		return nil, err
	}
	var vecs []*mat.VecDense
	var op mat.Matrix = p
	if role == Prep {
		vecs = m.preps
	} else {
		vecs = m.effects
		op = p.T()
	}
	out := mat.NewDense(m.dim, len(vecs), nil)
	col := mat.NewVecDense(m.dim, nil)
	for j, v := range vecs {
		col.MulVec(op, v)
		for i := 0; i < m.dim; i++ {
			out.Set(i, j, col.AtVec(i))
		}
	}
	return out, nil
}

/*
NewSingleQubitModel is the canonical Gi/Gx/Gy single-qubit target: the
identity plus pi/2 rotations about X and Y, as superoperators in the
normalized Pauli basis (I, X, Y, Z), with the |0> preparation and the
|0| and |1| projector effects.
*/
func NewSingleQubitModel() *ExplicitModel {
	gi := identity(4)
	gx := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 0, -1,
		0, 0, 1, 0,
	})
	gy := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 0, 0, 1,
		0, 0, 1, 0,
		0, -1, 0, 0,
	})
	isq := 1 / math.Sqrt2
	rho0 := mat.NewVecDense(4, []float64{isq, 0, 0, isq})
	e0 := mat.NewVecDense(4, []float64{isq, 0, 0, isq})
	e1 := mat.NewVecDense(4, []float64{isq, 0, 0, -isq})

	m, err := NewExplicitModel(
		[]string{"Gi", "Gx", "Gy"},
		map[string]*mat.Dense{"Gi": gi, "Gx": gx, "Gy": gy},
		[]*mat.VecDense{rho0},
		[]*mat.VecDense{e0, e1},
	)
	if err != nil {
		panic(err) // static construction, cannot fail
	}
	return m
}

func identity(d int) *mat.Dense {
	m := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		m.Set(i, i, 1)
	}
	return m
}
