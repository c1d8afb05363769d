package qgerm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

/*
stubModel is a test double with exactly controllable sensitivity: each
parameter p is either sensed or not sensed by a sequence, as decided by
the cover rule, and a sensed parameter contributes the unit row e_p to
the derivative. The rank of any stacked germ matrix is therefore the
size of the union of the covered parameter sets, with no numerical
surprises.
*/
type stubModel struct {
	labels []string
	params int // must be <= dim*dim so rows do not collide
	dim    int
	cover  func(seq Sequence) []int
}

func (m *stubModel) ParameterCount() int { return m.params }
func (m *stubModel) Dimension() int      { return m.dim }

func (m *stubModel) GateLabels() []string { return m.labels }

func (m *stubModel) Derivative(seq Sequence, reps int) (*mat.Dense, error) {
	d2 := m.dim * m.dim
	jac := mat.NewDense(d2, m.params, nil)
	for _, p := range m.cover(seq) {
		if p >= 0 && p < m.params {
			jac.Set(p, p, 1)
		}
	}
	return jac, nil
}

func (m *stubModel) FiducialColumns(seq Sequence, role Role) (*mat.Dense, error) {
	return nil, fmt.Errorf("stubModel has no SPAM structure")
}

func labelCount(seq Sequence, label string) int {
	n := 0
	for i := 0; i < seq.Len(); i++ {
		if seq.At(i) == label {
			n++
		}
	}
	return n
}

/*
newPatternModel is the standard stub for germ tests: labels Gi, Gx, Gy
with four parameters. Parameters 0..2 are sensed by any sequence
containing the matching label; parameter 3 only by sequences containing
both Gx and Gy, so completeness needs at least one length-2 (or longer)
mixed germ on top of the singletons.
*/
func newPatternModel() *stubModel {
	return &stubModel{
		labels: []string{"Gi", "Gx", "Gy"},
		params: 4,
		dim:    4,
		cover: func(seq Sequence) []int {
			var c []int
			if labelCount(seq, "Gi") > 0 {
				c = append(c, 0)
			}
			if labelCount(seq, "Gx") > 0 {
				c = append(c, 1)
			}
			if labelCount(seq, "Gy") > 0 {
				c = append(c, 2)
			}
			if labelCount(seq, "Gx") > 0 && labelCount(seq, "Gy") > 0 {
				c = append(c, 3)
			}
			return c
		},
	}
}

/*
newDeepModel needs depth: parameter 4 is sensed only by sequences with at
least two Gx and two Gy, so any pool capped below length 4 is incomplete.
*/
func newDeepModel() *stubModel {
	m := newPatternModel()
	m.params = 5
	inner := m.cover
	m.cover = func(seq Sequence) []int {
		c := inner(seq)
		if labelCount(seq, "Gx") >= 2 && labelCount(seq, "Gy") >= 2 {
			c = append(c, 4)
		}
		return c
	}
	return m
}
