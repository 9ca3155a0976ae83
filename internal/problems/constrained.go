package problems

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/trajopt/internal/oc"
)

// AffineStateInputConstraint enforces the equality
//
//	e(x, u) = e0 + Cm·x + Dm·u = 0
//
// at every intermediate time. Other constraint families stay empty.
type AffineStateInputConstraint struct {
	E0 []float64
	Cm *mat.Dense
	Dm *mat.Dense
}

func (c *AffineStateInputConstraint) NumStateInputEq(float64) int { return len(c.E0) }

func (c *AffineStateInputConstraint) StateInputEq(_ float64, x oc.State, u oc.Input) ([]float64, *mat.Dense, *mat.Dense) {
	nc := len(c.E0)
	ev := make([]float64, nc)
	for i := 0; i < nc; i++ {
		ev[i] = c.E0[i]
		for j := range x {
			ev[i] += c.Cm.At(i, j) * x[j]
		}
		for j := range u {
			ev[i] += c.Dm.At(i, j) * u[j]
		}
	}
	return ev, mat.DenseCopyOf(c.Cm), mat.DenseCopyOf(c.Dm)
}

func (c *AffineStateInputConstraint) NumStateEq(float64) int { return 0 }
func (c *AffineStateInputConstraint) StateEq(float64, oc.State) ([]float64, *mat.Dense) {
	return nil, nil
}
func (c *AffineStateInputConstraint) NumIneq(float64) int { return 0 }
func (c *AffineStateInputConstraint) Ineq(float64, oc.State, oc.Input) ([]float64, *mat.Dense, *mat.Dense) {
	return nil, nil, nil
}
func (c *AffineStateInputConstraint) NumFinalStateEq(float64) int { return 0 }
func (c *AffineStateInputConstraint) FinalStateEq(float64, oc.State) ([]float64, *mat.Dense) {
	return nil, nil
}

func (c *AffineStateInputConstraint) Clone() oc.Constraints {
	return &AffineStateInputConstraint{
		E0: append([]float64(nil), c.E0...),
		Cm: mat.DenseCopyOf(c.Cm),
		Dm: mat.DenseCopyOf(c.Dm),
	}
}

// InputBoundConstraint keeps every input channel inside [Lower, Upper]
// through the inequality path:
//
//	g(u) = [u - Lower, Upper - u] >= 0
type InputBoundConstraint struct {
	Lower []float64
	Upper []float64
}

func (c *InputBoundConstraint) NumIneq(float64) int { return 2 * len(c.Lower) }

func (c *InputBoundConstraint) Ineq(_ float64, x oc.State, u oc.Input) ([]float64, *mat.Dense, *mat.Dense) {
	m := len(c.Lower)
	gv := make([]float64, 2*m)
	gu := mat.NewDense(2*m, m, nil)
	for i := 0; i < m; i++ {
		gv[i] = u[i] - c.Lower[i]
		gv[m+i] = c.Upper[i] - u[i]
		gu.Set(i, i, 1)
		gu.Set(m+i, i, -1)
	}
	return gv, mat.NewDense(2*m, len(x), nil), gu
}

func (c *InputBoundConstraint) NumStateInputEq(float64) int { return 0 }
func (c *InputBoundConstraint) StateInputEq(float64, oc.State, oc.Input) ([]float64, *mat.Dense, *mat.Dense) {
	return nil, nil, nil
}
func (c *InputBoundConstraint) NumStateEq(float64) int { return 0 }
func (c *InputBoundConstraint) StateEq(float64, oc.State) ([]float64, *mat.Dense) {
	return nil, nil
}
func (c *InputBoundConstraint) NumFinalStateEq(float64) int { return 0 }
func (c *InputBoundConstraint) FinalStateEq(float64, oc.State) ([]float64, *mat.Dense) {
	return nil, nil
}

func (c *InputBoundConstraint) Clone() oc.Constraints {
	return &InputBoundConstraint{
		Lower: append([]float64(nil), c.Lower...),
		Upper: append([]float64(nil), c.Upper...),
	}
}
