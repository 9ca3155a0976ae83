// Package problems provides ready-made optimal control problem
// definitions: a linear-quadratic benchmark with a closed-form solution
// and a three-mode switched system benchmark.
package problems

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/trajopt/internal/oc"
)

// LTI is a linear time-invariant system dx/dt = A x + B u.
type LTI struct {
	A *mat.Dense
	B *mat.Dense
}

func NewLTI(a, b *mat.Dense) *LTI {
	return &LTI{A: a, B: b}
}

func (s *LTI) StateDim() int { r, _ := s.A.Dims(); return r }
func (s *LTI) InputDim() int { _, c := s.B.Dims(); return c }

func (s *LTI) Derive(_ float64, x oc.State, u oc.Input) oc.State {
	n := s.StateDim()
	m := s.InputDim()
	dx := make(oc.State, n)
	for i := 0; i < n; i++ {
		v := 0.0
		for j := 0; j < n; j++ {
			v += s.A.At(i, j) * x[j]
		}
		for j := 0; j < m && j < len(u); j++ {
			v += s.B.At(i, j) * u[j]
		}
		dx[i] = v
	}
	return dx
}

func (s *LTI) LinearApproximation(_ float64, _ oc.State, _ oc.Input) (*mat.Dense, *mat.Dense) {
	return mat.DenseCopyOf(s.A), mat.DenseCopyOf(s.B)
}

func (s *LTI) Clone() oc.Dynamics {
	return &LTI{A: mat.DenseCopyOf(s.A), B: mat.DenseCopyOf(s.B)}
}

// QuadraticCost is the standard LQ cost
//
//	l = ½ (x-xRef)'Q(x-xRef) + ½ u'Ru,   lf = ½ (x-xRef)'Qf(x-xRef).
type QuadraticCost struct {
	Q, R, Qf *mat.Dense
	XRef     []float64
}

func (c *QuadraticCost) deviation(x oc.State) []float64 {
	dx := make([]float64, len(x))
	for i := range x {
		dx[i] = x[i]
		if i < len(c.XRef) {
			dx[i] -= c.XRef[i]
		}
	}
	return dx
}

func quadForm(m *mat.Dense, v []float64) float64 {
	n := len(v)
	s := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			s += v[i] * m.At(i, j) * v[j]
		}
	}
	return s
}

func (c *QuadraticCost) Cost(_ float64, x oc.State, u oc.Input) float64 {
	return 0.5*quadForm(c.Q, c.deviation(x)) + 0.5*quadForm(c.R, u)
}

func (c *QuadraticCost) FinalCost(_ float64, x oc.State) float64 {
	return 0.5 * quadForm(c.Qf, c.deviation(x))
}

func (c *QuadraticCost) Approximation(_ float64, x oc.State, u oc.Input) oc.CostApproximation {
	n := len(x)
	m := len(u)
	dx := c.deviation(x)

	qv := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			qv[i] += c.Q.At(i, j) * dx[j]
		}
	}
	rv := make([]float64, m)
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			rv[i] += c.R.At(i, j) * u[j]
		}
	}
	return oc.CostApproximation{
		Q:  0.5*quadForm(c.Q, dx) + 0.5*quadForm(c.R, u),
		Qv: qv,
		Qm: mat.DenseCopyOf(c.Q),
		Rv: rv,
		Rm: mat.DenseCopyOf(c.R),
		Pm: mat.NewDense(m, n, nil),
	}
}

func (c *QuadraticCost) FinalApproximation(_ float64, x oc.State) (float64, []float64, *mat.Dense) {
	n := len(x)
	dx := c.deviation(x)
	qv := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			qv[i] += c.Qf.At(i, j) * dx[j]
		}
	}
	return 0.5 * quadForm(c.Qf, dx), qv, mat.DenseCopyOf(c.Qf)
}

func (c *QuadraticCost) Clone() oc.Cost {
	out := &QuadraticCost{
		Q:    mat.DenseCopyOf(c.Q),
		R:    mat.DenseCopyOf(c.R),
		Qf:   mat.DenseCopyOf(c.Qf),
		XRef: append([]float64(nil), c.XRef...),
	}
	return out
}

// NoConstraints is the unconstrained problem stub.
type NoConstraints struct{}

func (NoConstraints) NumStateInputEq(float64) int { return 0 }
func (NoConstraints) StateInputEq(float64, oc.State, oc.Input) ([]float64, *mat.Dense, *mat.Dense) {
	return nil, nil, nil
}
func (NoConstraints) NumStateEq(float64) int                          { return 0 }
func (NoConstraints) StateEq(float64, oc.State) ([]float64, *mat.Dense) { return nil, nil }
func (NoConstraints) NumIneq(float64) int { return 0 }
func (NoConstraints) Ineq(float64, oc.State, oc.Input) ([]float64, *mat.Dense, *mat.Dense) {
	return nil, nil, nil
}
func (NoConstraints) NumFinalStateEq(float64) int                     { return 0 }
func (NoConstraints) FinalStateEq(float64, oc.State) ([]float64, *mat.Dense) {
	return nil, nil
}
func (NoConstraints) Clone() oc.Constraints { return NoConstraints{} }

// StaticOperatingPoints holds the state constant at the segment start
// with a fixed input, sampled at Dt.
type StaticOperatingPoints struct {
	U  oc.Input
	Dt float64
}

func (o *StaticOperatingPoints) Trajectory(x0 oc.State, t0, tf float64) ([]float64, []oc.State, []oc.Input) {
	dt := o.Dt
	if dt <= 0 {
		dt = 0.1
	}
	var times []float64
	t := t0
	for t < tf-1e-12 {
		times = append(times, t)
		t += dt
	}
	times = append(times, tf)

	states := make([]oc.State, len(times))
	inputs := make([]oc.Input, len(times))
	for i := range times {
		states[i] = x0.Clone()
		inputs[i] = o.U.Clone()
	}
	return times, states, inputs
}

func (o *StaticOperatingPoints) Clone() oc.OperatingPoints {
	return &StaticOperatingPoints{U: o.U.Clone(), Dt: o.Dt}
}
