// Package riccati integrates the backward differential Riccati equation
// over a time partition and derives the time-varying affine control law
// from the resulting value-function coefficients.
package riccati

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/trajopt/internal/lq"
	"github.com/san-kum/trajopt/internal/oc"
)

// Boundary is the quadratic value function at a partition boundary,
// V(x) = S + (Sv+Sve)·dx + ½ dx'Sm dx around the nominal state.
type Boundary struct {
	Sm  *mat.Dense
	Sv  []float64
	Sve []float64
	S   float64
}

func ZeroBoundary(n int) Boundary {
	return Boundary{
		Sm:  mat.NewDense(n, n, nil),
		Sv:  make([]float64, n),
		Sve: make([]float64, n),
		S:   0,
	}
}

func (b Boundary) Clone() Boundary {
	return Boundary{
		Sm:  mat.DenseCopyOf(b.Sm),
		Sv:  append([]float64(nil), b.Sv...),
		Sve: append([]float64(nil), b.Sve...),
		S:   b.S,
	}
}

// ValueFunction is the time-indexed value-function approximation over one
// partition, on the partition's nominal time grid.
type ValueFunction struct {
	Times []float64
	Sm    []*mat.Dense
	Sv    [][]float64
	Sve   [][]float64
	S     []float64
}

func (v *ValueFunction) Len() int { return len(v.Times) }

// At interpolates the value-function coefficients at time t.
func (v *ValueFunction) At(t float64) Boundary {
	ia := oc.TimeSegment(t, v.Times)
	return Boundary{
		Sm:  oc.InterpMat(ia, v.Sm),
		Sv:  oc.Interp(ia, v.Sv),
		Sve: oc.Interp(ia, v.Sve),
		S:   oc.InterpScalar(ia, v.S),
	}
}

// ode is the matrix Riccati differential equation flattened into a state
// vector [Sm (n²), Sv (n), Sve (n), s], integrable by the generic
// steppers. Model data is interpolated linearly on the partition grid.
type ode struct {
	n, m  int
	times []float64
	ams   []*mat.Dense
	bms   []*mat.Dense
	q     []float64
	qv    [][]float64
	qm    []*mat.Dense
	rv    [][]float64
	rm    []*mat.Dense
	pm    []*mat.Dense
}

func newODE(n, m int, times []float64, md []*lq.ModelData) *ode {
	o := &ode{n: n, m: m, times: times}
	o.ams = make([]*mat.Dense, len(md))
	o.bms = make([]*mat.Dense, len(md))
	o.q = make([]float64, len(md))
	o.qv = make([][]float64, len(md))
	o.qm = make([]*mat.Dense, len(md))
	o.rv = make([][]float64, len(md))
	o.rm = make([]*mat.Dense, len(md))
	o.pm = make([]*mat.Dense, len(md))
	for k, d := range md {
		o.ams[k] = d.Am
		o.bms[k] = d.Bm
		o.q[k] = d.Cost.Q
		o.qv[k] = d.Cost.Qv
		o.qm[k] = d.Cost.Qm
		o.rv[k] = d.Cost.Rv
		o.rm[k] = d.Cost.Rm
		o.pm[k] = d.Cost.Pm
	}
	return o
}

func (o *ode) StateDim() int { return o.n*o.n + 2*o.n + 1 }
func (o *ode) InputDim() int { return 0 }

func (o *ode) pack(b Boundary) oc.State {
	n := o.n
	y := make(oc.State, o.StateDim())
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			y[i*n+j] = b.Sm.At(i, j)
		}
	}
	copy(y[n*n:], b.Sv)
	copy(y[n*n+n:], b.Sve)
	y[n*n+2*n] = b.S
	return y
}

func (o *ode) unpack(y oc.State) Boundary {
	n := o.n
	b := ZeroBoundary(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			b.Sm.Set(i, j, y[i*n+j])
		}
	}
	copy(b.Sv, y[n*n:n*n+n])
	copy(b.Sve, y[n*n+n:n*n+2*n])
	b.S = y[n*n+2*n]
	return b
}

// Derive evaluates the forward-time derivative of the Riccati state;
// stepping with a negative dt integrates the backward pass.
func (o *ode) Derive(t float64, y oc.State, _ oc.Input) oc.State {
	n, m := o.n, o.m
	ia := oc.TimeSegment(t, o.times)

	am := oc.InterpMat(ia, o.ams)
	bm := oc.InterpMat(ia, o.bms)
	q := oc.InterpScalar(ia, o.q)
	qv := oc.Interp(ia, o.qv)
	qm := oc.InterpMat(ia, o.qm)
	rv := oc.Interp(ia, o.rv)
	rm := oc.InterpMat(ia, o.rm)
	pm := oc.InterpMat(ia, o.pm)

	b := o.unpack(y)

	chol, err := factorize(rm)
	if err != nil {
		return invalidState(len(y))
	}

	// Lm = Rm^{-1}(Pm + Bm'Sm)
	var btS mat.Dense
	btS.Mul(bm.T(), b.Sm)
	var pPlus mat.Dense
	pPlus.Add(pm, &btS)
	var lm mat.Dense
	if err := chol.SolveTo(&lm, &pPlus); err != nil {
		return invalidState(len(y))
	}

	// Lv = Rm^{-1}(Rv + Bm'Sv)
	sv := mat.NewVecDense(n, b.Sv)
	rvVec := mat.NewVecDense(m, rv)
	var btSv mat.VecDense
	btSv.MulVec(bm.T(), sv)
	var rvPlus mat.VecDense
	rvPlus.AddVec(rvVec, &btSv)
	var lv mat.VecDense
	if err := chol.SolveVecTo(&lv, &rvPlus); err != nil {
		return invalidState(len(y))
	}

	// Lve = Rm^{-1} Bm'Sve
	sve := mat.NewVecDense(n, b.Sve)
	var btSve mat.VecDense
	btSve.MulVec(bm.T(), sve)
	var lve mat.VecDense
	if err := chol.SolveVecTo(&lve, &btSve); err != nil {
		return invalidState(len(y))
	}

	// dSm = -(Qm + Am'Sm + Sm Am - Lm'Rm Lm)
	var atS, sA, rmLm, lmRmLm, dSm mat.Dense
	atS.Mul(am.T(), b.Sm)
	sA.Mul(b.Sm, am)
	rmLm.Mul(rm, &lm)
	lmRmLm.Mul(lm.T(), &rmLm)
	dSm.Add(qm, &atS)
	dSm.Add(&dSm, &sA)
	dSm.Sub(&dSm, &lmRmLm)
	dSm.Scale(-1, &dSm)

	// dSv = -(Qv + Am'Sv - Lm'Rm Lv)
	qvVec := mat.NewVecDense(n, qv)
	var atSv, rmLv, lmRmLv, dSv mat.VecDense
	atSv.MulVec(am.T(), sv)
	rmLv.MulVec(rm, &lv)
	lmRmLv.MulVec(lm.T(), &rmLv)
	dSv.AddVec(qvVec, &atSv)
	dSv.SubVec(&dSv, &lmRmLv)
	dSv.ScaleVec(-1, &dSv)

	// dSve = -(Am - Bm Lm)' Sve
	var bmLm, closed mat.Dense
	bmLm.Mul(bm, &lm)
	closed.Sub(am, &bmLm)
	var dSve mat.VecDense
	dSve.MulVec(closed.T(), sve)
	dSve.ScaleVec(-1, &dSve)

	// ds = -(q - ½ Lv'Rm Lv)
	dS := -(q - 0.5*mat.Dot(&lv, &rmLv))

	out := make(oc.State, len(y))
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i*n+j] = dSm.At(i, j)
		}
	}
	for i := 0; i < n; i++ {
		out[n*n+i] = dSv.AtVec(i)
		out[n*n+n+i] = dSve.AtVec(i)
	}
	out[n*n+2*n] = dS
	return out
}

func factorize(rm *mat.Dense) (*mat.Cholesky, error) {
	m, _ := rm.Dims()
	sym := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			sym.SetSym(i, j, 0.5*(rm.At(i, j)+rm.At(j, i)))
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil, fmt.Errorf("input cost Hessian is not positive definite: %w", oc.ErrDiverged)
	}
	return &chol, nil
}

// invalidState propagates a failed factorization or solve as NaN so the
// backward pass detects divergence at the next validity check.
func invalidState(n int) oc.State {
	out := make(oc.State, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
