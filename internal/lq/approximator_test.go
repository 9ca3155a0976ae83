package lq

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/trajopt/internal/oc"
	"github.com/san-kum/trajopt/internal/problems"
)

// overconstrained reports more state-input equality constraints than the
// input dimension allows.
type overconstrained struct {
	problems.NoConstraints
}

func (overconstrained) NumStateInputEq(float64) int { return 5 }
func (c overconstrained) Clone() oc.Constraints     { return c }

func testApproximator(cons oc.Constraints) *Approximator {
	dyn := problems.NewLTI(
		mat.NewDense(2, 2, []float64{0, 1, -1, 0}),
		mat.NewDense(2, 1, []float64{0, 1}))
	cost := &problems.QuadraticCost{
		Q:  mat.NewDense(2, 2, []float64{2, 0, 0, 2}),
		R:  mat.NewDense(1, 1, []float64{1}),
		Qf: mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
	}
	return NewApproximator(dyn, cost, cons, true, 0)
}

func TestIntermediateMatchesAnalyticModel(t *testing.T) {
	a := testApproximator(problems.NoConstraints{})

	x := oc.State{1, 2}
	u := oc.Input{0.5}
	md, err := a.Intermediate(0, 0.3, x, u)
	if err != nil {
		t.Fatalf("Intermediate: %v", err)
	}

	if got := md.Am.At(0, 1); got != 1 {
		t.Errorf("Am(0,1) = %v, want 1", got)
	}
	if got := md.Bm.At(1, 0); got != 1 {
		t.Errorf("Bm(1,0) = %v, want 1", got)
	}
	// gradient of ½x'Qx with Q = 2I at x = (1,2)
	if math.Abs(md.Cost.Qv[0]-2) > 1e-12 || math.Abs(md.Cost.Qv[1]-4) > 1e-12 {
		t.Errorf("Qv = %v, want [2 4]", md.Cost.Qv)
	}
	if got := md.Cost.Rm.At(0, 0); got != 1 {
		t.Errorf("Rm = %v, want 1", got)
	}
	if md.NumStateInputEq != 0 || md.NumStateEq != 0 || md.NumIneq != 0 {
		t.Errorf("unconstrained model has constraint counts %d/%d/%d",
			md.NumStateInputEq, md.NumStateEq, md.NumIneq)
	}
}

func TestIntermediateRejectsTooManyConstraints(t *testing.T) {
	a := testApproximator(overconstrained{})
	_, err := a.Intermediate(0, 0, oc.State{0, 0}, oc.Input{0})
	if !errors.Is(err, oc.ErrConstraintCount) {
		t.Errorf("expected ErrConstraintCount, got %v", err)
	}
}

func TestEventTimePenalizesFinalConstraints(t *testing.T) {
	a := testApproximator(problems.NoConstraints{})
	ed, err := a.EventTime(1.0, oc.State{3, 0}, 10)
	if err != nil {
		t.Fatalf("EventTime: %v", err)
	}
	// final cost ½x'Qf x with Qf = I at (3, 0)
	if math.Abs(ed.Q-4.5) > 1e-12 {
		t.Errorf("event cost = %v, want 4.5", ed.Q)
	}
	if ed.NumFinalEq != 0 {
		t.Errorf("unexpected final constraints: %d", ed.NumFinalEq)
	}
}

func TestApplyConstraintPenaltyStateEq(t *testing.T) {
	md := &ModelData{
		Cost: oc.CostApproximation{
			Q:  1,
			Qv: []float64{0, 0},
			Qm: mat.NewDense(2, 2, nil),
			Rv: []float64{0},
			Rm: mat.NewDense(1, 1, []float64{1}),
			Pm: mat.NewDense(1, 2, nil),
		},
		NumStateEq: 1,
		Hv:         []float64{2},
		Fm:         mat.NewDense(1, 2, []float64{1, 0}),
	}

	ApplyConstraintPenalty(md, 4, nil)

	// q += ½·ρ·h² = ½·4·4 = 8
	if math.Abs(md.Cost.Q-9) > 1e-12 {
		t.Errorf("q = %v, want 9", md.Cost.Q)
	}
	// Qv += ρ·F'h = 4·(1,0)·2 = (8, 0)
	if math.Abs(md.Cost.Qv[0]-8) > 1e-12 || md.Cost.Qv[1] != 0 {
		t.Errorf("Qv = %v, want [8 0]", md.Cost.Qv)
	}
	// Qm += ρ·F'F
	if math.Abs(md.Cost.Qm.At(0, 0)-4) > 1e-12 {
		t.Errorf("Qm(0,0) = %v, want 4", md.Cost.Qm.At(0, 0))
	}
}

func TestApplyConstraintPenaltyStateInputEq(t *testing.T) {
	md := &ModelData{
		Cost: oc.CostApproximation{
			Q:  0,
			Qv: []float64{0, 0},
			Qm: mat.NewDense(2, 2, nil),
			Rv: []float64{0},
			Rm: mat.NewDense(1, 1, nil),
			Pm: mat.NewDense(1, 2, nil),
		},
		NumStateInputEq: 1,
		Ev:              []float64{1},
		Cm:              mat.NewDense(1, 2, []float64{0, 1}),
		Dm:              mat.NewDense(1, 1, []float64{2}),
	}

	ApplyConstraintPenalty(md, 2, nil)

	// Rv += ρ·D'e = 2·2·1 = 4
	if math.Abs(md.Cost.Rv[0]-4) > 1e-12 {
		t.Errorf("Rv = %v, want 4", md.Cost.Rv)
	}
	// Rm += ρ·D'D = 2·4 = 8
	if math.Abs(md.Cost.Rm.At(0, 0)-8) > 1e-12 {
		t.Errorf("Rm = %v, want 8", md.Cost.Rm.At(0, 0))
	}
	// Pm += ρ·D'C = 2·2·(0,1)
	if math.Abs(md.Cost.Pm.At(0, 1)-4) > 1e-12 {
		t.Errorf("Pm = %v, want 4 in column 1", md.Cost.Pm.At(0, 1))
	}
}

// The relaxed barrier's first and second derivatives must enter the LQ
// coefficients, so the backward pass steers away from inequality bounds.
func TestApplyConstraintPenaltyInequality(t *testing.T) {
	barrier := NewRelaxedBarrier(0.1, 1e-3)
	md := &ModelData{
		Cost: oc.CostApproximation{
			Q:  0,
			Qv: []float64{0, 0},
			Qm: mat.NewDense(2, 2, nil),
			Rv: []float64{0},
			Rm: mat.NewDense(1, 1, nil),
			Pm: mat.NewDense(1, 2, nil),
		},
		NumIneq: 1,
		Gv:      []float64{2},                          // g = 2 > delta
		Gx:      mat.NewDense(1, 2, []float64{1, 0}),
		Gu:      mat.NewDense(1, 1, []float64{3}),
	}

	ApplyConstraintPenalty(md, 1, barrier)

	d1 := -0.1 / 2.0     // -mu/g
	d2 := 0.1 / (2 * 2)  // mu/g²
	if math.Abs(md.Cost.Qv[0]-d1*1) > 1e-12 {
		t.Errorf("Qv[0] = %v, want %v", md.Cost.Qv[0], d1)
	}
	if math.Abs(md.Cost.Rv[0]-d1*3) > 1e-12 {
		t.Errorf("Rv[0] = %v, want %v", md.Cost.Rv[0], d1*3)
	}
	if math.Abs(md.Cost.Qm.At(0, 0)-d2*1*1) > 1e-12 {
		t.Errorf("Qm(0,0) = %v, want %v", md.Cost.Qm.At(0, 0), d2)
	}
	if math.Abs(md.Cost.Rm.At(0, 0)-d2*3*3) > 1e-12 {
		t.Errorf("Rm(0,0) = %v, want %v", md.Cost.Rm.At(0, 0), d2*9)
	}
	if math.Abs(md.Cost.Pm.At(0, 0)-d2*3*1) > 1e-12 {
		t.Errorf("Pm(0,0) = %v, want %v", md.Cost.Pm.At(0, 0), d2*3)
	}
	if math.Abs(md.Cost.Q-barrier.Penalty([]float64{2})) > 1e-12 {
		t.Errorf("Q = %v, want the barrier value", md.Cost.Q)
	}
}
