package lq

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func minEigenvalue(t *testing.T, m *mat.Dense) float64 {
	t.Helper()
	r, _ := m.Dims()
	sym := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < r; j++ {
			sym.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, false) {
		t.Fatal("eigendecomposition failed")
	}
	vals := eig.Values(nil)
	min := vals[0]
	for _, v := range vals {
		if v < min {
			min = v
		}
	}
	return min
}

func TestMakePSDClipsNegativeEigenvalues(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 3, 3, 1})
	if minEigenvalue(t, m) >= 0 {
		t.Fatal("fixture should be indefinite")
	}

	changed := MakePSD(m)
	if !changed {
		t.Error("MakePSD should report a correction")
	}
	if min := minEigenvalue(t, m); min < -1e-10 {
		t.Errorf("min eigenvalue after projection = %g", min)
	}
	// symmetry preserved
	if math.Abs(m.At(0, 1)-m.At(1, 0)) > 1e-12 {
		t.Error("projected matrix is not symmetric")
	}
}

func TestMakePSDLeavesPositiveDefiniteAlone(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{2, 0, 0, 3})
	if MakePSD(m) {
		t.Error("positive definite matrix should not be corrected")
	}
	if m.At(0, 0) != 2 || m.At(1, 1) != 3 {
		t.Errorf("matrix modified: %v", mat.Formatted(m))
	}
}

func TestAddDiagonal(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	AddDiagonal(m, 0.5)
	if m.At(0, 0) != 1.5 || m.At(1, 1) != 4.5 {
		t.Errorf("diagonal not shifted: %v", mat.Formatted(m))
	}
	if m.At(0, 1) != 2 || m.At(1, 0) != 3 {
		t.Errorf("off-diagonal modified: %v", mat.Formatted(m))
	}
}

func TestRelaxedBarrier(t *testing.T) {
	p := NewRelaxedBarrier(0.1, 1e-2)

	// well inside the feasible region: plain -mu ln(h)
	want := -0.1 * math.Log(2.0)
	if got := p.Penalty([]float64{2.0}); math.Abs(got-want) > 1e-12 {
		t.Errorf("penalty(2) = %v, want %v", got, want)
	}

	// the relaxation keeps the penalty finite at and below zero
	if got := p.Penalty([]float64{0}); math.IsInf(got, 0) || math.IsNaN(got) {
		t.Errorf("penalty(0) = %v, want finite", got)
	}
	if got := p.Penalty([]float64{-1}); math.IsInf(got, 0) {
		t.Errorf("penalty(-1) = %v, want finite", got)
	}

	// continuity at the relaxation threshold
	lo := p.Penalty([]float64{p.Delta - 1e-9})
	hi := p.Penalty([]float64{p.Delta + 1e-9})
	if math.Abs(lo-hi) > 1e-6 {
		t.Errorf("discontinuity at delta: %v vs %v", lo, hi)
	}
}

// The barrier derivatives must match finite differences of the penalty
// on both sides of the relaxation threshold, and stay continuous across
// it.
func TestRelaxedBarrierDerivatives(t *testing.T) {
	p := NewRelaxedBarrier(0.1, 1e-2)
	const eps = 1e-7

	for _, v := range []float64{2.0, 0.5, 2 * p.Delta, 0.5 * p.Delta, 0, -0.3} {
		fd := (p.Penalty([]float64{v + eps}) - p.Penalty([]float64{v - eps})) / (2 * eps)
		if got := p.Derivative(v); math.Abs(got-fd) > 1e-5 {
			t.Errorf("Derivative(%v) = %v, finite diff %v", v, got, fd)
		}
		fd2 := (p.Derivative(v+eps) - p.Derivative(v-eps)) / (2 * eps)
		if got := p.SecondDerivative(v); math.Abs(got-fd2) > 1e-4*math.Abs(got)+1e-5 {
			t.Errorf("SecondDerivative(%v) = %v, finite diff %v", v, got, fd2)
		}
	}

	lo := p.Derivative(p.Delta - 1e-9)
	hi := p.Derivative(p.Delta + 1e-9)
	if math.Abs(lo-hi) > 1e-5 {
		t.Errorf("derivative discontinuity at delta: %v vs %v", lo, hi)
	}
}

func TestViolationSquaredNorm(t *testing.T) {
	p := NewRelaxedBarrier(0.1, 1e-2)
	got := p.ViolationSquaredNorm([]float64{1, -2, 0.5, -0.5})
	if math.Abs(got-4.25) > 1e-12 {
		t.Errorf("violation = %v, want 4.25", got)
	}
}
