package integrators

import (
	"math"

	"github.com/san-kum/trajopt/internal/oc"
)

// Dormand-Prince 5(4) tableau. The last coupling row equals the
// fifth-order weights, so the seventh stage evaluates the derivative at
// the accepted solution (FSAL).
var (
	dpNodes = [7]float64{0, 1.0 / 5, 3.0 / 10, 4.0 / 5, 8.0 / 9, 1, 1}

	dpCoupling = [7][6]float64{
		{},
		{1.0 / 5},
		{3.0 / 40, 9.0 / 40},
		{44.0 / 45, -56.0 / 15, 32.0 / 9},
		{19372.0 / 6561, -25360.0 / 2187, 64448.0 / 6561, -212.0 / 729},
		{9017.0 / 3168, -355.0 / 33, 46732.0 / 5247, 49.0 / 176, -5103.0 / 18656},
		{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84},
	}

	// fifth-order minus fourth-order weights, giving the embedded error
	dpErrWeights = [7]float64{
		35.0/384 - 5179.0/57600,
		0,
		500.0/1113 - 7571.0/16695,
		125.0/192 - 393.0/640,
		-2187.0/6784 + 92097.0/339200,
		11.0/84 - 187.0/2100,
		-1.0 / 40,
	}
)

// RK45 is the Dormand-Prince adaptive stepper. Step takes the
// fifth-order solution at a fixed dt; StepAdaptive additionally suggests
// the next step size from the embedded error estimate.
type RK45 struct {
	safety   float64
	minScale float64
	maxScale float64
}

func NewRK45() *RK45 {
	return &RK45{
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
	}
}

func (r *RK45) Step(sys oc.System, x oc.State, u oc.Input, t, dt float64) oc.State {
	newX, _, _ := r.StepAdaptive(sys, x, u, t, dt, 1e-6)
	return newX
}

func (r *RK45) StepAdaptive(sys oc.System, x oc.State, u oc.Input, t, dt, tol float64) (oc.State, float64, error) {
	n := len(x)
	ks := make([]oc.State, 7)
	stage := make(oc.State, n)

	eval := func(s int, xs oc.State) {
		d := sys.Derive(t+dpNodes[s]*dt, xs, u)
		ks[s] = append(make(oc.State, 0, n), d...)
	}

	eval(0, x)
	for s := 1; s < 7; s++ {
		for i := 0; i < n; i++ {
			acc := x[i]
			for j := 0; j < s; j++ {
				if c := dpCoupling[s][j]; c != 0 {
					acc += dt * c * ks[j][i]
				}
			}
			stage[i] = acc
		}
		eval(s, stage)
	}
	// after the final coupling row, stage holds the fifth-order solution
	out := append(make(oc.State, 0, n), stage...)

	errMax := 0.0
	for i := 0; i < n; i++ {
		est := 0.0
		for s := 0; s < 7; s++ {
			est += dpErrWeights[s] * ks[s][i]
		}
		est *= dt
		scale := math.Abs(x[i]) + math.Abs(dt*ks[0][i]) + 1e-10
		if e := math.Abs(est) / scale; e > errMax {
			errMax = e
		}
	}

	errRatio := errMax / tol
	var dtNext float64
	switch {
	case errRatio > 1:
		dtNext = dt * math.Max(r.minScale, r.safety*math.Pow(errRatio, -0.25))
	case errRatio > 0:
		dtNext = dt * math.Min(r.maxScale, r.safety*math.Pow(errRatio, -0.2))
	default:
		dtNext = dt * r.maxScale
	}

	return out, dtNext, nil
}
