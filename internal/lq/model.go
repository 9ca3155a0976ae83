// Package lq builds the local linear-quadratic model of the optimal
// control problem around a nominal trajectory sample.
package lq

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/trajopt/internal/oc"
)

// ModelData holds the linear-quadratic coefficients at one time sample.
// It is recomputed every iteration and never persisted across iterations.
type ModelData struct {
	Time float64

	// dynamics Jacobians
	Am *mat.Dense // n×n
	Bm *mat.Dense // n×m

	// cost expansion
	Cost oc.CostApproximation

	// state-input equality constraints
	NumStateInputEq int
	Ev              []float64
	Cm              *mat.Dense // nc×n
	Dm              *mat.Dense // nc×m

	// state-only equality constraints
	NumStateEq int
	Hv         []float64
	Fm         *mat.Dense // nc×n

	// inequality constraint values and Jacobians
	NumIneq int
	Gv      []float64
	Gx      *mat.Dense // nc×n
	Gu      *mat.Dense // nc×m
}

// EventData holds the final-state-only quadratic approximation at an
// event (switching) time, already penalized by the continuation
// coefficient.
type EventData struct {
	Time float64

	Q  float64
	Qv []float64
	Qm *mat.Dense

	NumFinalEq int
	Hv         []float64
	Fm         *mat.Dense
}
