package oc

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

type Input []float64

func (u Input) Clone() Input {
	c := make(Input, len(u))
	copy(c, u)
	return c
}

func (u Input) Norm() float64 {
	sum := 0.0
	for _, v := range u {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// System is an integrable vector field dx/dt = f(t, x, u).
type System interface {
	Derive(t float64, x State, u Input) State
	StateDim() int
	InputDim() int
}

// Integrator advances a System by one time step. dt may be negative for
// backward integration.
type Integrator interface {
	Step(sys System, x State, u Input, t, dt float64) State
}

// Dynamics extends System with first-order derivatives. Implementations
// that depend on the active hybrid mode should also implement ModeAware.
type Dynamics interface {
	System

	// LinearApproximation returns the Jacobians A = df/dx (n×n) and
	// B = df/du (n×m) around (t, x, u).
	LinearApproximation(t float64, x State, u Input) (A, B *mat.Dense)

	// Clone returns an independent copy for use by a parallel worker.
	Clone() Dynamics
}

// JumpMap is an optional Dynamics capability applying the discrete state
// transition at a mode-switch event.
type JumpMap interface {
	Jump(t float64, x State) State
}

// ModeAware is implemented by providers whose behavior depends on the
// active hybrid mode.
type ModeAware interface {
	SetActiveMode(mode int)
}

// CostApproximation holds the quadratic expansion of the intermediate cost
// around a nominal (t, x, u):
//
//	l(x+dx, u+du) ≈ Q + Qv·dx + Rv·du + ½ dx'Qm dx + ½ du'Rm du + du'Pm dx
type CostApproximation struct {
	Q  float64
	Qv []float64
	Qm *mat.Dense // n×n
	Rv []float64
	Rm *mat.Dense // m×m
	Pm *mat.Dense // m×n
}

// Cost provides intermediate and terminal cost values and their
// linear-quadratic expansions.
type Cost interface {
	Cost(t float64, x State, u Input) float64
	FinalCost(t float64, x State) float64
	Approximation(t float64, x State, u Input) CostApproximation
	FinalApproximation(t float64, x State) (q float64, Qv []float64, Qm *mat.Dense)
	Clone() Cost
}

// Constraints provides the pointwise constraint values and Jacobians. All
// active counts are bounded above by the control-input dimension; the
// solver treats a violation of this bound as a provider contract fault.
type Constraints interface {
	// State-input equality constraints e(t,x,u) = Ev + Cm dx + Dm du = 0.
	NumStateInputEq(t float64) int
	StateInputEq(t float64, x State, u Input) (ev []float64, Cm, Dm *mat.Dense)

	// State-only equality constraints h(t,x) = 0.
	NumStateEq(t float64) int
	StateEq(t float64, x State) (hv []float64, Fm *mat.Dense)

	// Inequality constraints g(t,x,u) >= 0, handled by the relaxed
	// barrier. Gx (nc×n) and Gu (nc×m) are the constraint Jacobians.
	NumIneq(t float64) int
	Ineq(t float64, x State, u Input) (gv []float64, Gx, Gu *mat.Dense)

	// Final state-only equality constraints enforced at event times.
	NumFinalStateEq(t float64) int
	FinalStateEq(t float64, x State) (hv []float64, Fm *mat.Dense)

	Clone() Constraints
}

// OperatingPoints generates the fallback trajectory used wherever no
// controller coverage exists.
type OperatingPoints interface {
	// Trajectory returns sampled (times, states, inputs) spanning [t0, tf]
	// starting from x0. The returned times include both endpoints.
	Trajectory(x0 State, t0, tf float64) (times []float64, states []State, inputs []Input)
	Clone() OperatingPoints
}

// ModeSchedule is the ordered event-time/mode sequence of the hybrid
// system. It is read-only to the solver. len(ModeSequence) must equal
// len(EventTimes)+1.
type ModeSchedule struct {
	EventTimes   []float64
	ModeSequence []int
}

// ModeAtTime returns the active mode at time t.
func (m ModeSchedule) ModeAtTime(t float64) int {
	if len(m.ModeSequence) == 0 {
		return 0
	}
	i := sort.SearchFloat64s(m.EventTimes, t)
	// t exactly at an event time belongs to the post-event mode
	for i < len(m.EventTimes) && m.EventTimes[i] <= t {
		i++
	}
	if i >= len(m.ModeSequence) {
		i = len(m.ModeSequence) - 1
	}
	return m.ModeSequence[i]
}

// EventsInRange returns the event times strictly inside (t0, tf).
func (m ModeSchedule) EventsInRange(t0, tf float64) []float64 {
	var events []float64
	for _, te := range m.EventTimes {
		if te > t0 && te < tf {
			events = append(events, te)
		}
	}
	return events
}
