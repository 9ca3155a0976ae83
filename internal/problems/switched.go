package problems

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/trajopt/internal/oc"
)

// ThreeModeSystem is a two-state, one-input switched system with three
// nonlinear modes, switching in fixed order 0 -> 1 -> 2. The state is
// continuous across switches.
type ThreeModeSystem struct {
	mode int
}

func NewThreeModeSystem() *ThreeModeSystem { return &ThreeModeSystem{} }

func (s *ThreeModeSystem) StateDim() int { return 2 }
func (s *ThreeModeSystem) InputDim() int { return 1 }

func (s *ThreeModeSystem) SetActiveMode(mode int) { s.mode = mode }

func (s *ThreeModeSystem) Derive(_ float64, x oc.State, u oc.Input) oc.State {
	v := 0.0
	if len(u) > 0 {
		v = u[0]
	}
	switch s.mode {
	case 0:
		return oc.State{
			x[0] + v*math.Sin(x[0]),
			-x[1] - v*math.Cos(x[1]),
		}
	case 1:
		return oc.State{
			x[1] + v*math.Sin(x[1]),
			-x[0] - v*math.Cos(x[0]),
		}
	default:
		return oc.State{
			-x[0] - v*math.Sin(x[0]),
			x[1] + v*math.Cos(x[1]),
		}
	}
}

func (s *ThreeModeSystem) LinearApproximation(_ float64, x oc.State, u oc.Input) (*mat.Dense, *mat.Dense) {
	v := 0.0
	if len(u) > 0 {
		v = u[0]
	}
	switch s.mode {
	case 0:
		a := mat.NewDense(2, 2, []float64{
			v*math.Cos(x[0]) + 1, 0,
			0, v*math.Sin(x[1]) - 1,
		})
		b := mat.NewDense(2, 1, []float64{math.Sin(x[0]), -math.Cos(x[1])})
		return a, b
	case 1:
		a := mat.NewDense(2, 2, []float64{
			0, v*math.Cos(x[1]) + 1,
			v*math.Sin(x[0]) - 1, 0,
		})
		b := mat.NewDense(2, 1, []float64{math.Sin(x[1]), -math.Cos(x[0])})
		return a, b
	default:
		a := mat.NewDense(2, 2, []float64{
			-v*math.Cos(x[0]) - 1, 0,
			0, 1 - v*math.Sin(x[1]),
		})
		b := mat.NewDense(2, 1, []float64{-math.Sin(x[0]), math.Cos(x[1])})
		return a, b
	}
}

func (s *ThreeModeSystem) Clone() oc.Dynamics {
	return &ThreeModeSystem{mode: s.mode}
}

// SwitchedBenchmark bundles the three-mode problem on the horizon
// [0, 3] with switches at t = 1 and t = 2, tracking the set point
// (1, -1) from the initial state (2, 3).
type SwitchedBenchmark struct {
	Dynamics        *ThreeModeSystem
	Cost            *QuadraticCost
	Constraints     NoConstraints
	OperatingPoints *StaticOperatingPoints
	ModeSchedule    oc.ModeSchedule

	InitTime       float64
	FinalTime      float64
	InitState      oc.State
	PartitionTimes []float64
}

func NewSwitchedBenchmark() *SwitchedBenchmark {
	return &SwitchedBenchmark{
		Dynamics: NewThreeModeSystem(),
		Cost: &QuadraticCost{
			Q:    mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
			R:    mat.NewDense(1, 1, []float64{1}),
			Qf:   mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
			XRef: []float64{1, -1},
		},
		OperatingPoints: &StaticOperatingPoints{U: oc.Input{0}, Dt: 0.1},
		ModeSchedule: oc.ModeSchedule{
			EventTimes:   []float64{1.0, 2.0},
			ModeSequence: []int{0, 1, 2},
		},
		InitTime:       0.0,
		FinalTime:      3.0,
		InitState:      oc.State{2.0, 3.0},
		PartitionTimes: []float64{0.0, 1.0, 2.0, 3.0},
	}
}
