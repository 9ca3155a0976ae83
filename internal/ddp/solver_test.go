package ddp

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/trajopt/internal/oc"
	"github.com/san-kum/trajopt/internal/problems"
)

// scalarLQRProblem is dx/dt = u with cost ½∫(x² + u²) and terminal
// weight 1. Over a long horizon the Riccati solution is the constant
// S = 1, so the optimal cost from x0 is ½ x0².
func scalarLQRProblem() Problem {
	return Problem{
		Dynamics: problems.NewLTI(
			mat.NewDense(1, 1, []float64{0}),
			mat.NewDense(1, 1, []float64{1})),
		Cost: &problems.QuadraticCost{
			Q:  mat.NewDense(1, 1, []float64{1}),
			R:  mat.NewDense(1, 1, []float64{1}),
			Qf: mat.NewDense(1, 1, []float64{1}),
		},
		Constraints:     problems.NoConstraints{},
		OperatingPoints: &problems.StaticOperatingPoints{U: oc.Input{0}, Dt: 0.05},
		ModeSchedule:    oc.ModeSchedule{ModeSequence: []int{0}},
	}
}

func TestSolverLQRClosedForm(t *testing.T) {
	settings := DefaultSettings()
	settings.NumThreads = 2
	settings.RolloutDt = 0.01

	s, err := NewSolver(scalarLQRProblem(), settings)
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	x0 := oc.State{2.0}
	if err := s.Run(context.Background(), 0, x0, 10.0, []float64{0, 5, 10}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !s.Solved() {
		t.Fatal("solver did not mark the problem solved")
	}

	perf := s.GetPerformanceIndices()
	want := 0.5 * x0[0] * x0[0]
	if math.Abs(perf.TotalCost-want) > 0.02 {
		t.Errorf("optimal cost = %.5f, want %.5f", perf.TotalCost, want)
	}

	v, err := s.GetValueFunction(0, x0)
	if err != nil {
		t.Fatalf("GetValueFunction: %v", err)
	}
	if math.Abs(v-want) > 0.05 {
		t.Errorf("value function at start = %.5f, want %.5f", v, want)
	}

	dv, err := s.GetValueFunctionStateDerivative(0, x0)
	if err != nil {
		t.Fatalf("GetValueFunctionStateDerivative: %v", err)
	}
	// dV/dx = S·x0 with S ≈ 1
	if math.Abs(dv[0]-x0[0]) > 0.1 {
		t.Errorf("value gradient = %.4f, want about %.4f", dv[0], x0[0])
	}
}

func TestSolverCostDecreasesOnSwitchedBenchmark(t *testing.T) {
	b := problems.NewSwitchedBenchmark()
	settings := DefaultSettings()
	settings.NumThreads = 3
	settings.MaxIterations = 10
	settings.RolloutDt = 0.01

	s, err := NewSolver(Problem{
		Dynamics:        b.Dynamics,
		Cost:            b.Cost,
		Constraints:     b.Constraints,
		OperatingPoints: b.OperatingPoints,
		ModeSchedule:    b.ModeSchedule,
	}, settings)
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	if err := s.Run(context.Background(), b.InitTime, b.InitState, b.FinalTime, b.PartitionTimes, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	logs := s.GetIterationsLog()
	if len(logs) == 0 {
		t.Fatal("no iteration logs recorded")
	}
	first, last := logs[0], logs[len(logs)-1]
	if last.Merit > first.Merit {
		t.Errorf("merit increased across iterations: %.5f -> %.5f", first.Merit, last.Merit)
	}
	if perf := s.GetPerformanceIndices(); perf.ConstraintISE() > 1e-9 {
		t.Errorf("unconstrained problem reported constraint ISE %g", perf.ConstraintISE())
	}
}

func TestPrimalSolutionTimeOrdering(t *testing.T) {
	b := problems.NewSwitchedBenchmark()
	settings := DefaultSettings()
	settings.NumThreads = 2
	settings.MaxIterations = 3

	s, err := NewSolver(Problem{
		Dynamics:        b.Dynamics,
		Cost:            b.Cost,
		Constraints:     b.Constraints,
		OperatingPoints: b.OperatingPoints,
		ModeSchedule:    b.ModeSchedule,
	}, settings)
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}
	if err := s.Run(context.Background(), b.InitTime, b.InitState, b.FinalTime, b.PartitionTimes, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	sol, err := s.GetPrimalSolution(b.FinalTime)
	if err != nil {
		t.Fatalf("GetPrimalSolution: %v", err)
	}
	if sol.Trajectory.Empty() {
		t.Fatal("empty primal trajectory")
	}
	for k := 0; k+1 < sol.Trajectory.Len(); k++ {
		if sol.Trajectory.Times[k+1] < sol.Trajectory.Times[k] {
			t.Fatalf("times not monotone at %d: %.6f > %.6f",
				k, sol.Trajectory.Times[k], sol.Trajectory.Times[k+1])
		}
	}
	for _, pe := range sol.Trajectory.PostEventIndices {
		if pe < 1 || pe >= sol.Trajectory.Len() {
			t.Fatalf("post-event index %d out of range", pe)
		}
		if sol.Trajectory.Times[pe] != sol.Trajectory.Times[pe-1] {
			t.Errorf("post-event sample %d does not repeat its timestamp", pe)
		}
	}
	if sol.Policy == nil || sol.Policy.Empty() {
		t.Error("expected a non-empty solution policy")
	}
}

func TestSolverRejectsBadInputs(t *testing.T) {
	settings := DefaultSettings()
	s, err := NewSolver(scalarLQRProblem(), settings)
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	ctx := context.Background()
	if err := s.Run(ctx, 0, oc.State{1}, 1, []float64{0}, nil); err == nil {
		t.Error("expected error for single partition time")
	}
	if err := s.Run(ctx, 0, oc.State{1}, 1, []float64{0, 1, 0.5}, nil); err == nil {
		t.Error("expected error for non-increasing partition times")
	}
	if err := s.Run(ctx, -1, oc.State{1}, 1, []float64{0, 1}, nil); err == nil {
		t.Error("expected error for horizon outside partitions")
	}
	if err := s.Run(ctx, 0, oc.State{1, 2}, 1, []float64{0, 1}, nil); err == nil {
		t.Error("expected error for wrong state dimension")
	}
	if err := s.Run(ctx, 0, oc.State{math.NaN()}, 1, []float64{0, 1}, nil); !errors.Is(err, oc.ErrBadConfig) {
		t.Errorf("expected ErrBadConfig for non-finite initial state, got %v", err)
	}
}

// holdAndHalve keeps the state constant between events and halves it at
// every mode switch.
type holdAndHalve struct{}

func (holdAndHalve) StateDim() int { return 1 }
func (holdAndHalve) InputDim() int { return 1 }

func (holdAndHalve) Derive(float64, oc.State, oc.Input) oc.State { return oc.State{0} }

func (holdAndHalve) LinearApproximation(float64, oc.State, oc.Input) (*mat.Dense, *mat.Dense) {
	return mat.NewDense(1, 1, nil), mat.NewDense(1, 1, nil)
}

func (holdAndHalve) Jump(_ float64, x oc.State) oc.State { return oc.State{0.5 * x[0]} }

func (d holdAndHalve) Clone() oc.Dynamics { return d }

// A controller whose coverage ends before the partition does, with the
// next mode switch sitting past the coverage boundary: the rollout must
// carry the jump into the operating tail instead of resuming from the
// pre-jump state.
func TestRolloutPartitionJumpBeyondControllerCoverage(t *testing.T) {
	prob := scalarLQRProblem()
	prob.Dynamics = holdAndHalve{}
	prob.ModeSchedule = oc.ModeSchedule{EventTimes: []float64{1}, ModeSequence: []int{0, 1}}

	s, err := NewSolver(prob, DefaultSettings())
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}

	ctrl := &oc.LinearController{
		TimeStamp: []float64{0, 0.5},
		Gain: []*mat.Dense{
			mat.NewDense(1, 1, nil),
			mat.NewDense(1, 1, nil),
		},
		Bias: []oc.Input{{0}, {0}},
	}

	traj, xf, err := s.rolloutPartition(context.Background(), 0, 0, oc.State{1}, 2, ctrl)
	if err != nil {
		t.Fatalf("rolloutPartition: %v", err)
	}

	if math.Abs(xf[0]-0.5) > 1e-9 {
		t.Errorf("final state = %v, want 0.5", xf[0])
	}
	if len(traj.PostEventIndices) != 1 {
		t.Fatalf("post-event indices = %v, want one", traj.PostEventIndices)
	}
	pe := traj.PostEventIndices[0]
	if math.Abs(traj.Times[pe]-1) > 1e-9 || traj.Times[pe] != traj.Times[pe-1] {
		t.Errorf("event pair at times %v, %v, want both 1", traj.Times[pe-1], traj.Times[pe])
	}
	if pre, post := traj.States[pe-1][0], traj.States[pe][0]; math.Abs(post-0.5*pre) > 1e-12 {
		t.Errorf("jump map not applied: pre %v, post %v", pre, post)
	}
}

// Repeated value-function queries at the same point must return the
// same bits: the solution is read-only after Run.
func TestValueFunctionQueriesAreDeterministic(t *testing.T) {
	settings := DefaultSettings()
	settings.NumThreads = 2
	settings.MaxIterations = 5

	s, err := NewSolver(scalarLQRProblem(), settings)
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}
	if err := s.Run(context.Background(), 0, oc.State{2}, 10, []float64{0, 5, 10}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	x := oc.State{1.5}
	for _, tq := range []float64{0, 2.5, 5, 7.5} {
		v1, err := s.GetValueFunction(tq, x)
		if err != nil {
			t.Fatalf("GetValueFunction(%v): %v", tq, err)
		}
		v2, err := s.GetValueFunction(tq, x)
		if err != nil {
			t.Fatalf("GetValueFunction(%v): %v", tq, err)
		}
		if v1 != v2 {
			t.Errorf("value at t=%v changed between queries: %v vs %v", tq, v1, v2)
		}

		d1, err := s.GetValueFunctionStateDerivative(tq, x)
		if err != nil {
			t.Fatalf("GetValueFunctionStateDerivative(%v): %v", tq, err)
		}
		d2, err := s.GetValueFunctionStateDerivative(tq, x)
		if err != nil {
			t.Fatalf("GetValueFunctionStateDerivative(%v): %v", tq, err)
		}
		for i := range d1 {
			if d1[i] != d2[i] {
				t.Errorf("value gradient at t=%v changed between queries: %v vs %v", tq, d1, d2)
			}
		}
	}
}

func TestSettingsValidate(t *testing.T) {
	s := Settings{}
	if err := s.Validate(); err != nil {
		t.Fatalf("zero settings should validate with defaults: %v", err)
	}
	if s.NumThreads < 1 || s.MaxIterations != DefaultMaxIterations {
		t.Errorf("defaults not applied: threads=%d iters=%d", s.NumThreads, s.MaxIterations)
	}
	if s.Integrator != DefaultIntegrator {
		t.Errorf("integrator default not applied: %q", s.Integrator)
	}

	bad := DefaultSettings()
	bad.Integrator = "adams"
	if err := bad.Validate(); !errors.Is(err, oc.ErrBadConfig) {
		t.Errorf("expected ErrBadConfig for unknown integrator, got %v", err)
	}

	bad = DefaultSettings()
	bad.MinLearningRate = 2.0
	if err := bad.Validate(); err == nil {
		t.Error("expected error when min step exceeds max")
	}

	bad = DefaultSettings()
	bad.ContractionRate = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("expected error for contraction rate above 1")
	}
}

func TestNumAlphaExponents(t *testing.T) {
	s := DefaultSettings()
	s.MaxLearningRate = 1.0
	s.MinLearningRate = 0.05
	s.ContractionRate = 0.5
	// 1.0, 0.5, 0.25, 0.125, 0.0625
	if got := s.numAlphaExponents(); got != 5 {
		t.Errorf("numAlphaExponents = %d, want 5", got)
	}
}

// A state-input equality constraint u + x = 0 handled by the penalty
// continuation: the violation must shrink as the penalty grows across
// iterations.
func TestSolverDrivesConstraintViolationDown(t *testing.T) {
	prob := scalarLQRProblem()
	prob.Constraints = &problems.AffineStateInputConstraint{
		E0: []float64{0},
		Cm: mat.NewDense(1, 1, []float64{1}),
		Dm: mat.NewDense(1, 1, []float64{1}),
	}

	settings := DefaultSettings()
	settings.NumThreads = 2
	settings.MaxIterations = 25
	settings.MinRelCost = 1e-9 // keep iterating so the penalty ramps up
	settings.MinRelConstraintISE = 1e-12

	s, err := NewSolver(prob, settings)
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}
	if err := s.Run(context.Background(), 0, oc.State{2}, 5, []float64{0, 5}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	logs := s.GetIterationsLog()
	if len(logs) < 2 {
		t.Fatalf("expected multiple iterations, got %d", len(logs))
	}
	first, last := logs[0].ConstraintISE, logs[len(logs)-1].ConstraintISE
	if last >= first {
		t.Errorf("constraint ISE did not decrease: %.3e -> %.3e", first, last)
	}
	if last > settings.MinAbsConstraintISE {
		t.Errorf("constraint ISE %.3e not driven below the tolerance %.3e",
			last, settings.MinAbsConstraintISE)
	}
}
