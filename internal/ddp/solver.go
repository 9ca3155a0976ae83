package ddp

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/trajopt/internal/integrators"
	"github.com/san-kum/trajopt/internal/lq"
	"github.com/san-kum/trajopt/internal/oc"
	"github.com/san-kum/trajopt/internal/riccati"
	"github.com/san-kum/trajopt/internal/rollout"
)

// Problem bundles the providers defining one optimal control problem.
// The solver clones each provider per worker; providers must not share
// mutable state across clones.
type Problem struct {
	Dynamics        oc.Dynamics
	Cost            oc.Cost
	Constraints     oc.Constraints
	OperatingPoints oc.OperatingPoints
	ModeSchedule    oc.ModeSchedule
}

// IterationLog records one iteration's outcome for display and
// convergence analysis.
type IterationLog struct {
	Iteration         int
	Merit             float64
	Cost              float64
	ConstraintISE     float64
	StepSize          float64
	ControllerUpdate  float64
	ApproximationTime time.Duration
	BackwardTime      time.Duration
	SearchTime        time.Duration
}

// Solver runs differential dynamic programming over a partitioned time
// horizon. A Solver is reusable across warm-started solves but not safe
// for concurrent use.
type Solver struct {
	settings Settings
	prob     Problem
	n, m     int

	// worker stocks, index 0..NumThreads-1
	rollouts      []*rollout.Engine
	approximators []*lq.Approximator
	evaluators    []*evaluator
	riccatis      []*riccati.Solver
	barrier       *lq.RelaxedBarrier

	// horizon
	initTime, finalTime float64
	initState           oc.State
	partitionTimes      []float64
	numPartitions       int

	// per-partition solution data
	nominal     []*oc.Trajectory
	cached      []*oc.Trajectory
	controllers []*oc.LinearController
	cachedCtrls []*oc.LinearController
	modelData   [][]*lq.ModelData
	eventData   [][]*lq.EventData
	valueFns    []*riccati.ValueFunction
	boundaries  []riccati.Boundary
	haveBounds  bool

	iteration    int
	rewindCount  int
	penaltyRho   float64
	nominalPerf  Performance
	prevMerit    float64
	stepSize     float64
	ctrlUpdate   float64
	iterationLog []IterationLog
	solved       bool
}

// NewSolver validates the settings and builds the per-worker provider
// stocks.
func NewSolver(prob Problem, settings Settings) (*Solver, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if prob.Dynamics == nil || prob.Cost == nil || prob.Constraints == nil || prob.OperatingPoints == nil {
		return nil, fmt.Errorf("problem providers must all be set: %w", oc.ErrBadConfig)
	}
	if len(prob.ModeSchedule.ModeSequence) != len(prob.ModeSchedule.EventTimes)+1 {
		return nil, fmt.Errorf("mode sequence length %d does not match %d event times: %w",
			len(prob.ModeSchedule.ModeSequence), len(prob.ModeSchedule.EventTimes), oc.ErrBadConfig)
	}

	s := &Solver{
		settings: settings,
		prob:     prob,
		n:        prob.Dynamics.StateDim(),
		m:        prob.Dynamics.InputDim(),
	}

	s.barrier = lq.NewRelaxedBarrier(settings.InequalityMu, settings.InequalityDelta)
	integ, err := integrators.ByName(settings.Integrator)
	if err != nil {
		return nil, err
	}
	base := rollout.New(prob.Dynamics, prob.OperatingPoints, integ, settings.RolloutDt)
	baseApprox := lq.NewApproximator(prob.Dynamics, prob.Cost, prob.Constraints,
		settings.UsePSD, settings.AddedRiccatiDiagonal)
	baseEval := newEvaluator(prob.Cost, prob.Constraints, s.barrier)

	for w := 0; w < settings.NumThreads; w++ {
		s.rollouts = append(s.rollouts, base.Clone())
		s.approximators = append(s.approximators, baseApprox.Clone())
		s.evaluators = append(s.evaluators, baseEval.clone())
		s.riccatis = append(s.riccatis, riccati.NewSolver(s.n, s.m, settings.RiccatiSubsteps))
	}
	return s, nil
}

// Run solves the problem over [initTime, finalTime] split at
// partitionTimes (which must bracket the horizon). initControllers, if
// non-nil, warm-starts the first rollout with one controller per
// partition.
func (s *Solver) Run(ctx context.Context, initTime float64, initState oc.State, finalTime float64, partitionTimes []float64, initControllers []*oc.LinearController) error {
	if len(partitionTimes) < 2 {
		return fmt.Errorf("need at least two partition times: %w", oc.ErrBadConfig)
	}
	for i := 0; i+1 < len(partitionTimes); i++ {
		if partitionTimes[i+1] <= partitionTimes[i] {
			return fmt.Errorf("partition times must be strictly increasing: %w", oc.ErrBadConfig)
		}
	}
	if initTime < partitionTimes[0] || finalTime > partitionTimes[len(partitionTimes)-1] {
		return fmt.Errorf("horizon [%.3f, %.3f] outside partition range [%.3f, %.3f]: %w",
			initTime, finalTime, partitionTimes[0], partitionTimes[len(partitionTimes)-1], oc.ErrBadConfig)
	}
	if len(initState) != s.n {
		return fmt.Errorf("initial state dim %d, want %d: %w", len(initState), s.n, oc.ErrDimensionMismatch)
	}
	if !initState.IsValid() {
		return fmt.Errorf("initial state is not finite: %w", oc.ErrBadConfig)
	}

	s.initTime = initTime
	s.finalTime = finalTime
	s.initState = initState.Clone()
	s.partitionTimes = append([]float64(nil), partitionTimes...)
	s.numPartitions = len(partitionTimes) - 1
	s.allocatePartitions()

	if initControllers != nil {
		if len(initControllers) != s.numPartitions {
			return fmt.Errorf("%d initial controllers for %d partitions: %w",
				len(initControllers), s.numPartitions, oc.ErrBadConfig)
		}
		for i, c := range initControllers {
			if c != nil {
				s.controllers[i] = c.Clone()
			}
		}
	}

	if err := s.runInit(ctx); err != nil {
		return err
	}

	s.display("init", s.nominalPerf, 0)

	for s.iteration = 1; s.iteration <= s.settings.MaxIterations; s.iteration++ {
		converged, err := s.runIteration(ctx)
		if err != nil {
			return err
		}
		if converged {
			break
		}
	}

	s.solved = true
	return nil
}

func (s *Solver) allocatePartitions() {
	p := s.numPartitions
	s.nominal = make([]*oc.Trajectory, p)
	s.cached = make([]*oc.Trajectory, p)
	s.controllers = make([]*oc.LinearController, p)
	s.cachedCtrls = make([]*oc.LinearController, p)
	s.modelData = make([][]*lq.ModelData, p)
	s.eventData = make([][]*lq.EventData, p)
	s.valueFns = make([]*riccati.ValueFunction, p)
	s.boundaries = make([]riccati.Boundary, p)
	for i := 0; i < p; i++ {
		s.nominal[i] = &oc.Trajectory{}
		s.cached[i] = &oc.Trajectory{}
		s.controllers[i] = &oc.LinearController{}
		s.cachedCtrls[i] = &oc.LinearController{}
	}
	s.haveBounds = false
	s.iterationLog = s.iterationLog[:0]
	s.iteration = 0
	s.solved = false
}

// runInit performs the first forward pass with the warm-start
// controllers (or the operating trajectory), and measures its
// performance. A failure here is fatal since there is no fallback
// iterate.
func (s *Solver) runInit(ctx context.Context) error {
	s.penaltyRho = s.settings.ConstraintPenaltyCoeff

	trajs, perf, err := s.rolloutAll(ctx, 0, s.controllers)
	if err != nil {
		return fmt.Errorf("initial rollout: %w", err)
	}
	perf.computeMerit(s.penaltyRho)
	if !isFiniteMerit(perf.Merit) {
		return fmt.Errorf("initial rollout merit is not finite: %w", oc.ErrDiverged)
	}

	s.nominal = trajs
	s.nominalPerf = perf
	s.prevMerit = perf.Merit
	s.stepSize = 0
	return nil
}

// runIteration runs one approximate / backward / search cycle and
// reports whether the convergence criteria are met.
func (s *Solver) runIteration(ctx context.Context) (bool, error) {
	s.penaltyRho = s.settings.ConstraintPenaltyCoeff *
		math.Pow(s.settings.ConstraintPenaltyBase, float64(s.iteration-1))

	tApprox := time.Now()
	if err := s.approximateProblem(ctx); err != nil {
		return false, fmt.Errorf("iteration %d approximation: %w", s.iteration, err)
	}
	dApprox := time.Since(tApprox)

	tBack := time.Now()
	if err := s.backwardPass(ctx); err != nil {
		return false, fmt.Errorf("iteration %d backward pass: %w", s.iteration, err)
	}
	if err := s.computeController(ctx); err != nil {
		return false, fmt.Errorf("iteration %d controller update: %w", s.iteration, err)
	}
	dBack := time.Since(tBack)

	tSearch := time.Now()
	prevPerf := s.nominalPerf
	if err := s.lineSearch(ctx); err != nil {
		return false, fmt.Errorf("iteration %d line search: %w", s.iteration, err)
	}
	dSearch := time.Since(tSearch)

	log := IterationLog{
		Iteration:         s.iteration,
		Merit:             s.nominalPerf.Merit,
		Cost:              s.nominalPerf.TotalCost,
		ConstraintISE:     s.nominalPerf.ConstraintISE(),
		StepSize:          s.stepSize,
		ControllerUpdate:  s.ctrlUpdate,
		ApproximationTime: dApprox,
		BackwardTime:      dBack,
		SearchTime:        dSearch,
	}
	s.iterationLog = append(s.iterationLog, log)
	s.display(fmt.Sprintf("iter %d", s.iteration), s.nominalPerf, s.stepSize)

	relCost := math.Abs(s.nominalPerf.Merit - prevPerf.Merit)
	s.prevMerit = prevPerf.Merit

	costConverged := relCost <= s.settings.MinRelCost || s.stepSize == 0
	ise := s.nominalPerf.ConstraintISE()
	prevISE := prevPerf.ConstraintISE()
	relISE := math.Abs(ise - prevISE)
	constraintsOK := ise <= s.settings.MinAbsConstraintISE || relISE <= s.settings.MinRelConstraintISE

	return costConverged && constraintsOK, nil
}

// rolloutAll integrates the full horizon partition by partition with the
// given controllers, chaining final states, and measures the result.
func (s *Solver) rolloutAll(ctx context.Context, worker int, ctrls []*oc.LinearController) ([]*oc.Trajectory, Performance, error) {
	trajs := make([]*oc.Trajectory, s.numPartitions)
	var perf Performance

	x := s.initState.Clone()
	for i := 0; i < s.numPartitions; i++ {
		t0 := math.Max(s.partitionTimes[i], s.initTime)
		tf := math.Min(s.partitionTimes[i+1], s.finalTime)
		if tf <= t0 {
			trajs[i] = &oc.Trajectory{}
			continue
		}

		traj, xf, err := s.rolloutPartition(ctx, worker, t0, x, tf, ctrls[i])
		if err != nil {
			return nil, perf, err
		}
		trajs[i] = traj
		perf.add(s.evaluators[worker].trajectory(traj))
		x = xf
	}

	perf.add(s.evaluators[worker].terminal(s.finalTime, x))
	return trajs, perf, nil
}

// rolloutPartition runs one partition. Where the controller's time stamp
// ends before the partition does, coverage extends to the first event
// past the last stamp and the remainder follows the operating
// trajectory, resuming from the post-jump state when the hand-off sits
// on an event.
func (s *Solver) rolloutPartition(ctx context.Context, worker int, t0 float64, x0 oc.State, tf float64, ctrl *oc.LinearController) (*oc.Trajectory, oc.State, error) {
	eng := s.rollouts[worker]

	if ctrl.Empty() {
		traj, xf, err := eng.RunOperating(ctx, t0, x0, tf, s.prob.ModeSchedule)
		return &traj, xf, err
	}

	cover := ctrl.TimeStamp[len(ctrl.TimeStamp)-1]
	if cover >= tf-1e-9 {
		traj, xf, err := eng.RunController(ctx, t0, x0, tf, ctrl, s.prob.ModeSchedule)
		return &traj, xf, err
	}

	// extend coverage to the first event past the last stamp; the engine
	// applies the jump map at the hand-off before the operating tail
	till := tf
	for _, te := range s.prob.ModeSchedule.EventTimes {
		if te > cover+1e-9 {
			till = math.Min(till, te)
			break
		}
	}

	traj, xf, err := eng.RunWithTail(ctx, t0, x0, till, tf, ctrl, s.prob.ModeSchedule)
	if err != nil {
		return nil, nil, err
	}
	return &traj, xf, nil
}

func (s *Solver) display(label string, p Performance, alpha float64) {
	if !s.settings.DisplayInfo {
		return
	}
	fmt.Fprintf(s.settings.Writer,
		"[%s] merit=%.6e cost=%.6e eqISE=%.3e ineq=%.3e alpha=%.3f\n",
		label, p.Merit, p.TotalCost, p.ConstraintISE(), p.InequalityPenalty, alpha)
}

// Solved reports whether Run has completed since the last Reset.
func (s *Solver) Solved() bool { return s.solved }

// GetPerformanceIndices returns the performance of the current nominal
// trajectory.
func (s *Solver) GetPerformanceIndices() Performance { return s.nominalPerf }

// GetIterationsLog returns the per-iteration records of the last solve.
func (s *Solver) GetIterationsLog() []IterationLog {
	return append([]IterationLog(nil), s.iterationLog...)
}

// NumIterations returns how many iterations the last solve ran.
func (s *Solver) NumIterations() int { return s.iteration }

// FinalTime returns the end of the solve horizon.
func (s *Solver) FinalTime() float64 { return s.finalTime }

// PartitionTimes returns the partition boundaries of the last solve.
func (s *Solver) PartitionTimes() []float64 {
	return append([]float64(nil), s.partitionTimes...)
}

// GetValueFunction evaluates the quadratic value-function approximation
// at (t, x), expanding around the nominal state there.
func (s *Solver) GetValueFunction(t float64, x oc.State) (float64, error) {
	b, dx, err := s.valueAt(t, x)
	if err != nil {
		return 0, err
	}
	v := b.S
	dxVec := mat.NewVecDense(s.n, dx)
	var smDx mat.VecDense
	smDx.MulVec(b.Sm, dxVec)
	for i := 0; i < s.n; i++ {
		v += (b.Sv[i]+b.Sve[i])*dx[i] + 0.5*dx[i]*smDx.AtVec(i)
	}
	return v, nil
}

// GetValueFunctionStateDerivative evaluates dV/dx at (t, x).
func (s *Solver) GetValueFunctionStateDerivative(t float64, x oc.State) ([]float64, error) {
	b, dx, err := s.valueAt(t, x)
	if err != nil {
		return nil, err
	}
	dxVec := mat.NewVecDense(s.n, dx)
	var smDx mat.VecDense
	smDx.MulVec(b.Sm, dxVec)
	out := make([]float64, s.n)
	for i := 0; i < s.n; i++ {
		out[i] = b.Sv[i] + b.Sve[i] + smDx.AtVec(i)
	}
	return out, nil
}

func (s *Solver) valueAt(t float64, x oc.State) (riccati.Boundary, []float64, error) {
	if !s.solved {
		return riccati.Boundary{}, nil, oc.ErrNotSolved
	}
	if len(x) != s.n {
		return riccati.Boundary{}, nil, fmt.Errorf("state dim %d, want %d: %w",
			len(x), s.n, oc.ErrDimensionMismatch)
	}
	i := oc.FindActivePartition(s.partitionTimes, t)
	vf := s.valueFns[i]
	if vf == nil || vf.Len() == 0 {
		return riccati.Boundary{}, nil, fmt.Errorf("no value function in partition %d: %w", i, oc.ErrNotSolved)
	}
	b := vf.At(t)

	xNom := s.nominal[i].StateAt(t)
	dx := make([]float64, s.n)
	for j := 0; j < s.n; j++ {
		dx[j] = x[j] - xNom[j]
	}
	return b, dx, nil
}

// PrimalSolution is the stitched optimal trajectory and its policy.
type PrimalSolution struct {
	Trajectory oc.Trajectory
	Policy     oc.Controller
}

// GetPrimalSolution returns the solution up to uptoTime. With
// UseFeedbackPolicy the policy is the stitched affine law; otherwise it
// replays the open-loop input trajectory.
func (s *Solver) GetPrimalSolution(uptoTime float64) (*PrimalSolution, error) {
	if !s.solved {
		return nil, oc.ErrNotSolved
	}
	sol := &PrimalSolution{}

	for i := 0; i < s.numPartitions; i++ {
		traj := s.nominal[i]
		base := sol.Trajectory.Len()
		appended := 0
		for k := 0; k < traj.Len(); k++ {
			if traj.Times[k] > uptoTime {
				break
			}
			sol.Trajectory.Times = append(sol.Trajectory.Times, traj.Times[k])
			sol.Trajectory.States = append(sol.Trajectory.States, traj.States[k].Clone())
			sol.Trajectory.Inputs = append(sol.Trajectory.Inputs, traj.Inputs[k].Clone())
			appended++
		}
		for _, pe := range traj.PostEventIndices {
			if pe < appended {
				sol.Trajectory.PostEventIndices = append(sol.Trajectory.PostEventIndices, base+pe)
			}
		}
	}

	if s.settings.UseFeedbackPolicy {
		stitched := &oc.LinearController{}
		for i := 0; i < s.numPartitions; i++ {
			c := s.controllers[i]
			for k := 0; k < len(c.TimeStamp); k++ {
				if c.TimeStamp[k] > uptoTime {
					break
				}
				stitched.Concatenate(c, k, k+1)
			}
		}
		sol.Policy = stitched
	} else {
		ff := &oc.FeedforwardController{
			Times:  append([]float64(nil), sol.Trajectory.Times...),
			Inputs: make([]oc.Input, sol.Trajectory.Len()),
		}
		for k := range ff.Inputs {
			ff.Inputs[k] = sol.Trajectory.Inputs[k].Clone()
		}
		sol.Policy = ff
	}
	return sol, nil
}

// Reset clears all solution data while keeping the worker stocks.
func (s *Solver) Reset() {
	s.numPartitions = 0
	s.nominal = nil
	s.cached = nil
	s.controllers = nil
	s.cachedCtrls = nil
	s.modelData = nil
	s.eventData = nil
	s.valueFns = nil
	s.boundaries = nil
	s.haveBounds = false
	s.iterationLog = nil
	s.solved = false
	s.iteration = 0
	s.rewindCount = 0
	s.nominalPerf = Performance{}
}
