package ddp

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/trajopt/internal/lq"
	"github.com/san-kum/trajopt/internal/oc"
	"github.com/san-kum/trajopt/internal/riccati"
)

// sampleJob addresses one nominal sample across the partitioned horizon.
type sampleJob struct {
	partition, sample int
}

// approximateProblem rebuilds the LQ model of every nominal sample and
// every event, with the equality constraints folded in as quadratic
// penalties at the current continuation coefficient.
func (s *Solver) approximateProblem(ctx context.Context) error {
	var jobs []sampleJob
	modes := make([][]int, s.numPartitions)
	for i := 0; i < s.numPartitions; i++ {
		traj := s.nominal[i]
		s.modelData[i] = make([]*lq.ModelData, traj.Len())
		s.eventData[i] = make([]*lq.EventData, len(traj.PostEventIndices))
		modes[i] = sampleModes(traj, s.prob.ModeSchedule)
		for k := 0; k < traj.Len(); k++ {
			jobs = append(jobs, sampleJob{partition: i, sample: k})
		}
	}

	err := parallelFor(ctx, s.settings.NumThreads, len(jobs), func(worker, idx int) error {
		j := jobs[idx]
		traj := s.nominal[j.partition]
		md, err := s.approximators[worker].Intermediate(
			modes[j.partition][j.sample],
			traj.Times[j.sample], traj.States[j.sample], traj.Inputs[j.sample])
		if err != nil {
			return err
		}
		lq.ApplyConstraintPenalty(md, s.penaltyRho, s.barrier)
		s.modelData[j.partition][j.sample] = md
		return nil
	})
	if err != nil {
		return err
	}

	// event approximations at the pre-event states
	var evJobs []sampleJob
	for i := 0; i < s.numPartitions; i++ {
		for j := range s.nominal[i].PostEventIndices {
			evJobs = append(evJobs, sampleJob{partition: i, sample: j})
		}
	}
	return parallelFor(ctx, s.settings.NumThreads, len(evJobs), func(worker, idx int) error {
		j := evJobs[idx]
		traj := s.nominal[j.partition]
		pe := traj.PostEventIndices[j.sample]
		if pe < 1 {
			return fmt.Errorf("post-event index %d has no pre-event sample: %w", pe, oc.ErrDimensionMismatch)
		}
		ed, err := s.approximators[worker].EventTime(traj.Times[pe-1], traj.States[pe-1], s.penaltyRho)
		if err != nil {
			return err
		}
		s.eventData[j.partition][j.sample] = ed
		return nil
	})
}

// sampleModes assigns each trajectory sample its active hybrid mode.
// Pre-event samples keep the pre-switch mode even though they share the
// event timestamp with the post-switch sample.
func sampleModes(traj *oc.Trajectory, schedule oc.ModeSchedule) []int {
	modes := make([]int, traj.Len())
	if traj.Len() == 0 {
		return modes
	}
	mode := schedule.ModeAtTime(traj.Times[0])
	next := 0
	for k := 0; k < traj.Len(); k++ {
		if next < len(traj.PostEventIndices) && k == traj.PostEventIndices[next] {
			mode = schedule.ModeAtTime(traj.Times[k])
			next++
		}
		modes[k] = mode
	}
	return modes
}

// terminalBoundary builds the value function at the horizon end from the
// quadratic final-cost approximation (with final equality constraints
// penalized).
func (s *Solver) terminalBoundary() (riccati.Boundary, error) {
	xf := s.finalNominalState()
	ed, err := s.approximators[0].EventTime(s.finalTime, xf, s.penaltyRho)
	if err != nil {
		return riccati.Boundary{}, err
	}
	b := riccati.ZeroBoundary(s.n)
	b.Sm.CloneFrom(ed.Qm)
	copy(b.Sv, ed.Qv)
	b.S = ed.Q
	return b, nil
}

func (s *Solver) finalNominalState() oc.State {
	for i := s.numPartitions - 1; i >= 0; i-- {
		if n := s.nominal[i].Len(); n > 0 {
			return s.nominal[i].States[n-1]
		}
	}
	return s.initState
}

// backwardPass solves the Riccati recursion over all partitions. The
// first pass runs sequentially so partition boundaries are exact; once
// boundary estimates exist and parallel solves are enabled, partitions
// solve concurrently from the previous iteration's boundaries, and the
// fresh boundaries are published only after all workers join.
func (s *Solver) backwardPass(ctx context.Context) error {
	heur, err := s.terminalBoundary()
	if err != nil {
		return err
	}

	parallel := s.settings.UseParallelRiccati &&
		s.iteration >= s.settings.UseParallelRiccatiFromItr &&
		s.haveBounds && s.numPartitions > 1

	if !parallel {
		terminal := heur
		for i := s.numPartitions - 1; i >= 0; i-- {
			traj := s.nominal[i]
			vf, start, err := s.riccatis[0].SolvePartition(
				traj.Times, traj.PostEventIndices, s.modelData[i], s.eventData[i], terminal)
			if err != nil {
				return fmt.Errorf("partition %d: %w", i, err)
			}
			s.valueFns[i] = vf
			s.boundaries[i] = start
			terminal = start
		}
		s.haveBounds = true
		return nil
	}

	// stale terminals: last partition uses the fresh heuristics, earlier
	// ones the previous iteration's start boundaries
	terminals := make([]riccati.Boundary, s.numPartitions)
	fresh := make([]riccati.Boundary, s.numPartitions)
	terminals[s.numPartitions-1] = heur
	for i := 0; i < s.numPartitions-1; i++ {
		terminals[i] = s.boundaries[i+1].Clone()
	}

	err = parallelFor(ctx, s.settings.NumThreads, s.numPartitions, func(worker, i int) error {
		traj := s.nominal[i]
		vf, start, err := s.riccatis[worker].SolvePartition(
			traj.Times, traj.PostEventIndices, s.modelData[i], s.eventData[i], terminals[i])
		if err != nil {
			return fmt.Errorf("partition %d: %w", i, err)
		}
		s.valueFns[i] = vf
		fresh[i] = start
		return nil
	})
	if err != nil {
		return err
	}
	copy(s.boundaries, fresh)
	return nil
}

// computeController synthesizes the affine law on every nominal sample
// from the LQ model and the value function, and records the largest
// feedforward increment norm as the controller update measure.
func (s *Solver) computeController(ctx context.Context) error {
	newCtrls := make([]*oc.LinearController, s.numPartitions)

	for i := 0; i < s.numPartitions; i++ {
		traj := s.nominal[i]
		newCtrls[i] = &oc.LinearController{
			TimeStamp: append([]float64(nil), traj.Times...),
			Gain:      make([]*mat.Dense, traj.Len()),
			Bias:      make([]oc.Input, traj.Len()),
			DeltaBias: make([]oc.Input, traj.Len()),
		}
	}

	var jobs []sampleJob
	for i := 0; i < s.numPartitions; i++ {
		for k := 0; k < s.nominal[i].Len(); k++ {
			jobs = append(jobs, sampleJob{partition: i, sample: k})
		}
	}

	var mu maxTracker
	err := parallelFor(ctx, s.settings.NumThreads, len(jobs), func(worker, idx int) error {
		j := jobs[idx]
		traj := s.nominal[j.partition]
		vf := s.valueFns[j.partition]
		b := riccati.Boundary{
			Sm:  vf.Sm[j.sample],
			Sv:  vf.Sv[j.sample],
			Sve: vf.Sve[j.sample],
			S:   vf.S[j.sample],
		}
		k, bias, deltaBias, err := riccati.Gains(
			s.modelData[j.partition][j.sample], b,
			traj.States[j.sample], traj.Inputs[j.sample])
		if err != nil {
			return err
		}
		c := newCtrls[j.partition]
		c.Gain[j.sample] = k
		c.Bias[j.sample] = bias
		c.DeltaBias[j.sample] = deltaBias
		mu.update(deltaBias.Norm())
		return nil
	})
	if err != nil {
		return err
	}

	s.cachedCtrls = s.controllers
	s.controllers = newCtrls
	s.ctrlUpdate = mu.value()
	return nil
}

// maxTracker keeps a concurrent running maximum.
type maxTracker struct {
	mu  sync.Mutex
	max float64
}

func (m *maxTracker) update(v float64) {
	m.mu.Lock()
	if v > m.max {
		m.max = v
	}
	m.mu.Unlock()
}

func (m *maxTracker) value() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.max
}
