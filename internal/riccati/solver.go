package riccati

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/trajopt/internal/integrators"
	"github.com/san-kum/trajopt/internal/lq"
	"github.com/san-kum/trajopt/internal/oc"
)

// Solver integrates the Riccati equations backward over one partition's
// nominal time grid. One instance per worker; not safe for concurrent
// use.
type Solver struct {
	n, m     int
	integ    *integrators.RK4
	substeps int
}

// NewSolver returns a partition solver for state dimension n and input
// dimension m. substeps is the number of RK4 steps per sample interval.
func NewSolver(n, m, substeps int) *Solver {
	if substeps < 1 {
		substeps = 1
	}
	return &Solver{n: n, m: m, integ: integrators.NewRK4(), substeps: substeps}
}

// Clone returns an independent solver with a fresh integrator scratch,
// for use by a parallel worker.
func (s *Solver) Clone() *Solver {
	return NewSolver(s.n, s.m, s.substeps)
}

// SolvePartition runs the backward pass over one partition. times is the
// partition's nominal grid with repeated timestamps at events,
// postEventIndices marks the post-event samples, md holds the penalized
// LQ model per sample, events holds the event-cost approximations in
// chronological order matching postEventIndices, and terminal is the
// value function at the partition's final time.
//
// It returns the value function on the full grid plus the boundary at
// the partition start, which seeds the preceding partition's solve.
func (s *Solver) SolvePartition(times []float64, postEventIndices []int, md []*lq.ModelData, events []*lq.EventData, terminal Boundary) (*ValueFunction, Boundary, error) {
	nSamples := len(times)
	if nSamples == 0 {
		return &ValueFunction{}, terminal.Clone(), nil
	}
	if len(md) != nSamples {
		return nil, Boundary{}, fmt.Errorf("%d model samples for %d time samples: %w",
			len(md), nSamples, oc.ErrDimensionMismatch)
	}
	if len(events) != len(postEventIndices) {
		return nil, Boundary{}, fmt.Errorf("%d event approximations for %d post-event indices: %w",
			len(events), len(postEventIndices), oc.ErrDimensionMismatch)
	}

	vf := &ValueFunction{
		Times: append([]float64(nil), times...),
		Sm:    make([]*mat.Dense, nSamples),
		Sv:    make([][]float64, nSamples),
		Sve:   make([][]float64, nSamples),
		S:     make([]float64, nSamples),
	}

	o := newODE(s.n, s.m, times, md)
	y := o.pack(terminal)
	s.store(vf, nSamples-1, o.unpack(y))

	evIdx := len(events) - 1
	for k := nSamples - 1; k > 0; k-- {
		tHi, tLo := times[k], times[k-1]

		if evIdx >= 0 && postEventIndices[evIdx] == k {
			// crossing the event backward: fold the event cost into the
			// pre-event value under the repeated timestamp
			b := o.unpack(y)
			applyEventJump(&b, events[evIdx])
			y = o.pack(b)
			s.store(vf, k-1, b)
			evIdx--
			continue
		}

		h := (tLo - tHi) / float64(s.substeps)
		t := tHi
		for i := 0; i < s.substeps; i++ {
			y = s.integ.Step(o, y, nil, t, h)
			t += h
		}
		if !y.IsValid() {
			return nil, Boundary{}, fmt.Errorf("backward pass on [%.4f, %.4f]: %w",
				tLo, tHi, oc.ErrDiverged)
		}
		s.store(vf, k-1, o.unpack(y))
	}

	return vf, o.unpack(y), nil
}

func (s *Solver) store(vf *ValueFunction, k int, b Boundary) {
	vf.Sm[k] = b.Sm
	vf.Sv[k] = b.Sv
	vf.Sve[k] = b.Sve
	vf.S[k] = b.S
}

// applyEventJump adds the event cost approximation to the value function
// when crossing an event time backward.
func applyEventJump(b *Boundary, ed *lq.EventData) {
	b.S += ed.Q
	for i := range b.Sv {
		b.Sv[i] += ed.Qv[i]
	}
	b.Sm.Add(b.Sm, ed.Qm)
}
