package ddp

import (
	"github.com/san-kum/trajopt/internal/oc"
	"github.com/san-kum/trajopt/internal/riccati"
)

// GetCachedTrajectory returns the previous iterate of one partition, for
// inspection and warm-start bookkeeping.
func (s *Solver) GetCachedTrajectory(partition int) *oc.Trajectory {
	if partition < 0 || partition >= len(s.cached) {
		return &oc.Trajectory{}
	}
	return s.cached[partition]
}

// correctCachedTail reconciles a cached partition trajectory with the
// fresh nominal one: the cached head is kept, a bridge sample
// interpolated from the nominal closes the gap at the cached end time,
// and the strictly-later nominal tail is appended with its event markers
// re-indexed. An empty cache adopts the nominal wholesale.
func correctCachedTail(cached, nominal *oc.Trajectory) *oc.Trajectory {
	if nominal.Empty() {
		c := cached.Clone()
		return &c
	}
	if cached.Empty() {
		c := nominal.Clone()
		return &c
	}

	out := cached.Clone()
	boundary := cached.Times[cached.Len()-1]
	if boundary >= nominal.Times[nominal.Len()-1] {
		return &out
	}

	// bridge sample on the nominal at the cached end time
	if boundary > nominal.Times[0] {
		out.Times = append(out.Times, boundary)
		out.States = append(out.States, nominal.StateAt(boundary))
		out.Inputs = append(out.Inputs, nominal.InputAt(boundary))
	}

	base := out.Len()
	skipped := 0
	for k := 0; k < nominal.Len(); k++ {
		if nominal.Times[k] <= boundary {
			skipped++
			continue
		}
		out.Times = append(out.Times, nominal.Times[k])
		out.States = append(out.States, nominal.States[k].Clone())
		out.Inputs = append(out.Inputs, nominal.Inputs[k].Clone())
	}
	for _, pe := range nominal.PostEventIndices {
		if pe >= skipped {
			out.PostEventIndices = append(out.PostEventIndices, base+pe-skipped)
		}
	}
	return &out
}

// CorrectCachedTrajectories reconciles every cached partition with the
// current nominal solution. Within one Run the cached and nominal
// iterates share a time grid, so the correction is a no-op there; a
// receding-horizon driver calls it after RewindOptimizer or a
// mode-schedule change, before the next Run, so the warm-start iterate
// stays continuous.
func (s *Solver) CorrectCachedTrajectories() {
	for i := 0; i < s.numPartitions; i++ {
		s.cached[i] = correctCachedTail(s.cached[i], s.nominal[i])
	}
}

// RewindOptimizer shifts the per-partition solver stocks left by count
// partitions, as the receding horizon moves forward. The freed tail
// partitions restart from empty controllers and zero value-function
// boundaries.
func (s *Solver) RewindOptimizer(count int) {
	if count <= 0 || s.numPartitions == 0 {
		return
	}
	if count > s.numPartitions {
		count = s.numPartitions
	}
	p := s.numPartitions

	for i := 0; i < p; i++ {
		if i+count < p {
			s.controllers[i] = s.controllers[i+count]
			s.cachedCtrls[i] = s.cachedCtrls[i+count]
			s.boundaries[i] = s.boundaries[i+count]
			s.nominal[i] = s.nominal[i+count]
			s.cached[i] = s.cached[i+count]
		} else {
			s.controllers[i] = &oc.LinearController{}
			s.cachedCtrls[i] = &oc.LinearController{}
			s.boundaries[i] = riccati.ZeroBoundary(s.n)
			s.nominal[i] = &oc.Trajectory{}
			s.cached[i] = &oc.Trajectory{}
		}
	}
	// boundary estimates no longer align with the shifted horizon
	s.haveBounds = false
	s.solved = false
	s.rewindCount++
}

// RewindCounter returns how many times the horizon has been rewound
// since the last Reset.
func (s *Solver) RewindCounter() int { return s.rewindCount }
