package ddp

import (
	"math"
	"testing"

	"github.com/san-kum/trajopt/internal/oc"
)

func lineTrajectory(times ...float64) *oc.Trajectory {
	tr := &oc.Trajectory{}
	for _, t := range times {
		tr.Times = append(tr.Times, t)
		tr.States = append(tr.States, oc.State{t})
		tr.Inputs = append(tr.Inputs, oc.Input{0})
	}
	return tr
}

func TestCorrectCachedTailAdoptsNominalWhenEmpty(t *testing.T) {
	nominal := lineTrajectory(0, 1, 2)
	got := correctCachedTail(&oc.Trajectory{}, nominal)
	if got.Len() != 3 {
		t.Fatalf("len = %d, want 3", got.Len())
	}
	if got.Times[2] != 2 {
		t.Errorf("last time = %v, want 2", got.Times[2])
	}
}

func TestCorrectCachedTailBridgesAndAppends(t *testing.T) {
	cached := lineTrajectory(0, 0.5, 1.0)
	nominal := lineTrajectory(0.8, 1.2, 1.6, 2.0)

	got := correctCachedTail(cached, nominal)

	// cached head (3) + bridge at 1.0 + strictly-later tail (1.2, 1.6, 2.0)
	if got.Len() != 7 {
		t.Fatalf("len = %d, want 7", got.Len())
	}
	if got.Times[3] != 1.0 {
		t.Errorf("bridge time = %v, want 1.0", got.Times[3])
	}
	// bridge state interpolates the nominal, not the cache
	if math.Abs(float64(got.States[3][0])-1.0) > 1e-12 {
		t.Errorf("bridge state = %v, want 1.0", got.States[3][0])
	}
	for k := 0; k+1 < got.Len(); k++ {
		if got.Times[k+1] < got.Times[k] {
			t.Fatalf("times not monotone at %d", k)
		}
	}
	if got.Times[got.Len()-1] != 2.0 {
		t.Errorf("tail end = %v, want 2.0", got.Times[got.Len()-1])
	}
}

func TestCorrectCachedTailShiftsEventIndices(t *testing.T) {
	cached := lineTrajectory(0, 0.5)
	nominal := lineTrajectory(0.5, 1.0, 1.0, 1.5)
	nominal.PostEventIndices = []int{2}

	got := correctCachedTail(cached, nominal)
	if len(got.PostEventIndices) != 1 {
		t.Fatalf("post-event indices = %v, want one entry", got.PostEventIndices)
	}
	pe := got.PostEventIndices[0]
	if got.Times[pe] != got.Times[pe-1] {
		t.Errorf("shifted event index %d does not sit on a repeated timestamp", pe)
	}
}

func TestCorrectCachedTailKeepsNewerCache(t *testing.T) {
	cached := lineTrajectory(0, 1, 2, 3)
	nominal := lineTrajectory(0, 1, 2)
	got := correctCachedTail(cached, nominal)
	if got.Len() != 4 {
		t.Fatalf("len = %d, want cache kept intact", got.Len())
	}
}

func TestRewindOptimizer(t *testing.T) {
	s := &Solver{n: 1, numPartitions: 3}
	s.allocatePartitions()

	s.nominal[0] = lineTrajectory(0, 1)
	s.nominal[1] = lineTrajectory(1, 2)
	s.nominal[2] = lineTrajectory(2, 3)
	s.controllers[1] = &oc.LinearController{TimeStamp: []float64{1, 2}}
	s.haveBounds = true

	s.RewindOptimizer(1)

	if s.nominal[0].Times[0] != 1 {
		t.Errorf("partition 0 should hold the former partition 1")
	}
	if len(s.controllers[0].TimeStamp) != 2 {
		t.Errorf("controller 0 should hold the former controller 1")
	}
	if !s.nominal[2].Empty() {
		t.Errorf("freed tail partition should be empty")
	}
	if !s.controllers[2].Empty() {
		t.Errorf("freed tail controller should be empty")
	}
	if s.haveBounds {
		t.Errorf("boundary estimates must be invalidated after a rewind")
	}
	if s.RewindCounter() != 1 {
		t.Errorf("rewind counter = %d, want 1", s.RewindCounter())
	}
}
