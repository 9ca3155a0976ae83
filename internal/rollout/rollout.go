// Package rollout integrates the system dynamics forward in time,
// honoring hybrid mode-switch events and falling back to the operating
// trajectory where no controller coverage exists.
package rollout

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/trajopt/internal/integrators"
	"github.com/san-kum/trajopt/internal/oc"
)

// Engine rolls out one time interval. One instance per worker; not safe
// for concurrent use.
type Engine struct {
	dyn   oc.Dynamics
	ops   oc.OperatingPoints
	integ oc.Integrator
	dt    float64
}

func New(dyn oc.Dynamics, ops oc.OperatingPoints, integ oc.Integrator, dt float64) *Engine {
	return &Engine{dyn: dyn, ops: ops, integ: integ, dt: dt}
}

// Clone returns an independent engine with cloned providers and a fresh
// integrator scratch, for use by a parallel worker.
func (e *Engine) Clone() *Engine {
	return &Engine{
		dyn:   e.dyn.Clone(),
		ops:   e.ops.Clone(),
		integ: cloneIntegrator(e.integ),
		dt:    e.dt,
	}
}

func cloneIntegrator(in oc.Integrator) oc.Integrator {
	switch in.(type) {
	case *integrators.RK4:
		return integrators.NewRK4()
	case *integrators.RK45:
		return integrators.NewRK45()
	case *integrators.Euler:
		return integrators.NewEuler()
	default:
		return in
	}
}

// closedLoop feeds the controller output back into the dynamics during
// integration sub-steps.
type closedLoop struct {
	dyn  oc.Dynamics
	ctrl oc.Controller
}

func (c closedLoop) Derive(t float64, x oc.State, _ oc.Input) oc.State {
	return c.dyn.Derive(t, x, c.ctrl.Compute(t, x))
}

func (c closedLoop) StateDim() int { return c.dyn.StateDim() }
func (c closedLoop) InputDim() int { return c.dyn.InputDim() }

// RunController integrates [t0, tf] under the affine feedback law,
// splitting at every mode-switch event inside the window. The returned
// trajectory contains a repeated timestamp at each event marking the
// pre/post-jump state pair. A non-finite final state yields ErrDiverged.
func (e *Engine) RunController(ctx context.Context, t0 float64, x0 oc.State, tf float64, ctrl oc.Controller, schedule oc.ModeSchedule) (oc.Trajectory, oc.State, error) {
	var traj oc.Trajectory

	x := x0.Clone()
	segStart := t0
	events := schedule.EventsInRange(t0, tf)
	boundaries := append(events, tf)

	first := true
	for i, segEnd := range boundaries {
		if ma, ok := e.dyn.(oc.ModeAware); ok {
			ma.SetActiveMode(schedule.ModeAtTime(0.5 * (segStart + segEnd)))
		}

		if first {
			traj.Times = append(traj.Times, segStart)
			traj.States = append(traj.States, x.Clone())
			traj.Inputs = append(traj.Inputs, ctrl.Compute(segStart, x))
			first = false
		}

		sys := closedLoop{dyn: e.dyn, ctrl: ctrl}
		t := segStart
		for t < segEnd-1e-12 {
			if err := ctx.Err(); err != nil {
				return traj, x, fmt.Errorf("rollout canceled at t=%.4f: %w", t, err)
			}
			h := math.Min(e.dt, segEnd-t)
			x = e.integ.Step(sys, x, nil, t, h)
			t += h
			traj.Times = append(traj.Times, t)
			traj.States = append(traj.States, x.Clone())
			traj.Inputs = append(traj.Inputs, ctrl.Compute(t, x))
		}

		if i < len(events) {
			// pre-event sample is in place; apply the jump map and record
			// the post-event state under the repeated timestamp
			x = e.applyJump(segEnd, x)
			traj.Times = append(traj.Times, segEnd)
			traj.States = append(traj.States, x.Clone())
			traj.Inputs = append(traj.Inputs, ctrl.Compute(segEnd, x))
			traj.PostEventIndices = append(traj.PostEventIndices, len(traj.Times)-1)
		}
		segStart = segEnd
	}

	if !x.IsValid() {
		return traj, x, fmt.Errorf("controller rollout on [%.4f, %.4f]: %w", t0, tf, oc.ErrDiverged)
	}
	return traj, x, nil
}

// RunWithTail integrates the controller segment over [t0, till] and an
// operating-point tail over [till, tf]. A mode-switch event at the
// hand-off is applied there: the tail resumes from the post-jump state,
// recorded under the repeated timestamp with a post-event marker.
func (e *Engine) RunWithTail(ctx context.Context, t0 float64, x0 oc.State, till, tf float64, ctrl oc.Controller, schedule oc.ModeSchedule) (oc.Trajectory, oc.State, error) {
	traj, x, err := e.RunController(ctx, t0, x0, till, ctrl, schedule)
	if err != nil || till >= tf-1e-9 {
		return traj, x, err
	}

	atEvent := false
	for _, te := range schedule.EventTimes {
		if math.Abs(te-till) <= 1e-9 {
			atEvent = true
			break
		}
	}

	if atEvent {
		// the controller's last sample is the pre-event state; the tail's
		// first sample carries the post-jump state at the same timestamp
		x = e.applyJump(till, x)
		traj.PostEventIndices = append(traj.PostEventIndices, traj.Len())
	} else {
		// the tail's first sample duplicates the controller's last
		traj.TrimLast()
	}

	tail, xf, err := e.RunOperating(ctx, till, x, tf, schedule)
	if err != nil {
		return traj, xf, err
	}
	traj.Append(tail)
	return traj, xf, nil
}

func (e *Engine) applyJump(t float64, x oc.State) oc.State {
	if jm, ok := e.dyn.(oc.JumpMap); ok {
		return jm.Jump(t, x)
	}
	return x
}
