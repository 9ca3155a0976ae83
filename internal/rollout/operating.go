package rollout

import (
	"context"
	"fmt"

	"github.com/san-kum/trajopt/internal/oc"
)

// RunOperating samples the operating-trajectory provider over [t0, tf],
// splitting at mode-switch events. The provider is restarted from the
// post-jump state at every event, so jump maps stay applied even without
// a controller.
func (e *Engine) RunOperating(ctx context.Context, t0 float64, x0 oc.State, tf float64, schedule oc.ModeSchedule) (oc.Trajectory, oc.State, error) {
	var traj oc.Trajectory

	x := x0.Clone()
	segStart := t0
	events := schedule.EventsInRange(t0, tf)
	boundaries := append(events, tf)

	first := true
	for i, segEnd := range boundaries {
		if err := ctx.Err(); err != nil {
			return traj, x, fmt.Errorf("operating rollout canceled at t=%.4f: %w", segStart, err)
		}

		times, states, inputs := e.ops.Trajectory(x, segStart, segEnd)
		if len(times) == 0 {
			return traj, x, fmt.Errorf("operating points returned empty trajectory on [%.4f, %.4f]: %w",
				segStart, segEnd, oc.ErrDimensionMismatch)
		}

		start := 0
		if !first {
			// the segment start sample duplicates the previous segment end
			start = 1
		}
		for k := start; k < len(times); k++ {
			traj.Times = append(traj.Times, times[k])
			traj.States = append(traj.States, states[k].Clone())
			traj.Inputs = append(traj.Inputs, inputs[k].Clone())
		}
		x = states[len(states)-1].Clone()
		first = false

		if i < len(events) {
			x = e.applyJump(segEnd, x)
			traj.Times = append(traj.Times, segEnd)
			traj.States = append(traj.States, x.Clone())
			traj.Inputs = append(traj.Inputs, traj.Inputs[len(traj.Inputs)-1].Clone())
			traj.PostEventIndices = append(traj.PostEventIndices, len(traj.Times)-1)
		}
		segStart = segEnd
	}

	if !x.IsValid() {
		return traj, x, fmt.Errorf("operating rollout on [%.4f, %.4f]: %w", t0, tf, oc.ErrDiverged)
	}
	return traj, x, nil
}
