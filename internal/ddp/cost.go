package ddp

import (
	"math"

	"github.com/san-kum/trajopt/internal/lq"
	"github.com/san-kum/trajopt/internal/oc"
)

// Performance aggregates the rollout quality measures of one candidate
// trajectory. ISE terms are integrals of squared constraint violations.
type Performance struct {
	Merit             float64
	TotalCost         float64
	StateEqISE        float64
	StateEqFinalISE   float64
	StateInputEqISE   float64
	InequalityPenalty float64
}

func (p *Performance) add(o Performance) {
	p.TotalCost += o.TotalCost
	p.StateEqISE += o.StateEqISE
	p.StateEqFinalISE += o.StateEqFinalISE
	p.StateInputEqISE += o.StateInputEqISE
	p.InequalityPenalty += o.InequalityPenalty
}

// ConstraintISE is the convergence measure for equality constraints.
func (p Performance) ConstraintISE() float64 {
	return p.StateEqISE + p.StateInputEqISE
}

// computeMerit folds the penalized terms into a single scalar the line
// search can compare. rho is the state-equality continuation coefficient
// of the current iteration.
func (p *Performance) computeMerit(rho float64) {
	p.Merit = p.TotalCost + p.InequalityPenalty +
		0.5*rho*(p.StateEqISE+p.StateEqFinalISE)
}

// evaluator measures cost and constraint violation along a trajectory
// with worker-local providers. Not safe for concurrent use.
type evaluator struct {
	cost    oc.Cost
	cons    oc.Constraints
	barrier *lq.RelaxedBarrier
}

func newEvaluator(cost oc.Cost, cons oc.Constraints, barrier *lq.RelaxedBarrier) *evaluator {
	return &evaluator{cost: cost, cons: cons, barrier: barrier}
}

func (e *evaluator) clone() *evaluator {
	return &evaluator{cost: e.cost.Clone(), cons: e.cons.Clone(), barrier: e.barrier.Clone()}
}

// trajectory integrates the intermediate measures over traj with the
// trapezoidal rule (repeated event timestamps contribute zero width) and
// adds event costs at pre-event samples.
func (e *evaluator) trajectory(traj *oc.Trajectory) Performance {
	var p Performance
	n := traj.Len()
	if n == 0 {
		return p
	}

	costI := make([]float64, n)
	seI := make([]float64, n)
	siI := make([]float64, n)
	ineqI := make([]float64, n)

	for k := 0; k < n; k++ {
		t, x, u := traj.Times[k], traj.States[k], traj.Inputs[k]
		costI[k] = e.cost.Cost(t, x, u)

		if e.cons.NumStateEq(t) > 0 {
			hv, _ := e.cons.StateEq(t, x)
			seI[k] = squaredNorm(hv)
		}
		if e.cons.NumStateInputEq(t) > 0 {
			ev, _, _ := e.cons.StateInputEq(t, x, u)
			siI[k] = squaredNorm(ev)
		}
		if e.cons.NumIneq(t) > 0 {
			gv, _, _ := e.cons.Ineq(t, x, u)
			ineqI[k] = e.barrier.Penalty(gv)
		}
	}

	for k := 0; k+1 < n; k++ {
		dt := traj.Times[k+1] - traj.Times[k]
		if dt <= 0 {
			continue
		}
		p.TotalCost += 0.5 * dt * (costI[k] + costI[k+1])
		p.StateEqISE += 0.5 * dt * (seI[k] + seI[k+1])
		p.StateInputEqISE += 0.5 * dt * (siI[k] + siI[k+1])
		p.InequalityPenalty += 0.5 * dt * (ineqI[k] + ineqI[k+1])
	}

	// event costs and final equality violations at the pre-event samples
	for _, pe := range traj.PostEventIndices {
		if pe < 1 {
			continue
		}
		t, x := traj.Times[pe-1], traj.States[pe-1]
		p.TotalCost += e.cost.FinalCost(t, x)
		if e.cons.NumFinalStateEq(t) > 0 {
			hv, _ := e.cons.FinalStateEq(t, x)
			p.StateEqFinalISE += squaredNorm(hv)
		}
	}
	return p
}

// terminal adds the horizon cost and final constraint violation at the
// end of the last partition.
func (e *evaluator) terminal(t float64, x oc.State) Performance {
	var p Performance
	p.TotalCost = e.cost.FinalCost(t, x)
	if e.cons.NumFinalStateEq(t) > 0 {
		hv, _ := e.cons.FinalStateEq(t, x)
		p.StateEqFinalISE = squaredNorm(hv)
	}
	return p
}

func squaredNorm(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return s
}

func isFiniteMerit(m float64) bool {
	return !math.IsNaN(m) && !math.IsInf(m, 0)
}
