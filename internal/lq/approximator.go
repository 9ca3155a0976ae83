package lq

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/trajopt/internal/oc"
)

// Approximator linearizes the dynamics and quadratizes cost and
// constraints around one nominal sample. One instance per worker; not
// safe for concurrent use.
type Approximator struct {
	dyn  oc.Dynamics
	cost oc.Cost
	cons oc.Constraints

	usePSD        bool
	addedDiagonal float64
}

func NewApproximator(dyn oc.Dynamics, cost oc.Cost, cons oc.Constraints, usePSD bool, addedDiagonal float64) *Approximator {
	return &Approximator{
		dyn:           dyn,
		cost:          cost,
		cons:          cons,
		usePSD:        usePSD,
		addedDiagonal: addedDiagonal,
	}
}

// Clone returns an independent approximator with cloned providers, for
// use by a parallel worker.
func (a *Approximator) Clone() *Approximator {
	return &Approximator{
		dyn:           a.dyn.Clone(),
		cost:          a.cost.Clone(),
		cons:          a.cons.Clone(),
		usePSD:        a.usePSD,
		addedDiagonal: a.addedDiagonal,
	}
}

// CostProvider exposes the worker-local cost model for merit evaluation.
func (a *Approximator) CostProvider() oc.Cost { return a.cost }

// ConstraintProvider exposes the worker-local constraint model.
func (a *Approximator) ConstraintProvider() oc.Constraints { return a.cons }

// Intermediate builds the LQ model at one intermediate sample. mode is the
// active hybrid mode of the sample (pre-event samples keep the pre-switch
// mode).
func (a *Approximator) Intermediate(mode int, t float64, x oc.State, u oc.Input) (*ModelData, error) {
	if ma, ok := a.dyn.(oc.ModeAware); ok {
		ma.SetActiveMode(mode)
	}

	md := &ModelData{Time: t}
	md.Am, md.Bm = a.dyn.LinearApproximation(t, x, u)
	md.Cost = a.cost.Approximation(t, x, u)

	if a.usePSD {
		MakePSD(md.Cost.Qm)
	} else {
		AddDiagonal(md.Cost.Qm, a.addedDiagonal)
	}

	inputDim := a.dyn.InputDim()

	md.NumStateInputEq = a.cons.NumStateInputEq(t)
	if md.NumStateInputEq > inputDim {
		return nil, fmt.Errorf("%w: %d state-input equality constraints, input dim %d",
			oc.ErrConstraintCount, md.NumStateInputEq, inputDim)
	}
	if md.NumStateInputEq > 0 {
		md.Ev, md.Cm, md.Dm = a.cons.StateInputEq(t, x, u)
	}

	md.NumStateEq = a.cons.NumStateEq(t)
	if md.NumStateEq > inputDim {
		return nil, fmt.Errorf("%w: %d state-only equality constraints, input dim %d",
			oc.ErrConstraintCount, md.NumStateEq, inputDim)
	}
	if md.NumStateEq > 0 {
		md.Hv, md.Fm = a.cons.StateEq(t, x)
	}

	md.NumIneq = a.cons.NumIneq(t)
	if md.NumIneq > 0 {
		md.Gv, md.Gx, md.Gu = a.cons.Ineq(t, x, u)
	}

	return md, nil
}

// EventTime builds the final-state-only quadratic approximation at an
// event time, folding the final equality constraints into the cost terms
// with the given continuation penalty coefficient.
func (a *Approximator) EventTime(t float64, x oc.State, penaltyCoeff float64) (*EventData, error) {
	ed := &EventData{Time: t}
	ed.Q, ed.Qv, ed.Qm = a.cost.FinalApproximation(t, x)

	inputDim := a.dyn.InputDim()
	ed.NumFinalEq = a.cons.NumFinalStateEq(t)
	if ed.NumFinalEq > inputDim {
		return nil, fmt.Errorf("%w: %d final equality constraints, input dim %d",
			oc.ErrConstraintCount, ed.NumFinalEq, inputDim)
	}
	if ed.NumFinalEq > 0 {
		ed.Hv, ed.Fm = a.cons.FinalStateEq(t, x)
		penalizeStateEq(penaltyCoeff, ed.Hv, ed.Fm, &ed.Q, ed.Qv, ed.Qm)
	}

	if a.usePSD {
		MakePSD(ed.Qm)
	}
	return ed, nil
}

// ApplyConstraintPenalty folds the constraints of md into its cost
// expansion: equality constraints as quadratic penalties with
// coefficient rho, inequality constraints through the relaxed barrier's
// local quadratic model. The backward pass then operates on penalized
// coefficients only.
func ApplyConstraintPenalty(md *ModelData, rho float64, barrier *RelaxedBarrier) {
	if md.NumStateEq > 0 {
		penalizeStateEq(rho, md.Hv, md.Fm, &md.Cost.Q, md.Cost.Qv, md.Cost.Qm)
	}
	if md.NumStateInputEq > 0 {
		penalizeStateInputEq(rho, md.Ev, md.Cm, md.Dm, &md.Cost)
	}
	if md.NumIneq > 0 && barrier != nil {
		penalizeInequalities(barrier, md.Gv, md.Gx, md.Gu, &md.Cost)
	}
}

// penalizeStateEq adds rho/2 · |hv + Fm dx|² to (q, Qv, Qm).
func penalizeStateEq(rho float64, hv []float64, fm *mat.Dense, q *float64, qv []float64, qm *mat.Dense) {
	nc := len(hv)
	if nc == 0 {
		return
	}
	_, n := fm.Dims()

	for _, v := range hv {
		*q += 0.5 * rho * v * v
	}
	for j := 0; j < n; j++ {
		for c := 0; c < nc; c++ {
			qv[j] += rho * fm.At(c, j) * hv[c]
		}
	}
	var ftf mat.Dense
	ftf.Mul(fm.T(), fm)
	var scaled mat.Dense
	scaled.Scale(rho, &ftf)
	qm.Add(qm, &scaled)
}

// penalizeStateInputEq adds rho/2 · |ev + Cm dx + Dm du|² to the full
// cost expansion.
func penalizeStateInputEq(rho float64, ev []float64, cm, dm *mat.Dense, cost *oc.CostApproximation) {
	nc := len(ev)
	if nc == 0 {
		return
	}
	_, n := cm.Dims()
	_, m := dm.Dims()

	for _, v := range ev {
		cost.Q += 0.5 * rho * v * v
	}
	for j := 0; j < n; j++ {
		for c := 0; c < nc; c++ {
			cost.Qv[j] += rho * cm.At(c, j) * ev[c]
		}
	}
	for j := 0; j < m; j++ {
		for c := 0; c < nc; c++ {
			cost.Rv[j] += rho * dm.At(c, j) * ev[c]
		}
	}

	var tmp mat.Dense
	tmp.Mul(cm.T(), cm)
	var scaled mat.Dense
	scaled.Scale(rho, &tmp)
	cost.Qm.Add(cost.Qm, &scaled)

	tmp.Reset()
	tmp.Mul(dm.T(), dm)
	scaled.Reset()
	scaled.Scale(rho, &tmp)
	cost.Rm.Add(cost.Rm, &scaled)

	tmp.Reset()
	tmp.Mul(dm.T(), cm)
	scaled.Reset()
	scaled.Scale(rho, &tmp)
	cost.Pm.Add(cost.Pm, &scaled)
}

// penalizeInequalities adds the barrier value of each g(x,u) >= 0
// constraint and its Gauss-Newton expansion to the cost coefficients,
// so the controller synthesis sees the same penalty the merit does.
func penalizeInequalities(p *RelaxedBarrier, gv []float64, gx, gu *mat.Dense, cost *oc.CostApproximation) {
	nc := len(gv)
	if nc == 0 {
		return
	}
	_, n := gx.Dims()
	_, m := gu.Dims()

	for c := 0; c < nc; c++ {
		d1 := p.Derivative(gv[c])
		d2 := p.SecondDerivative(gv[c])
		cost.Q += p.Penalty(gv[c : c+1])
		for j := 0; j < n; j++ {
			cost.Qv[j] += d1 * gx.At(c, j)
		}
		for j := 0; j < m; j++ {
			cost.Rv[j] += d1 * gu.At(c, j)
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				cost.Qm.Set(i, j, cost.Qm.At(i, j)+d2*gx.At(c, i)*gx.At(c, j))
			}
		}
		for i := 0; i < m; i++ {
			for j := 0; j < m; j++ {
				cost.Rm.Set(i, j, cost.Rm.At(i, j)+d2*gu.At(c, i)*gu.At(c, j))
			}
			for j := 0; j < n; j++ {
				cost.Pm.Set(i, j, cost.Pm.At(i, j)+d2*gu.At(c, i)*gx.At(c, j))
			}
		}
	}
}
