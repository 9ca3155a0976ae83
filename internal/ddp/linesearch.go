package ddp

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/san-kum/trajopt/internal/oc"
)

// armijoSlope is the required fractional merit decrease per unit step.
const armijoSlope = 1e-3

type candidate struct {
	alpha float64
	trajs []*oc.Trajectory
	ctrls []*oc.LinearController
	perf  Performance
}

// searchTracker is the shared line-search state: the best accepted
// candidate, which step-size exponents have resolved, and the cancel
// handles of rollouts still in flight. Exponents are ordered by
// decreasing step size, so a candidate at exponent e can only be beaten
// by exponents below e.
type searchTracker struct {
	mu       sync.Mutex
	best     candidate
	bestExp  int
	accepted bool
	resolved []bool
	inflight map[int]context.CancelFunc
}

func newSearchTracker(base candidate, nAlpha int) *searchTracker {
	return &searchTracker{
		best:     base,
		bestExp:  nAlpha,
		resolved: make([]bool, nAlpha),
		inflight: make(map[int]context.CancelFunc),
	}
}

// begin registers an in-flight rollout for exp and reports whether the
// exponent is still worth evaluating. A dominated exponent is resolved
// immediately.
func (st *searchTracker) begin(exp int, alpha float64, cancel context.CancelFunc) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.accepted && alpha <= st.best.alpha {
		st.resolved[exp] = true
		st.cancelDominatedLocked()
		return false
	}
	st.inflight[exp] = cancel
	return true
}

// finish resolves exp, adopting cand as the new best when it satisfies
// the acceptance condition against baseline, then cancels rollouts that
// can no longer win. A nil cand marks a rejected or failed candidate.
func (st *searchTracker) finish(exp int, cand *candidate, baseline float64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.inflight, exp)
	st.resolved[exp] = true
	if cand != nil && cand.perf.Merit < baseline*(1-armijoSlope*cand.alpha) && cand.alpha > st.best.alpha {
		st.best = *cand
		st.bestExp = exp
		st.accepted = true
	}
	st.cancelDominatedLocked()
}

// cancelDominatedLocked kills in-flight rollouts at step sizes below the
// accepted one, once every larger-step candidate has resolved and the
// winner is therefore final.
func (st *searchTracker) cancelDominatedLocked() {
	if !st.accepted {
		return
	}
	for e := 0; e < st.bestExp; e++ {
		if !st.resolved[e] {
			return
		}
	}
	for e, cancel := range st.inflight {
		if e > st.bestExp {
			cancel()
		}
	}
}

// lineSearch evaluates decreasing step sizes in parallel and adopts the
// largest one whose rollout merit beats the zero-step baseline. Workers
// claim step-size exponents through an atomic counter; each rollout runs
// under its own cancelable context, so an accepted step aborts the
// still-running rollouts it dominates. A rollout failure at a positive
// step only disqualifies that candidate; a baseline failure is fatal
// because the iteration would have no valid iterate left.
func (s *Solver) lineSearch(ctx context.Context) error {
	baseTrajs, basePerf, err := s.rolloutAll(ctx, 0, s.controllers)
	if err != nil {
		return fmt.Errorf("baseline rollout: %w", err)
	}
	basePerf.computeMerit(s.penaltyRho)
	if !isFiniteMerit(basePerf.Merit) {
		return fmt.Errorf("baseline merit is not finite: %w", oc.ErrDiverged)
	}

	nAlpha := s.settings.numAlphaExponents()
	st := newSearchTracker(candidate{alpha: 0, trajs: baseTrajs, ctrls: s.controllers, perf: basePerf}, nAlpha)

	workers := s.settings.NumThreads
	if workers > nAlpha {
		workers = nAlpha
	}

	var next atomic.Int64
	err = runParallel(ctx, workers, func(ctx context.Context, worker int) error {
		for {
			exp := int(next.Add(1)) - 1
			if exp >= nAlpha {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			alpha := s.settings.MaxLearningRate * math.Pow(s.settings.ContractionRate, float64(exp))

			rctx, rcancel := context.WithCancel(ctx)
			if !st.begin(exp, alpha, rcancel) {
				rcancel()
				continue
			}

			ctrls := s.scaledControllers(alpha)
			trajs, perf, rerr := s.rolloutAll(rctx, worker, ctrls)
			rcancel()
			if rerr != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// canceled by a dominating step or diverged; either way
				// this candidate is out
				st.finish(exp, nil, basePerf.Merit)
				continue
			}
			perf.computeMerit(s.penaltyRho)
			if !isFiniteMerit(perf.Merit) {
				st.finish(exp, nil, basePerf.Merit)
				continue
			}
			st.finish(exp, &candidate{alpha: alpha, trajs: trajs, ctrls: ctrls, perf: perf}, basePerf.Merit)
		}
	})
	if err != nil {
		return err
	}

	s.cached = s.nominal
	s.nominal = st.best.trajs
	s.controllers = st.best.ctrls
	s.nominalPerf = st.best.perf
	s.stepSize = st.best.alpha
	return nil
}

// scaledControllers clones the current controllers with the feedforward
// increment folded into the bias at step size alpha.
func (s *Solver) scaledControllers(alpha float64) []*oc.LinearController {
	out := make([]*oc.LinearController, s.numPartitions)
	for i, c := range s.controllers {
		sc := c.Clone()
		for k := range sc.Bias {
			if k < len(sc.DeltaBias) {
				for j := range sc.Bias[k] {
					sc.Bias[k][j] += alpha * sc.DeltaBias[k][j]
				}
			}
		}
		out[i] = sc
	}
	return out
}
