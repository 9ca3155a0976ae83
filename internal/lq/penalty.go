package lq

import "math"

// RelaxedBarrier is a log-barrier penalty for inequality constraints
// g(t,x,u) >= 0 with a quadratic relaxation below Delta, so the merit
// stays finite for infeasible iterates.
type RelaxedBarrier struct {
	Mu    float64
	Delta float64
}

func NewRelaxedBarrier(mu, delta float64) *RelaxedBarrier {
	return &RelaxedBarrier{Mu: mu, Delta: delta}
}

func (p *RelaxedBarrier) Clone() *RelaxedBarrier {
	c := *p
	return &c
}

// Penalty returns the summed barrier cost of the constraint values h.
func (p *RelaxedBarrier) Penalty(h []float64) float64 {
	total := 0.0
	for _, v := range h {
		if v > p.Delta {
			total += -p.Mu * math.Log(v)
		} else {
			r := (v - 2.0*p.Delta) / p.Delta
			total += p.Mu * (-math.Log(p.Delta) + 0.5*r*r - 0.5)
		}
	}
	return total
}

// Derivative returns dp/dh of the barrier at one constraint value.
func (p *RelaxedBarrier) Derivative(v float64) float64 {
	if v > p.Delta {
		return -p.Mu / v
	}
	return p.Mu * (v - 2.0*p.Delta) / (p.Delta * p.Delta)
}

// SecondDerivative returns d²p/dh² of the barrier at one constraint
// value.
func (p *RelaxedBarrier) SecondDerivative(v float64) float64 {
	if v > p.Delta {
		return p.Mu / (v * v)
	}
	return p.Mu / (p.Delta * p.Delta)
}

// ViolationSquaredNorm returns the squared norm of the violated part of h.
func (p *RelaxedBarrier) ViolationSquaredNorm(h []float64) float64 {
	total := 0.0
	for _, v := range h {
		if v < 0 {
			total += v * v
		}
	}
	return total
}
