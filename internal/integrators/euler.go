package integrators

import "github.com/san-kum/trajopt/internal/oc"

type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(sys oc.System, x oc.State, u oc.Input, t, dt float64) oc.State {
	dx := sys.Derive(t, x, u)
	result := make(oc.State, len(x))
	for i := range x {
		result[i] = x[i] + dt*dx[i]
	}
	return result
}
