package integrators

import "github.com/san-kum/trajopt/internal/oc"

// RK4 is the classic fourth-order Runge-Kutta stepper. dt may be negative
// for backward integration (Riccati passes step backward in time).
type RK4 struct {
	k1, k2, k3, k4 oc.State
	scratch        oc.State
}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) ensureScratch(n int) {
	if len(r.k1) != n {
		r.k1 = make(oc.State, n)
		r.k2 = make(oc.State, n)
		r.k3 = make(oc.State, n)
		r.k4 = make(oc.State, n)
		r.scratch = make(oc.State, n)
	}
}

func (r *RK4) Step(sys oc.System, x oc.State, u oc.Input, t, dt float64) oc.State {
	n := len(x)
	r.ensureScratch(n)

	k1 := sys.Derive(t, x, u)
	copy(r.k1, k1)

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*0.5*r.k1[i]
	}
	k2 := sys.Derive(t+dt*0.5, r.scratch, u)
	copy(r.k2, k2)

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*0.5*r.k2[i]
	}
	k3 := sys.Derive(t+dt*0.5, r.scratch, u)
	copy(r.k3, k3)

	for i := 0; i < n; i++ {
		r.scratch[i] = x[i] + dt*r.k3[i]
	}
	k4 := sys.Derive(t+dt, r.scratch, u)
	copy(r.k4, k4)

	result := make(oc.State, n)
	dt6 := dt / 6.0
	for i := 0; i < n; i++ {
		result[i] = x[i] + dt6*(r.k1[i]+2*r.k2[i]+2*r.k3[i]+r.k4[i])
	}

	return result
}
