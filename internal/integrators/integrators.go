// Package integrators provides fixed and adaptive ODE steppers over
// oc.System. All steppers accept a negative dt for backward
// integration.
package integrators

import (
	"fmt"

	"github.com/san-kum/trajopt/internal/oc"
)

// Method names accepted by ByName.
const (
	MethodEuler = "euler"
	MethodRK4   = "rk4"
	MethodRK45  = "rk45"
)

// ByName builds the stepper for a configured method name.
func ByName(name string) (oc.Integrator, error) {
	switch name {
	case MethodEuler:
		return NewEuler(), nil
	case MethodRK4:
		return NewRK4(), nil
	case MethodRK45:
		return NewRK45(), nil
	}
	return nil, fmt.Errorf("unknown integration method %q: %w", name, oc.ErrBadConfig)
}
