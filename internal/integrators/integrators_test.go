package integrators

import (
	"errors"
	"testing"

	"github.com/san-kum/trajopt/internal/oc"
)

func TestByName(t *testing.T) {
	integ, err := ByName(MethodEuler)
	if err != nil {
		t.Fatalf("ByName(euler): %v", err)
	}
	if _, ok := integ.(*Euler); !ok {
		t.Errorf("ByName(euler) = %T", integ)
	}

	integ, err = ByName(MethodRK4)
	if err != nil {
		t.Fatalf("ByName(rk4): %v", err)
	}
	if _, ok := integ.(*RK4); !ok {
		t.Errorf("ByName(rk4) = %T", integ)
	}

	integ, err = ByName(MethodRK45)
	if err != nil {
		t.Fatalf("ByName(rk45): %v", err)
	}
	if _, ok := integ.(*RK45); !ok {
		t.Errorf("ByName(rk45) = %T", integ)
	}

	if _, err := ByName("adams"); !errors.Is(err, oc.ErrBadConfig) {
		t.Errorf("expected ErrBadConfig for unknown method, got %v", err)
	}
}
