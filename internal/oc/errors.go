package oc

import "errors"

// Domain errors for the trajectory optimizer.
var (
	// ErrDiverged indicates the forward rollout produced a non-finite state.
	ErrDiverged = errors.New("oc: rollout diverged (non-finite state)")

	// ErrBadConfig indicates inconsistent solver settings or run arguments.
	ErrBadConfig = errors.New("oc: invalid configuration")

	// ErrConstraintCount indicates a provider reported more active
	// constraints than the control-input dimension.
	ErrConstraintCount = errors.New("oc: active constraint count exceeds input dimension")

	// ErrDimensionMismatch indicates mismatched array sizes between
	// trajectories, controllers or partitions.
	ErrDimensionMismatch = errors.New("oc: dimension mismatch")

	// ErrNotSolved indicates a query against a solver that has not run yet.
	ErrNotSolved = errors.New("oc: solver has no solution")
)
