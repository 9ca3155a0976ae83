// Package ddp implements a multi-threaded differential dynamic
// programming solver for continuous-time hybrid optimal control. Each
// iteration linearizes the problem around the nominal trajectory, runs a
// backward Riccati pass per time partition, and line-searches the
// resulting affine policy with a forward rollout.
package ddp

import (
	"fmt"
	"io"
	"runtime"

	"github.com/san-kum/trajopt/internal/integrators"
	"github.com/san-kum/trajopt/internal/oc"
)

const (
	DefaultMaxIterations       = 15
	DefaultMinRelCost          = 1e-3
	DefaultMinAbsConstraintISE = 1e-3
	DefaultMinRelConstraintISE = 1e-3
	DefaultMaxLearningRate     = 1.0
	DefaultMinLearningRate     = 0.05
	DefaultContractionRate     = 0.5
	DefaultRolloutDt           = 0.01
	DefaultIntegrator          = integrators.MethodRK4
	DefaultRiccatiSubsteps     = 2
	DefaultConstraintPenalty   = 2.0
	DefaultConstraintBase      = 2.0
	DefaultInequalityMu        = 1e-2
	DefaultInequalityDelta     = 1e-3
)

// Settings configures a Solver. Zero-valued fields are filled with
// defaults by Validate.
type Settings struct {
	// NumThreads caps the worker pool for rollouts, LQ approximation,
	// Riccati solves, and line search. Zero means GOMAXPROCS.
	NumThreads int `yaml:"num_threads"`

	MaxIterations int     `yaml:"max_iterations"`
	MinRelCost    float64 `yaml:"min_rel_cost"`

	MinAbsConstraintISE float64 `yaml:"min_abs_constraint_ise"`
	MinRelConstraintISE float64 `yaml:"min_rel_constraint_ise"`

	// Line search step sizes: candidates are MaxLearningRate·ContractionRate^k
	// down to MinLearningRate.
	MaxLearningRate float64 `yaml:"max_learning_rate"`
	MinLearningRate float64 `yaml:"min_learning_rate"`
	ContractionRate float64 `yaml:"contraction_rate"`

	// RolloutDt is the forward-integration step; Integrator selects the
	// rollout stepper ("euler", "rk4", "rk45"); RiccatiSubsteps is the
	// number of backward RK4 steps per nominal sample interval.
	RolloutDt       float64 `yaml:"rollout_dt"`
	Integrator      string  `yaml:"integrator"`
	RiccatiSubsteps int     `yaml:"riccati_substeps"`

	// State-equality constraint penalty: coefficient grows as
	// Penalty·Base^iteration.
	ConstraintPenaltyCoeff float64 `yaml:"constraint_penalty_coeff"`
	ConstraintPenaltyBase  float64 `yaml:"constraint_penalty_base"`

	// Relaxed log-barrier parameters for inequality constraints.
	InequalityMu    float64 `yaml:"inequality_mu"`
	InequalityDelta float64 `yaml:"inequality_delta"`

	// UsePSD projects cost Hessians to the PSD cone; otherwise
	// AddedRiccatiDiagonal is added to their diagonals.
	UsePSD               bool    `yaml:"use_psd"`
	AddedRiccatiDiagonal float64 `yaml:"added_riccati_diagonal"`

	// UseParallelRiccati enables per-partition parallel backward passes
	// from the given iteration on; earlier iterations solve sequentially
	// so partition boundaries are exact.
	UseParallelRiccati        bool `yaml:"use_parallel_riccati"`
	UseParallelRiccatiFromItr int  `yaml:"use_parallel_riccati_from_itr"`

	// UseFeedbackPolicy selects the affine feedback law as the primal
	// solution policy; otherwise the open-loop input trajectory is
	// replayed.
	UseFeedbackPolicy bool `yaml:"use_feedback_policy"`

	DisplayInfo bool `yaml:"display_info"`

	// Writer receives the per-iteration display; defaults to io.Discard.
	Writer io.Writer `yaml:"-"`
}

func DefaultSettings() Settings {
	return Settings{
		NumThreads:             runtime.GOMAXPROCS(0),
		MaxIterations:          DefaultMaxIterations,
		MinRelCost:             DefaultMinRelCost,
		MinAbsConstraintISE:    DefaultMinAbsConstraintISE,
		MinRelConstraintISE:    DefaultMinRelConstraintISE,
		MaxLearningRate:        DefaultMaxLearningRate,
		MinLearningRate:        DefaultMinLearningRate,
		ContractionRate:        DefaultContractionRate,
		RolloutDt:              DefaultRolloutDt,
		Integrator:             DefaultIntegrator,
		RiccatiSubsteps:        DefaultRiccatiSubsteps,
		ConstraintPenaltyCoeff: DefaultConstraintPenalty,
		ConstraintPenaltyBase:  DefaultConstraintBase,
		InequalityMu:           DefaultInequalityMu,
		InequalityDelta:        DefaultInequalityDelta,
		UsePSD:                 true,
		UseFeedbackPolicy:      true,
	}
}

// Validate fills zero-valued fields with defaults and rejects
// inconsistent combinations.
func (s *Settings) Validate() error {
	if s.NumThreads <= 0 {
		s.NumThreads = runtime.GOMAXPROCS(0)
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = DefaultMaxIterations
	}
	if s.MinRelCost <= 0 {
		s.MinRelCost = DefaultMinRelCost
	}
	if s.MinAbsConstraintISE <= 0 {
		s.MinAbsConstraintISE = DefaultMinAbsConstraintISE
	}
	if s.MinRelConstraintISE <= 0 {
		s.MinRelConstraintISE = DefaultMinRelConstraintISE
	}
	if s.MaxLearningRate <= 0 {
		s.MaxLearningRate = DefaultMaxLearningRate
	}
	if s.MinLearningRate <= 0 {
		s.MinLearningRate = DefaultMinLearningRate
	}
	if s.ContractionRate <= 0 {
		s.ContractionRate = DefaultContractionRate
	}
	if s.RolloutDt <= 0 {
		s.RolloutDt = DefaultRolloutDt
	}
	if s.Integrator == "" {
		s.Integrator = DefaultIntegrator
	}
	if _, err := integrators.ByName(s.Integrator); err != nil {
		return err
	}
	if s.RiccatiSubsteps <= 0 {
		s.RiccatiSubsteps = DefaultRiccatiSubsteps
	}
	if s.ConstraintPenaltyCoeff <= 0 {
		s.ConstraintPenaltyCoeff = DefaultConstraintPenalty
	}
	if s.ConstraintPenaltyBase < 1 {
		s.ConstraintPenaltyBase = DefaultConstraintBase
	}
	if s.InequalityMu <= 0 {
		s.InequalityMu = DefaultInequalityMu
	}
	if s.InequalityDelta <= 0 {
		s.InequalityDelta = DefaultInequalityDelta
	}
	if s.Writer == nil {
		s.Writer = io.Discard
	}

	if s.MinLearningRate > s.MaxLearningRate {
		return fmt.Errorf("min learning rate %.3f exceeds max %.3f: %w",
			s.MinLearningRate, s.MaxLearningRate, oc.ErrBadConfig)
	}
	if s.ContractionRate >= 1 {
		return fmt.Errorf("contraction rate %.3f must be below 1: %w",
			s.ContractionRate, oc.ErrBadConfig)
	}
	return nil
}

// numAlphaExponents returns how many step-size candidates the line search
// tries: MaxLearningRate·ContractionRate^k for k = 0..count-1, stopping
// before dropping below MinLearningRate.
func (s *Settings) numAlphaExponents() int {
	count := 0
	alpha := s.MaxLearningRate
	for alpha >= s.MinLearningRate-1e-12 {
		count++
		alpha *= s.ContractionRate
	}
	if count == 0 {
		count = 1
	}
	return count
}
