// Package config loads solver and problem configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/oc"
)

// Config is the on-disk configuration: solver settings plus the problem
// selection and horizon.
type Config struct {
	Problem string       `yaml:"problem"`
	Horizon Horizon      `yaml:"horizon"`
	Solver  ddp.Settings `yaml:"solver"`
}

// Horizon describes the solve window and its partitioning.
type Horizon struct {
	InitTime       float64   `yaml:"init_time"`
	FinalTime      float64   `yaml:"final_time"`
	InitState      []float64 `yaml:"init_state"`
	PartitionTimes []float64 `yaml:"partition_times"`
}

func DefaultConfig() *Config {
	return &Config{
		Problem: "switched",
		Horizon: Horizon{
			InitTime:       0,
			FinalTime:      3,
			InitState:      []float64{2, 3},
			PartitionTimes: []float64{0, 1, 2, 3},
		},
		Solver: ddp.DefaultSettings(),
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the horizon and fills solver defaults.
func (c *Config) Validate() error {
	if err := c.Solver.Validate(); err != nil {
		return err
	}
	h := c.Horizon
	if h.FinalTime <= h.InitTime {
		return fmt.Errorf("final time %.3f not after init time %.3f: %w",
			h.FinalTime, h.InitTime, oc.ErrBadConfig)
	}
	if len(h.PartitionTimes) < 2 {
		return fmt.Errorf("need at least two partition times: %w", oc.ErrBadConfig)
	}
	for i := 0; i+1 < len(h.PartitionTimes); i++ {
		if h.PartitionTimes[i+1] <= h.PartitionTimes[i] {
			return fmt.Errorf("partition times must be strictly increasing: %w", oc.ErrBadConfig)
		}
	}
	if len(h.InitState) == 0 {
		return fmt.Errorf("initial state is empty: %w", oc.ErrBadConfig)
	}
	return nil
}
