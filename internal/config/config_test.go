package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/trajopt/internal/oc"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Problem != "switched" {
		t.Errorf("expected problem switched, got %s", cfg.Problem)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	if cfg.Solver.MaxIterations <= 0 {
		t.Error("solver iterations should be positive")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "solve.yaml")

	cfg := DefaultConfig()
	cfg.Solver.NumThreads = 4
	cfg.Horizon.FinalTime = 5
	cfg.Horizon.PartitionTimes = []float64{0, 2.5, 5}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Solver.NumThreads != 4 {
		t.Errorf("num_threads = %d, want 4", loaded.Solver.NumThreads)
	}
	if loaded.Horizon.FinalTime != 5 {
		t.Errorf("final_time = %v, want 5", loaded.Horizon.FinalTime)
	}
	if len(loaded.Horizon.PartitionTimes) != 3 {
		t.Errorf("partition_times = %v", loaded.Horizon.PartitionTimes)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidateRejectsBadHorizon(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Horizon.FinalTime = cfg.Horizon.InitTime
	if err := cfg.Validate(); !errors.Is(err, oc.ErrBadConfig) {
		t.Errorf("expected ErrBadConfig, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Horizon.PartitionTimes = []float64{0, 2, 1}
	if err := cfg.Validate(); !errors.Is(err, oc.ErrBadConfig) {
		t.Errorf("expected ErrBadConfig, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Horizon.InitState = nil
	if err := cfg.Validate(); !errors.Is(err, oc.ErrBadConfig) {
		t.Errorf("expected ErrBadConfig, got %v", err)
	}
}

func TestLoadPartialOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.yaml")
	if err := os.WriteFile(path, []byte("solver:\n  max_iterations: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Solver.MaxIterations != 7 {
		t.Errorf("max_iterations = %d, want 7", cfg.Solver.MaxIterations)
	}
	// untouched fields keep defaults
	if cfg.Problem != "switched" {
		t.Errorf("problem = %s, want default", cfg.Problem)
	}
}
