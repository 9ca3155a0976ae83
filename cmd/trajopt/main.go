package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/trajopt/internal/config"
	"github.com/san-kum/trajopt/internal/ddp"
	"github.com/san-kum/trajopt/internal/oc"
	"github.com/san-kum/trajopt/internal/problems"
	"github.com/san-kum/trajopt/internal/storage"
	"github.com/san-kum/trajopt/internal/viz"
)

var (
	dataDir    string
	configFile string
	threads    int
	iterations int
	rolloutDt  float64
	verbose    bool
	showPlot   bool
	axis       int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trajopt",
		Short: "trajectory optimization for switched-system optimal control",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".trajopt", "data directory")

	solveCmd := &cobra.Command{
		Use:   "solve [problem]",
		Short: "solve an optimal control problem",
		Args:  cobra.MaximumNArgs(1),
		RunE:  solveProblem,
	}
	solveCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	solveCmd.Flags().IntVar(&threads, "threads", 0, "worker threads (0 = all cores)")
	solveCmd.Flags().IntVar(&iterations, "iters", 0, "max iterations")
	solveCmd.Flags().Float64Var(&rolloutDt, "dt", 0, "rollout timestep")
	solveCmd.Flags().BoolVar(&verbose, "verbose", false, "per-iteration display")
	solveCmd.Flags().BoolVar(&showPlot, "plot", false, "show convergence plot")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored trajectory",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&axis, "axis", 0, "state column to plot")

	exportCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export run metadata to JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	benchCmd := &cobra.Command{
		Use:   "bench [problem]",
		Short: "benchmark solve time across thread counts",
		Args:  cobra.MaximumNArgs(1),
		RunE:  benchProblem,
	}

	rootCmd.AddCommand(solveCmd, listCmd, plotCmd, exportCmd, benchCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup is a fully-specified solvable problem instance.
type setup struct {
	name    string
	problem ddp.Problem
	horizon config.Horizon
}

func buildSetup(name string) (*setup, error) {
	switch name {
	case "switched":
		b := problems.NewSwitchedBenchmark()
		return &setup{
			name: name,
			problem: ddp.Problem{
				Dynamics:        b.Dynamics,
				Cost:            b.Cost,
				Constraints:     b.Constraints,
				OperatingPoints: b.OperatingPoints,
				ModeSchedule:    b.ModeSchedule,
			},
			horizon: config.Horizon{
				InitTime:       b.InitTime,
				FinalTime:      b.FinalTime,
				InitState:      b.InitState,
				PartitionTimes: b.PartitionTimes,
			},
		}, nil
	case "lqr":
		return &setup{
			name: name,
			problem: ddp.Problem{
				Dynamics: problems.NewLTI(
					mat.NewDense(2, 2, []float64{0, 1, 0, 0}),
					mat.NewDense(2, 1, []float64{0, 1})),
				Cost: &problems.QuadraticCost{
					Q:  mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
					R:  mat.NewDense(1, 1, []float64{1}),
					Qf: mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
				},
				Constraints:     problems.NoConstraints{},
				OperatingPoints: &problems.StaticOperatingPoints{U: oc.Input{0}, Dt: 0.1},
				ModeSchedule:    oc.ModeSchedule{ModeSequence: []int{0}},
			},
			horizon: config.Horizon{
				InitTime:       0,
				FinalTime:      10,
				InitState:      []float64{1, 0},
				PartitionTimes: []float64{0, 5, 10},
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown problem %q (available: switched, lqr)", name)
	}
}

func solveProblem(cmd *cobra.Command, args []string) error {
	name := "switched"
	if len(args) > 0 {
		name = args[0]
	}

	settings := ddp.DefaultSettings()
	var horizon *config.Horizon

	if configFile != "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		settings = cfg.Solver
		horizon = &cfg.Horizon
		if len(args) == 0 && cfg.Problem != "" {
			name = cfg.Problem
		}
	}

	su, err := buildSetup(name)
	if err != nil {
		return err
	}
	if horizon != nil {
		su.horizon = *horizon
	}

	if cmd.Flags().Changed("threads") {
		settings.NumThreads = threads
	}
	if cmd.Flags().Changed("iters") {
		settings.MaxIterations = iterations
	}
	if cmd.Flags().Changed("dt") {
		settings.RolloutDt = rolloutDt
	}
	if verbose {
		settings.DisplayInfo = true
		settings.Writer = os.Stdout
	}

	solver, err := ddp.NewSolver(su.problem, settings)
	if err != nil {
		return err
	}

	start := time.Now()
	err = solver.Run(context.Background(), su.horizon.InitTime, su.horizon.InitState,
		su.horizon.FinalTime, su.horizon.PartitionTimes, nil)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	perf := solver.GetPerformanceIndices()
	logs := solver.GetIterationsLog()

	viz.SolveSummary(os.Stdout, su.name, perf, logs)
	fmt.Printf("solved in %v\n", elapsed)

	if showPlot {
		if g := viz.ConvergencePlot(logs); g != "" {
			fmt.Println()
			fmt.Println(g)
		}
	}

	sol, err := solver.GetPrimalSolution(su.horizon.FinalTime)
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(su.name, su.horizon.InitTime, su.horizon.FinalTime, sol, perf, logs)
	if err != nil {
		return err
	}
	fmt.Printf("saved run %s\n", runID)
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROBLEM\tITERS\tCOST\tEQ ISE\tTIME")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.5f\t%.2e\t%s\n",
			r.ID, r.Problem, r.Iterations, r.Cost, r.ConstraintISE,
			r.Timestamp.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	times, rows, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("run %s has no trajectory data", args[0])
	}
	if axis < 0 || axis >= len(rows[0]) {
		return fmt.Errorf("axis %d out of range, trajectory has %d columns", axis, len(rows[0]))
	}

	data := make([]float64, len(rows))
	for i, row := range rows {
		data[i] = row[axis]
	}
	caption := fmt.Sprintf("x%d over [%.2f, %.2f]", axis, times[0], times[len(times)-1])
	fmt.Println(viz.SeriesPlot(data, caption))
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func benchProblem(cmd *cobra.Command, args []string) error {
	name := "switched"
	if len(args) > 0 {
		name = args[0]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "THREADS\tITERS\tCOST\tTIME")

	for _, n := range []int{1, 2, 4} {
		su, err := buildSetup(name)
		if err != nil {
			return err
		}
		settings := ddp.DefaultSettings()
		settings.NumThreads = n

		solver, err := ddp.NewSolver(su.problem, settings)
		if err != nil {
			return err
		}

		start := time.Now()
		err = solver.Run(context.Background(), su.horizon.InitTime, su.horizon.InitState,
			su.horizon.FinalTime, su.horizon.PartitionTimes, nil)
		if err != nil {
			return err
		}
		perf := solver.GetPerformanceIndices()
		fmt.Fprintf(w, "%d\t%d\t%.5f\t%v\n",
			n, len(solver.GetIterationsLog()), perf.TotalCost, time.Since(start))
	}
	return w.Flush()
}
