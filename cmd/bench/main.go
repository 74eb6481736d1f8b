package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ciricc/render-energy-bench/internal/app"
	"github.com/ciricc/render-energy-bench/internal/config"
	"github.com/ciricc/render-energy-bench/internal/scheduler"
	"github.com/ciricc/render-energy-bench/internal/trial"
	"github.com/samber/lo"
)

func main() {
	var (
		cfgPath     = flag.String("config", "config.yaml", "path to config.yaml (empty for built-in defaults)")
		repetitions = flag.Int("repetitions", 0, "trials per mode (overrides experiment.repetitions)")
		pause       = flag.Duration("pause", 0, "idle time after each trial (overrides experiment.pause)")
		seed        = flag.Uint64("seed", 0, "plan shuffle seed; 0 draws a fresh one (overrides experiment.seed)")
		results     = flag.String("results", "", "results CSV path (overrides output.results_file)")
		dryRun      = flag.Bool("dry-run", false, "print the plan and command lines without running anything")
	)
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["repetitions"] {
		cfg.Experiment.Repetitions = *repetitions
	}
	if set["pause"] {
		cfg.Experiment.Pause = *pause
	}
	if set["seed"] {
		cfg.Experiment.Seed = *seed
	}
	if set["results"] {
		cfg.Output.ResultsFile = *results
	}
	if err := cfg.Validate(); err != nil {
		fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *dryRun); err != nil {
		stop()
		fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg config.Config, dryRun bool) error {
	if !dryRun {
		if err := app.Preflight(cfg); err != nil {
			return fmt.Errorf("preflight failed:\n%w", err)
		}
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init error: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = application.Close(shutdownCtx)
	}()

	planSeed := cfg.Experiment.Seed
	if planSeed == 0 {
		planSeed = scheduler.NewSeed()
	}
	plan, err := scheduler.BuildPlan(cfg.Experiment.Repetitions, trial.Modes, planSeed)
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}

	if dryRun {
		printPlan(application, plan)
		return nil
	}

	outcomes, err := application.Run(ctx, plan)
	recorded := lo.CountBy(outcomes, func(o trial.Outcome) bool { return o.State == trial.StateRecorded })
	fmt.Printf("%d of %d trials recorded in %s (seed %d)\n", recorded, len(plan.Trials), cfg.Output.ResultsFile, plan.Seed)
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("interrupted after %d trials: %w", len(outcomes), err)
	}
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "config.yaml" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Load("")
		}
	}
	return config.Load(path)
}

func printPlan(a *app.Application, plan scheduler.Plan) {
	fmt.Printf("seed: %d\n", plan.Seed)
	for _, m := range trial.Modes {
		fmt.Printf("%s backend: %s\n", m, a.Backends[m])
	}
	for n, t := range plan.Trials {
		fmt.Printf("%3d %-7s %s\n", n+1, t, a.Invoker.Command(t))
	}
}

func fatalf(format string, a ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
