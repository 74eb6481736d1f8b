package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ciricc/render-energy-bench/internal/monitor"
	"github.com/ciricc/render-energy-bench/internal/parser"
	"github.com/ciricc/render-energy-bench/internal/sink"
	"github.com/ciricc/render-energy-bench/internal/trial"
)

// ErrTrialInFlight is returned when a trial would start while another one
// still holds the trial slot.
var ErrTrialInFlight = errors.New("another trial is in flight")

// Invoker runs the measurement for one trial and returns its output.
type Invoker interface {
	Invoke(ctx context.Context, t trial.Trial) (string, error)
}

// Observer is told about every run and trial transition.
type Observer interface {
	RunStarted(ctx context.Context, trials []trial.Trial)
	TrialStarted(ctx context.Context, t trial.Trial)
	TrialFinished(ctx context.Context, o trial.Outcome)
	RunFinished(ctx context.Context, outcomes []trial.Outcome)
}

type Scheduler struct {
	invoker   Invoker
	sink      sink.Sink
	gate      monitor.TrialMonitor
	observers []Observer
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a scheduler. The gate is also notified as an observer.
func New(invoker Invoker, s sink.Sink, gate monitor.TrialMonitor, logger *slog.Logger, observers ...Observer) *Scheduler {
	return &Scheduler{
		invoker:   invoker,
		sink:      s,
		gate:      gate,
		observers: append([]Observer{gate}, observers...),
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes the plan one trial at a time. Failed and unparsable trials do
// not stop the loop. Cancelling ctx stops before the next trial and returns
// the outcomes so far together with ctx.Err().
func (s *Scheduler) Run(ctx context.Context, plan Plan) ([]trial.Outcome, error) {
	s.logger.InfoContext(ctx, "Starting experiment", "trials", len(plan.Trials), "seed", plan.Seed)
	for _, o := range s.observers {
		o.RunStarted(ctx, plan.Trials)
	}

	outcomes := make([]trial.Outcome, 0, len(plan.Trials))
	finish := func() {
		for _, o := range s.observers {
			o.RunFinished(ctx, outcomes)
		}
	}

	for n, t := range plan.Trials {
		if err := ctx.Err(); err != nil {
			s.logger.WarnContext(ctx, "Experiment interrupted", "completed", n, "remaining", len(plan.Trials)-n)
			finish()
			return outcomes, err
		}

		if !s.gate.TryAcquire() {
			finish()
			return outcomes, fmt.Errorf("start %s: %w", t, ErrTrialInFlight)
		}
		out := s.runTrial(ctx, t, n+1, len(plan.Trials))
		s.gate.Release()

		outcomes = append(outcomes, out)
		for _, o := range s.observers {
			o.TrialFinished(ctx, out)
		}
	}

	finish()
	s.logger.InfoContext(ctx, "Experiment finished", "trials", len(outcomes))
	return outcomes, nil
}

func (s *Scheduler) runTrial(ctx context.Context, t trial.Trial, pos, total int) trial.Outcome {
	started := s.now()
	s.logger.InfoContext(ctx, "Starting run", "mode", t.Mode, "index", t.Index, "position", pos, "total", total)
	for _, o := range s.observers {
		o.TrialStarted(ctx, t)
	}

	out := s.measure(ctx, t)
	out.Started = started
	out.Finished = s.now()

	s.logger.InfoContext(ctx, "Completed run", "mode", t.Mode, "index", t.Index, "state", out.State.String())
	return out
}

func (s *Scheduler) measure(ctx context.Context, t trial.Trial) trial.Outcome {
	text, err := s.invoker.Invoke(ctx, t)
	if err != nil {
		s.logger.ErrorContext(ctx, "Run failed", "mode", t.Mode, "index", t.Index, "error", err)
		return trial.Failed(t, err)
	}

	m, ok := parser.Parse(text)
	if !ok {
		s.logger.WarnContext(ctx, "Could not parse energy data", "mode", t.Mode, "index", t.Index)
		return trial.SkippedUnparsable(t)
	}

	res := trial.Result{
		Mode:            t.Mode,
		Index:           t.Index,
		EnergyJoules:    m.EnergyJoules,
		DurationSeconds: m.DurationSeconds,
	}
	if err := s.sink.Append(res); err != nil {
		s.logger.ErrorContext(ctx, "Failed to record result", "mode", t.Mode, "index", t.Index, "error", err)
		return trial.Failed(t, fmt.Errorf("record result: %w", err))
	}

	s.logger.InfoContext(ctx, "Recorded run",
		"mode", t.Mode,
		"index", t.Index,
		"energy_joules", m.EnergyJoules,
		"duration_sec", m.DurationSeconds,
	)
	return trial.Recorded(t, res)
}
