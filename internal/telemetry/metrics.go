package telemetry

import (
	"context"
	"fmt"

	"github.com/ciricc/render-energy-bench/internal/trial"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/ciricc/render-energy-bench"

// TrialMetrics exports trial outcomes as OpenTelemetry instruments. With no
// SDK configured the global provider is a no-op.
type TrialMetrics struct {
	trials   metric.Int64Counter
	energy   metric.Float64Histogram
	duration metric.Float64Histogram
	planned  metric.Int64Counter
}

func NewTrialMetrics(mp metric.MeterProvider) (*TrialMetrics, error) {
	meter := mp.Meter(meterName)

	trials, err := meter.Int64Counter("renderbench.trials",
		metric.WithDescription("Completed trials by mode and terminal state"))
	if err != nil {
		return nil, fmt.Errorf("trials counter: %w", err)
	}
	planned, err := meter.Int64Counter("renderbench.trials.planned",
		metric.WithDescription("Trials scheduled by the plan"))
	if err != nil {
		return nil, fmt.Errorf("planned counter: %w", err)
	}
	energy, err := meter.Float64Histogram("renderbench.trial.energy",
		metric.WithDescription("Energy reported for a recorded trial"),
		metric.WithUnit("J"))
	if err != nil {
		return nil, fmt.Errorf("energy histogram: %w", err)
	}
	duration, err := meter.Float64Histogram("renderbench.trial.duration",
		metric.WithDescription("Execution time reported for a recorded trial"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("duration histogram: %w", err)
	}

	return &TrialMetrics{trials: trials, energy: energy, duration: duration, planned: planned}, nil
}

func (m *TrialMetrics) RunStarted(ctx context.Context, trials []trial.Trial) {
	m.planned.Add(ctx, int64(len(trials)))
}

func (m *TrialMetrics) TrialStarted(context.Context, trial.Trial) {}

func (m *TrialMetrics) TrialFinished(ctx context.Context, o trial.Outcome) {
	mode := attribute.String("mode", string(o.Trial.Mode))
	m.trials.Add(ctx, 1, metric.WithAttributes(mode, attribute.String("state", o.State.String())))
	if o.Result != nil {
		m.energy.Record(ctx, o.Result.EnergyJoules, metric.WithAttributes(mode))
		m.duration.Record(ctx, o.Result.DurationSeconds, metric.WithAttributes(mode))
	}
}

func (m *TrialMetrics) RunFinished(context.Context, []trial.Outcome) {}
