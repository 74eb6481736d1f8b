package monitor

import (
	"context"

	"github.com/ciricc/render-energy-bench/internal/trial"
)

// ProgressMetrics is a snapshot of how far a run has got.
type ProgressMetrics struct {
	// Planned is the number of trials in the plan
	Planned int64
	// Completed counts trials in any terminal state
	Completed int64
	Recorded  int64
	Skipped   int64
	Failed    int64
	// InFlight is 1 while a trial's command runs, else 0
	InFlight int64
	// ConsecutiveFailures resets on any non-failed trial
	ConsecutiveFailures int64
	// Running is true between RunStarted and RunFinished
	Running bool
}

// TrialMonitor gates trial execution and tracks run progress.
// Only one trial slot exists: concurrent trials would pollute each other's
// power readings.
type TrialMonitor interface {
	// GetMetrics returns current progress
	GetMetrics() ProgressMetrics

	// IsHealthy is false once too many trials in a row have failed
	IsHealthy() bool

	// TryAcquire takes the trial slot. Returns false if a trial is already
	// in flight. The caller MUST call Release() when the trial completes.
	TryAcquire() bool

	// Release frees the trial slot
	Release()

	RunStarted(ctx context.Context, trials []trial.Trial)
	TrialStarted(ctx context.Context, t trial.Trial)
	TrialFinished(ctx context.Context, o trial.Outcome)
	RunFinished(ctx context.Context, outcomes []trial.Outcome)
}
