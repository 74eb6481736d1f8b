package monitor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ciricc/render-energy-bench/internal/trial"
	"golang.org/x/sync/semaphore"
)

// SemaphoreTrialMonitor implements TrialMonitor with a weight-1 semaphore as
// the trial slot.
type SemaphoreTrialMonitor struct {
	sem              *semaphore.Weighted
	inFlight         atomic.Int64
	failureThreshold int64 // 0 disables the health check

	mu      sync.RWMutex
	metrics ProgressMetrics
}

// NewSemaphoreTrialMonitor creates a monitor that turns unhealthy after
// failureThreshold consecutive failed trials.
func NewSemaphoreTrialMonitor(failureThreshold int) *SemaphoreTrialMonitor {
	if failureThreshold < 0 {
		failureThreshold = 0
	}
	return &SemaphoreTrialMonitor{
		sem:              semaphore.NewWeighted(1),
		failureThreshold: int64(failureThreshold),
	}
}

func (m *SemaphoreTrialMonitor) GetMetrics() ProgressMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.metrics
	out.InFlight = m.inFlight.Load()
	return out
}

func (m *SemaphoreTrialMonitor) IsHealthy() bool {
	if m.failureThreshold == 0 {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics.ConsecutiveFailures < m.failureThreshold
}

func (m *SemaphoreTrialMonitor) TryAcquire() bool {
	if m.sem.TryAcquire(1) {
		m.inFlight.Add(1)
		return true
	}
	return false
}

func (m *SemaphoreTrialMonitor) Release() {
	m.inFlight.Add(-1)
	m.sem.Release(1)
}

func (m *SemaphoreTrialMonitor) RunStarted(_ context.Context, trials []trial.Trial) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = ProgressMetrics{Planned: int64(len(trials)), Running: true}
}

func (m *SemaphoreTrialMonitor) TrialStarted(context.Context, trial.Trial) {}

func (m *SemaphoreTrialMonitor) TrialFinished(_ context.Context, o trial.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.Completed++
	switch o.State {
	case trial.StateRecorded:
		m.metrics.Recorded++
		m.metrics.ConsecutiveFailures = 0
	case trial.StateSkippedUnparsable:
		m.metrics.Skipped++
		m.metrics.ConsecutiveFailures = 0
	case trial.StateFailed:
		m.metrics.Failed++
		m.metrics.ConsecutiveFailures++
	}
}

func (m *SemaphoreTrialMonitor) RunFinished(context.Context, []trial.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.Running = false
}

var _ TrialMonitor = (*SemaphoreTrialMonitor)(nil)
