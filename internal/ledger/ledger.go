package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ciricc/render-energy-bench/internal/trial"
	"github.com/samber/lo"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Ledger mirrors a run and its trials into a SQL database. The CSV results
// table stays authoritative: ledger errors are logged, never returned to the
// trial loop.
type Ledger struct {
	db       *gorm.DB
	log      *slog.Logger
	run      *Run
	position int
}

// Open connects to MySQL and migrates the ledger tables.
func Open(dsn string, log *slog.Logger) (*Ledger, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect ledger db: %w", err)
	}
	if err := db.AutoMigrate(&Run{}, &TrialRecord{}); err != nil {
		return nil, fmt.Errorf("migrate ledger db: %w", err)
	}
	return New(db, log), nil
}

// New wraps an open database. Tables must already be migrated.
func New(db *gorm.DB, log *slog.Logger) *Ledger {
	return &Ledger{db: db, log: log}
}

// StartRun inserts the run row that subsequent trials attach to.
func (l *Ledger) StartRun(ctx context.Context, run Run) error {
	if err := l.db.WithContext(ctx).Create(&run).Error; err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	l.run = &run
	l.position = 0
	l.log.InfoContext(ctx, "Ledger run created", "run_id", run.ID)
	return nil
}

// RunID is the id of the current run row, 0 before StartRun.
func (l *Ledger) RunID() uint {
	if l.run == nil {
		return 0
	}
	return l.run.ID
}

func (l *Ledger) RunStarted(ctx context.Context, trials []trial.Trial) {
	if l.run == nil {
		return
	}
	l.run.Planned = len(trials)
	if err := l.db.WithContext(ctx).Model(l.run).Update("planned", l.run.Planned).Error; err != nil {
		l.log.WarnContext(ctx, "Ledger update failed", "run_id", l.run.ID, "error", err)
	}
}

func (l *Ledger) TrialStarted(context.Context, trial.Trial) {}

func (l *Ledger) TrialFinished(ctx context.Context, o trial.Outcome) {
	if l.run == nil {
		return
	}
	l.position++
	rec := recordFromOutcome(l.run.ID, l.position, o)
	// An interrupted trial finishes after ctx is cancelled; its row must still land.
	if err := l.db.WithContext(context.WithoutCancel(ctx)).Create(&rec).Error; err != nil {
		l.log.WarnContext(ctx, "Ledger insert failed", "trial", o.Trial.String(), "error", err)
	}
}

func (l *Ledger) RunFinished(ctx context.Context, outcomes []trial.Outcome) {
	if l.run == nil {
		return
	}
	now := time.Now()
	updates := map[string]interface{}{
		"recorded":    count(outcomes, trial.StateRecorded),
		"skipped":     count(outcomes, trial.StateSkippedUnparsable),
		"failed":      count(outcomes, trial.StateFailed),
		"finished_at": now,
	}
	// The run may end on an interrupt; the write must still land.
	if err := l.db.WithContext(context.WithoutCancel(ctx)).Model(l.run).Updates(updates).Error; err != nil {
		l.log.WarnContext(ctx, "Ledger update failed", "run_id", l.run.ID, "error", err)
	}
}

func count(outcomes []trial.Outcome, s trial.State) int {
	return lo.CountBy(outcomes, func(o trial.Outcome) bool { return o.State == s })
}
