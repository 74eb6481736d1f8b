package ledger

import (
	"time"

	"github.com/ciricc/render-energy-bench/internal/trial"
)

// Run is the metadata of one experiment execution, kept so runs on
// different machines or days can be told apart.
type Run struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Label       string `gorm:"type:varchar(200);index" json:"label"`
	Seed        uint64 `gorm:"index" json:"seed"`
	Repetitions int    `json:"repetitions"`
	CPUModel    string `gorm:"type:varchar(200)" json:"cpu_model"`
	GPUName     string `gorm:"type:varchar(200)" json:"gpu_name"`
	GPUBackend  string `gorm:"type:varchar(20)" json:"gpu_backend"`
	ResultsPath string `gorm:"type:varchar(500)" json:"results_path"`

	Planned    int        `json:"planned"`
	Recorded   int        `json:"recorded"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	FinishedAt *time.Time `json:"finished_at"`
}

// TrialRecord is one executed trial of a run, whatever its outcome.
type TrialRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	RunID           uint     `gorm:"not null;index" json:"run_id"`
	Position        int      `json:"position"`
	RunType         string   `gorm:"type:varchar(8);not null;index" json:"run_type"`
	RunNumber       int      `json:"run_number"`
	State           string   `gorm:"type:varchar(32);index" json:"state"`
	EnergyJoules    *float64 `json:"energy_joules"`
	DurationSeconds *float64 `json:"execution_time_sec"`
	Error           string   `gorm:"type:text" json:"error"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func recordFromOutcome(runID uint, position int, o trial.Outcome) TrialRecord {
	rec := TrialRecord{
		RunID:      runID,
		Position:   position,
		RunType:    string(o.Trial.Mode),
		RunNumber:  o.Trial.Index,
		State:      o.State.String(),
		StartedAt:  o.Started,
		FinishedAt: o.Finished,
	}
	if o.Result != nil {
		energy, duration := o.Result.EnergyJoules, o.Result.DurationSeconds
		rec.EnergyJoules = &energy
		rec.DurationSeconds = &duration
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	return rec
}
