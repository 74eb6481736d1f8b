package trial

import (
	"fmt"
	"time"
)

// Mode is the compute backend under test.
type Mode string

const (
	ModeCPU Mode = "cpu"
	ModeGPU Mode = "gpu"
)

// Modes lists every mode in plan order.
var Modes = []Mode{ModeCPU, ModeGPU}

// Trial identifies one measurement attempt.
type Trial struct {
	Mode  Mode
	Index int
}

// String formats the trial as mode#index, e.g. cpu#3.
func (t Trial) String() string {
	return fmt.Sprintf("%s#%d", t.Mode, t.Index)
}

// Result is a parsed measurement for a completed trial.
type Result struct {
	Mode            Mode
	Index           int
	EnergyJoules    float64
	DurationSeconds float64
}

// State is the terminal state of a trial.
type State int

const (
	StatePending State = iota
	StateRunning
	StateRecorded
	StateSkippedUnparsable
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateRecorded:
		return "recorded"
	case StateSkippedUnparsable:
		return "skipped_unparsable"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is the tagged result of running one trial. Result is set only
// when State is StateRecorded, Err only when State is StateFailed.
type Outcome struct {
	Trial    Trial
	State    State
	Result   *Result
	Err      error
	Started  time.Time
	Finished time.Time
}

// Recorded is the outcome of a trial whose measurement was parsed and stored.
func Recorded(t Trial, r Result) Outcome {
	return Outcome{Trial: t, State: StateRecorded, Result: &r}
}

// SkippedUnparsable is the outcome of a trial whose output held no measurement.
func SkippedUnparsable(t Trial) Outcome {
	return Outcome{Trial: t, State: StateSkippedUnparsable}
}

// Failed is the outcome of a trial that could not run or could not be stored.
func Failed(t Trial, err error) Outcome {
	return Outcome{Trial: t, State: StateFailed, Err: err}
}
