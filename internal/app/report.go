package app

import (
	"time"

	"github.com/ciricc/render-energy-bench/internal/scheduler"
	"github.com/ciricc/render-energy-bench/internal/trial"
	"github.com/ciricc/render-energy-bench/pkg/benchreport"
	"github.com/samber/lo"
)

var writeReport = benchreport.Write

// Report assembles the run report for the executed part of plan.
func (a *Application) Report(plan scheduler.Plan, outcomes []trial.Outcome, interrupted bool, now time.Time) benchreport.RunReport {
	cfg := a.Config
	gpu := a.Backends[trial.ModeGPU]

	entries := lo.Map(outcomes, func(o trial.Outcome, i int) benchreport.TrialEntry {
		return entryFromOutcome(i+1, o)
	})

	var ledgerRunID uint
	if a.ledger != nil {
		ledgerRunID = a.ledger.RunID()
	}

	return benchreport.RunReport{
		Version:          benchreport.Version,
		TimestampRFC3339: now.Format(time.RFC3339),
		Label:            cfg.Experiment.Label,
		Interrupted:      interrupted,
		LedgerRunID:      ledgerRunID,
		Env: benchreport.ReportEnv{
			OS:            a.Host.OS,
			Arch:          a.Host.Arch,
			CPUModel:      a.Host.CPUModel,
			CPUNumLogical: a.Host.CPUNumLogical,
			GPU: benchreport.ReportGPU{
				Name:       a.Host.GPU.Name,
				Driver:     a.Host.GPU.Driver,
				VRAMTotal:  a.Host.GPU.MemTotalMB,
				PowerLimit: a.Host.GPU.PowerLimit,
				Backend:    string(gpu.Kind),
				Fallback:   gpu.Fallback,
			},
		},
		Params: benchreport.ReportParams{
			AppBinary:      cfg.App.Binary,
			SceneFile:      cfg.App.SceneFile,
			Script:         cfg.App.Script,
			Engine:         cfg.App.Engine,
			ExtraArgs:      cfg.App.ExtraArgs,
			MeterBinary:    cfg.Meter.Binary,
			IntervalMs:     cfg.Meter.Interval.Milliseconds(),
			PauseSeconds:   cfg.Experiment.Pause.Seconds(),
			TimeoutSeconds: cfg.Experiment.TrialTimeout.Seconds(),
			Repetitions:    cfg.Experiment.Repetitions,
			Seed:           plan.Seed,
			ResultsFile:    cfg.Output.ResultsFile,
		},
		Planned: len(plan.Trials),
		Modes:   benchreport.Summarize(entries),
		Trials:  entries,
	}
}

func entryFromOutcome(position int, o trial.Outcome) benchreport.TrialEntry {
	e := benchreport.TrialEntry{
		Position:  position,
		RunType:   string(o.Trial.Mode),
		RunNumber: o.Trial.Index,
		State:     o.State.String(),
	}
	if !o.Started.IsZero() {
		e.StartedRFC3339 = o.Started.Format(time.RFC3339)
		e.WallSeconds = o.Finished.Sub(o.Started).Seconds()
	}
	if o.Result != nil {
		energy, duration := o.Result.EnergyJoules, o.Result.DurationSeconds
		e.EnergyJoules = &energy
		e.DurationSeconds = &duration
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}
