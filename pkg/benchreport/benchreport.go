package benchreport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/lo"
)

const Version = "1"

type ReportGPU struct {
	Name       string  `json:"name"`
	Driver     string  `json:"driver"`
	VRAMTotal  float64 `json:"vram_total_mb"`
	PowerLimit float64 `json:"power_limit_w"`
	Backend    string  `json:"backend"`
	Fallback   bool    `json:"fallback"`
}

type ReportEnv struct {
	OS            string    `json:"os"`
	Arch          string    `json:"arch"`
	CPUModel      string    `json:"cpu_model"`
	CPUNumLogical int       `json:"cpu_num_logical"`
	GPU           ReportGPU `json:"gpu"`
}

type ReportParams struct {
	AppBinary      string   `json:"app_binary"`
	SceneFile      string   `json:"scene_file"`
	Script         string   `json:"script"`
	Engine         string   `json:"engine,omitempty"`
	ExtraArgs      []string `json:"extra_args,omitempty"`
	MeterBinary    string   `json:"meter_binary"`
	IntervalMs     int64    `json:"interval_ms"`
	PauseSeconds   float64  `json:"pause_seconds"`
	TimeoutSeconds float64  `json:"timeout_seconds"`
	Repetitions    int      `json:"repetitions"`
	Seed           uint64   `json:"seed"`
	ResultsFile    string   `json:"results_file"`
}

// TrialEntry is one executed trial in run order.
type TrialEntry struct {
	Position        int      `json:"position"`
	RunType         string   `json:"run_type"`
	RunNumber       int      `json:"run_number"`
	State           string   `json:"state"`
	EnergyJoules    *float64 `json:"energy_joules,omitempty"`
	DurationSeconds *float64 `json:"execution_time_sec,omitempty"`
	Error           string   `json:"error,omitempty"`
	StartedRFC3339  string   `json:"started"`
	WallSeconds     float64  `json:"wall_seconds"`
}

// ModeSummary counts trial outcomes for one run type.
type ModeSummary struct {
	Executed int `json:"executed"`
	Recorded int `json:"recorded"`
	Skipped  int `json:"skipped_unparsable"`
	Failed   int `json:"failed"`
}

type RunReport struct {
	Version          string                 `json:"version"`
	TimestampRFC3339 string                 `json:"timestamp_rfc3339"`
	Label            string                 `json:"label"`
	Interrupted      bool                   `json:"interrupted"`
	LedgerRunID      uint                   `json:"ledger_run_id,omitempty"`
	Env              ReportEnv              `json:"env"`
	Params           ReportParams           `json:"params"`
	Planned          int                    `json:"planned"`
	Modes            map[string]ModeSummary `json:"modes"`
	Trials           []TrialEntry           `json:"trials"`
}

// Summarize groups trial entries by run type.
func Summarize(trials []TrialEntry) map[string]ModeSummary {
	groups := lo.GroupBy(trials, func(e TrialEntry) string { return e.RunType })
	out := make(map[string]ModeSummary, len(groups))
	keys := lo.Keys(groups)
	sort.Strings(keys)
	for _, k := range keys {
		entries := groups[k]
		out[k] = ModeSummary{
			Executed: len(entries),
			Recorded: lo.CountBy(entries, func(e TrialEntry) bool { return e.State == "recorded" }),
			Skipped:  lo.CountBy(entries, func(e TrialEntry) bool { return e.State == "skipped_unparsable" }),
			Failed:   lo.CountBy(entries, func(e TrialEntry) bool { return e.State == "failed" }),
		}
	}
	return out
}

// Write stores the report as indented JSON, creating the parent directory.
func Write(r RunReport, path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Read loads a report written by Write.
func Read(path string) (RunReport, error) {
	var r RunReport
	f, err := os.Open(path)
	if err != nil {
		return r, err
	}
	defer f.Close()
	err = json.NewDecoder(f).Decode(&r)
	return r, err
}
