package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ciricc/render-energy-bench/internal/trial"
)

// Header is the fixed column order of the results table.
var Header = []string{"run_type", "run_number", "energy_joules", "execution_time_sec"}

// Sink persists recorded trial results.
type Sink interface {
	Append(r trial.Result) error
}

// CSVSink is an append-only CSV results table. Every Append opens and
// closes the file so a crash loses at most the trial in flight.
type CSVSink struct {
	path string
}

// NewCSVSink returns a sink writing to path. Call Initialize before Append.
func NewCSVSink(path string) *CSVSink {
	return &CSVSink{path: path}
}

func (s *CSVSink) Path() string { return s.path }

// Initialize truncates the results file and writes the header row.
func (s *CSVSink) Initialize() error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create results dir: %w", err)
		}
	}

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}
	return writeAndClose(f, Header)
}

func (s *CSVSink) Append(r trial.Result) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open results file: %w", err)
	}
	return writeAndClose(f, Row(r))
}

// Row formats a result in header column order.
func Row(r trial.Result) []string {
	return []string{
		string(r.Mode),
		strconv.Itoa(r.Index),
		strconv.FormatFloat(r.EnergyJoules, 'f', -1, 64),
		strconv.FormatFloat(r.DurationSeconds, 'f', -1, 64),
	}
}

func writeAndClose(f *os.File, record []string) error {
	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		_ = f.Close()
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush row: %w", err)
	}
	return f.Close()
}

var _ Sink = (*CSVSink)(nil)
