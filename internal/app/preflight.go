package app

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ciricc/render-energy-bench/internal/backend"
	"github.com/ciricc/render-energy-bench/internal/config"
	"github.com/ciricc/render-energy-bench/internal/trial"
)

// ErrNoGPU is returned when a GPU backend is required but none resolved.
var ErrNoGPU = errors.New("no GPU compute backend available")

// Preflight checks that the configured executables and input files exist
// and creates the output directories. All problems are reported together.
func Preflight(cfg config.Config) error {
	var errs []error
	for _, bin := range []string{cfg.Meter.Binary, cfg.App.Binary} {
		if _, err := exec.LookPath(bin); err != nil {
			errs = append(errs, fmt.Errorf("executable %q not found: %w", bin, err))
		}
	}
	for _, f := range []string{cfg.App.SceneFile, cfg.App.Script} {
		info, err := os.Stat(f)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("input %q: %w", f, err))
		case info.IsDir():
			errs = append(errs, fmt.Errorf("input %q is a directory", f))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return EnsureDirectories(cfg)
}

// EnsureDirectories creates the raw log directory and the parents of the
// results and report files.
func EnsureDirectories(cfg config.Config) error {
	dirs := []string{cfg.Output.RawLogDir, filepath.Dir(cfg.Output.ResultsFile)}
	if cfg.Output.ReportFile != "" {
		dirs = append(dirs, filepath.Dir(cfg.Output.ReportFile))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// CheckBackends fails with ErrNoGPU when the configuration demands a GPU and
// GPU mode fell back to CPU or no GPU kind was detected on the host.
func CheckBackends(cfg config.Config, backends map[trial.Mode]backend.Backend) error {
	if !cfg.Backend.RequireGPU {
		return nil
	}
	if b, ok := backends[trial.ModeGPU]; !ok || b.Fallback || !b.IsGPU() || !b.Detected() {
		return fmt.Errorf("%w (preferred %s)", ErrNoGPU, cfg.PreferredBackend())
	}
	return nil
}
