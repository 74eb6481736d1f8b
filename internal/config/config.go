package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ciricc/render-energy-bench/internal/backend"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	App        AppConfig        `yaml:"app"`
	Meter      MeterConfig      `yaml:"meter"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Backend    BackendConfig    `yaml:"backend"`
	Output     OutputConfig     `yaml:"output"`
	Log        LogConfig        `yaml:"log"`
	Status     StatusConfig     `yaml:"status"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Ledger     LedgerConfig     `yaml:"ledger"`
}

// AppConfig describes the rendering application under test.
type AppConfig struct {
	Binary    string `yaml:"binary"`
	SceneFile string `yaml:"scene_file"`
	Script    string `yaml:"script"`
	// ScriptFlag precedes Script on the command line. Blender expects --python.
	ScriptFlag string   `yaml:"script_flag"`
	Engine     string   `yaml:"engine"`
	ExtraArgs  []string `yaml:"extra_args"`
}

// MeterConfig describes the power measurement tool wrapping the app.
type MeterConfig struct {
	Binary   string        `yaml:"binary"`
	Interval time.Duration `yaml:"interval"`
}

type ExperimentConfig struct {
	Label       string        `yaml:"label"`
	Repetitions int           `yaml:"repetitions"`
	Pause       time.Duration `yaml:"pause"`
	// TrialTimeout bounds a single trial. Zero waits forever.
	TrialTimeout time.Duration `yaml:"trial_timeout"`
	// Seed fixes the plan order. Zero draws a fresh seed per run.
	Seed uint64 `yaml:"seed"`
}

type BackendConfig struct {
	Preferred  string `yaml:"preferred"`
	RequireGPU bool   `yaml:"require_gpu"`
}

type OutputConfig struct {
	ResultsFile string `yaml:"results_file"`
	RawLogDir   string `yaml:"raw_log_dir"`
	ReportFile  string `yaml:"report_file"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StatusConfig struct {
	Address          string `yaml:"address"`
	FailureThreshold int    `yaml:"failure_threshold"`
}

type TelemetryConfig struct {
	ConfigPath string `yaml:"config_path"`
}

type LedgerConfig struct {
	DSN string `yaml:"dsn"`
}

// Default returns the configuration used for fields a file leaves unset.
func Default() Config {
	return Config{
		App: AppConfig{
			Binary:     "blender",
			SceneFile:  "data/Donut.blend",
			Script:     "render_script.py",
			ScriptFlag: "--script",
		},
		Meter: MeterConfig{
			Binary:   "energibridge",
			Interval: 500 * time.Millisecond,
		},
		Experiment: ExperimentConfig{
			Repetitions: 30,
			Pause:       60 * time.Second,
		},
		Backend: BackendConfig{
			Preferred: string(backend.Auto),
		},
		Output: OutputConfig{
			ResultsFile: "results/experiment_results.csv",
			RawLogDir:   "results/energibridge-outputs",
			ReportFile:  "results/run_report.json",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Status: StatusConfig{
			FailureThreshold: 5,
		},
		Telemetry: TelemetryConfig{
			ConfigPath: "otel.yaml",
		},
	}
}

// Load reads the YAML file at path on top of Default and validates the
// result. An empty path yields the validated defaults.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	required := []struct{ key, value string }{
		{"app.binary", c.App.Binary},
		{"app.scene_file", c.App.SceneFile},
		{"app.script", c.App.Script},
		{"app.script_flag", c.App.ScriptFlag},
		{"meter.binary", c.Meter.Binary},
		{"output.results_file", c.Output.ResultsFile},
		{"output.raw_log_dir", c.Output.RawLogDir},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.key))
		}
	}

	if c.Experiment.Repetitions < 1 {
		errs = append(errs, fmt.Errorf("experiment.repetitions must be >= 1, got %d", c.Experiment.Repetitions))
	}
	if c.Experiment.Pause < 0 {
		errs = append(errs, fmt.Errorf("experiment.pause must not be negative"))
	}
	if c.Experiment.TrialTimeout < 0 {
		errs = append(errs, fmt.Errorf("experiment.trial_timeout must not be negative"))
	}
	if c.Meter.Interval < time.Millisecond {
		errs = append(errs, fmt.Errorf("meter.interval must be at least 1ms, got %s", c.Meter.Interval))
	}
	if _, err := backend.ParseKind(c.Backend.Preferred); err != nil {
		errs = append(errs, fmt.Errorf("backend.preferred: %w", err))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text|json, got %q", c.Log.Format))
	}
	if c.Status.FailureThreshold < 0 {
		errs = append(errs, fmt.Errorf("status.failure_threshold must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// LogLevel returns the configured slog level, defaulting to info.
func (c Config) LogLevel() slog.Level {
	l, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// PreferredBackend returns the configured backend kind, defaulting to auto.
func (c Config) PreferredBackend() backend.Kind {
	k, err := backend.ParseKind(c.Backend.Preferred)
	if err != nil {
		return backend.Auto
	}
	return k
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}
