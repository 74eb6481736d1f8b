package invoker

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ciricc/render-energy-bench/internal/backend"
	"github.com/ciricc/render-energy-bench/internal/config"
	"github.com/ciricc/render-energy-bench/internal/trial"
)

// Settings is the part of the configuration the invoker needs.
type Settings struct {
	AppBinary   string
	SceneFile   string
	Script      string
	ScriptFlag  string
	Engine      string
	ExtraArgs   []string
	MeterBinary string
	Interval    time.Duration
	RawLogDir   string
	Pause       time.Duration
	Timeout     time.Duration
}

func SettingsFromConfig(c config.Config) Settings {
	return Settings{
		AppBinary:   c.App.Binary,
		SceneFile:   c.App.SceneFile,
		Script:      c.App.Script,
		ScriptFlag:  c.App.ScriptFlag,
		Engine:      c.App.Engine,
		ExtraArgs:   c.App.ExtraArgs,
		MeterBinary: c.Meter.Binary,
		Interval:    c.Meter.Interval,
		RawLogDir:   c.Output.RawLogDir,
		Pause:       c.Experiment.Pause,
		Timeout:     c.Experiment.TrialTimeout,
	}
}

// RenderArgs is the configuration handed to the in-app render script after
// the "--" separator.
type RenderArgs struct {
	Mode    trial.Mode
	Backend backend.Backend
	Engine  string
	Extra   []string
}

func (r RenderArgs) Args() []string {
	args := []string{
		"--render_mode=" + string(r.Mode),
		"--compute_backend=" + string(r.Backend.Kind),
	}
	if r.Engine != "" {
		args = append(args, "--render_engine="+strings.ToUpper(r.Engine))
	}
	return append(args, r.Extra...)
}

// Command is a fully built measurement command line.
type Command struct {
	Name        string
	Args        []string
	MeterOutput string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// MeterOutputPath is where the measurement tool writes its samples for t.
func MeterOutputPath(dir string, t trial.Trial) string {
	return filepath.ToSlash(filepath.Join(dir, fmt.Sprintf("power_measure_%s_run%d.csv", t.Mode, t.Index)))
}

// RawLogPath is where the captured output of t is kept.
func RawLogPath(dir string, t trial.Trial) string {
	return filepath.ToSlash(filepath.Join(dir, fmt.Sprintf("%s_run%d.log", t.Mode, t.Index)))
}

// BuildCommand wraps the application invocation for t in the measurement tool.
func BuildCommand(s Settings, t trial.Trial, b backend.Backend) Command {
	out := MeterOutputPath(s.RawLogDir, t)

	args := []string{
		"--output", out,
		"--interval", strconv.FormatInt(s.Interval.Milliseconds(), 10),
		"--summary",
		"--",
		s.AppBinary,
		"--background", s.SceneFile,
		s.ScriptFlag, s.Script,
		"--",
	}
	args = append(args, RenderArgs{
		Mode:    t.Mode,
		Backend: b,
		Engine:  s.Engine,
		Extra:   s.ExtraArgs,
	}.Args()...)

	return Command{Name: s.MeterBinary, Args: args, MeterOutput: out}
}
