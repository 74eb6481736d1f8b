package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ciricc/render-energy-bench/internal/backend"
	"github.com/ciricc/render-energy-bench/internal/trial"
)

var ErrTrialTimeout = errors.New("trial timed out")

// ExecError reports a measurement command that could not be launched or
// exited non-zero. ExitCode is -1 when the process never ran.
type ExecError struct {
	Trial    trial.Trial
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("run %s: exit status %d", e.Trial, e.ExitCode)
	}
	return fmt.Sprintf("run %s: %v", e.Trial, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Invoker runs one trial at a time under the power meter.
type Invoker struct {
	settings Settings
	backends map[trial.Mode]backend.Backend
	runner   Runner
	sleep    Sleeper
	logger   *slog.Logger
}

// Option configures an Invoker.
type Option func(i *Invoker)

// WithRunner replaces the subprocess runner, ExecRunner by default.
func WithRunner(r Runner) Option {
	return func(i *Invoker) { i.runner = r }
}

// WithSleeper replaces the inter-trial pause, Sleep by default.
func WithSleeper(s Sleeper) Option {
	return func(i *Invoker) { i.sleep = s }
}

// New returns an invoker that renders each mode on the backend resolved for
// it. Modes missing from backends render on CPU.
func New(settings Settings, backends map[trial.Mode]backend.Backend, logger *slog.Logger, opts ...Option) *Invoker {
	i := &Invoker{
		settings: settings,
		backends: backends,
		runner:   ExecRunner{WaitDelay: 10 * time.Second},
		sleep:    Sleep,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Command returns the command line used for t.
func (i *Invoker) Command(t trial.Trial) Command {
	b, ok := i.backends[t.Mode]
	if !ok {
		b = backend.Backend{Kind: backend.CPU}
	}
	return BuildCommand(i.settings, t, b)
}

// Invoke runs the measurement for t and returns its standard output. It
// always waits the configured pause before returning, whatever the result.
func (i *Invoker) Invoke(ctx context.Context, t trial.Trial) (string, error) {
	defer i.pause(ctx, t)

	cmd := i.Command(t)
	i.logger.DebugContext(ctx, "Launching measurement", "trial", t.String(), "cmd", cmd.String())

	runCtx := ctx
	if i.settings.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, i.settings.Timeout)
		defer cancel()
	}

	stdout, stderr, err := i.runner.Run(runCtx, cmd.Name, cmd.Args)
	i.writeRawLog(t, cmd, stdout, stderr, err)

	if err != nil {
		if ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrTrialTimeout, i.settings.Timeout, err)
		}
		execErr := &ExecError{
			Trial:    t,
			ExitCode: exitCode(err),
			Stdout:   string(stdout),
			Stderr:   string(stderr),
			Err:      err,
		}
		i.logger.ErrorContext(ctx, "Measurement command failed",
			"trial", t.String(),
			"exit_code", execErr.ExitCode,
			"error", err,
			"stdout", execErr.Stdout,
			"stderr", execErr.Stderr,
		)
		return "", execErr
	}

	i.logger.DebugContext(ctx, "Measurement output", "trial", t.String(), "stdout", string(stdout))
	return string(stdout), nil
}

func (i *Invoker) pause(ctx context.Context, t trial.Trial) {
	i.logger.DebugContext(ctx, "Pausing before next trial", "trial", t.String(), "pause", i.settings.Pause)
	i.sleep(ctx, i.settings.Pause)
}

func (i *Invoker) writeRawLog(t trial.Trial, cmd Command, stdout, stderr []byte, runErr error) {
	if i.settings.RawLogDir == "" {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# trial: %s\n# command: %s\n", t, cmd)
	if runErr != nil {
		fmt.Fprintf(&b, "# error: %v\n", runErr)
	}
	b.WriteString("## stdout\n")
	b.Write(stdout)
	b.WriteString("\n## stderr\n")
	b.Write(stderr)

	path := RawLogPath(i.settings.RawLogDir, t)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		i.logger.Warn("Failed to write raw log", "trial", t.String(), "path", path, "error", err)
	}
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
