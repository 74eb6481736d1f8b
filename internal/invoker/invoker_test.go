package invoker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/ciricc/render-energy-bench/internal/backend"
	"github.com/ciricc/render-energy-bench/internal/trial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	stdout string
	stderr string
	err    error
	calls  [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return []byte(f.stdout), []byte(f.stderr), f.err
}

type sleepRecorder struct {
	pauses []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) {
	s.pauses = append(s.pauses, d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings(dir string) Settings {
	return Settings{
		AppBinary:   "/opt/blender/blender",
		SceneFile:   "data/Donut.blend",
		Script:      "render_script.py",
		ScriptFlag:  "--script",
		MeterBinary: "/usr/local/bin/energibridge",
		Interval:    500 * time.Millisecond,
		RawLogDir:   dir,
		Pause:       90 * time.Second,
	}
}

func TestBuildCommand(t *testing.T) {
	s := testSettings("results/raw")
	s.Engine = "cycles"
	s.ExtraArgs = []string{"--samples=32"}

	cmd := BuildCommand(s, trial.Trial{Mode: trial.ModeGPU, Index: 7}, backend.Backend{Kind: backend.OptiX})

	assert.Equal(t, "/usr/local/bin/energibridge", cmd.Name)
	assert.Equal(t, []string{
		"--output", "results/raw/power_measure_gpu_run7.csv",
		"--interval", "500",
		"--summary",
		"--",
		"/opt/blender/blender",
		"--background", "data/Donut.blend",
		"--script", "render_script.py",
		"--",
		"--render_mode=gpu",
		"--compute_backend=OPTIX",
		"--render_engine=CYCLES",
		"--samples=32",
	}, cmd.Args)
	assert.Equal(t, "results/raw/power_measure_gpu_run7.csv", cmd.MeterOutput)
}

func TestOutputPathsAreUniquePerTrial(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range trial.Modes {
		for i := 1; i <= 30; i++ {
			tr := trial.Trial{Mode: m, Index: i}
			for _, p := range []string{MeterOutputPath("out", tr), RawLogPath("out", tr)} {
				require.False(t, seen[p], "duplicate path %s", p)
				seen[p] = true
			}
		}
	}
}

func TestTrialPathsShareSlashForm(t *testing.T) {
	dir := filepath.Join("results", "energibridge-outputs")
	tr := trial.Trial{Mode: trial.ModeGPU, Index: 7}

	assert.Equal(t, "results/energibridge-outputs/power_measure_gpu_run7.csv", MeterOutputPath(dir, tr))
	assert.Equal(t, "results/energibridge-outputs/gpu_run7.log", RawLogPath(dir, tr))
}

func TestCommandDefaultsMissingModeToCPU(t *testing.T) {
	inv := New(testSettings(""), nil, discardLogger())
	cmd := inv.Command(trial.Trial{Mode: trial.ModeGPU, Index: 1})
	assert.Contains(t, cmd.Args, "--compute_backend=CPU")
}

func TestInvokeAlwaysPauses(t *testing.T) {
	tests := []struct {
		name    string
		runner  *fakeRunner
		wantErr bool
	}{
		{"success", &fakeRunner{stdout: "Energy consumption in joules: 10 for 2 sec"}, false},
		{"unparsable output", &fakeRunner{stdout: "render finished"}, false},
		{"failure", &fakeRunner{stderr: "device lost", err: errors.New("exit status 1")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeps := &sleepRecorder{}
			inv := New(testSettings(t.TempDir()), nil, discardLogger(),
				WithRunner(tt.runner), WithSleeper(sleeps.Sleep))

			out, err := inv.Invoke(context.Background(), trial.Trial{Mode: trial.ModeCPU, Index: 1})
			if tt.wantErr {
				require.Error(t, err)
				assert.Empty(t, out)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.runner.stdout, out)
			}
			assert.Equal(t, []time.Duration{90 * time.Second}, sleeps.pauses)
			assert.Len(t, tt.runner.calls, 1)
		})
	}
}

func TestInvokeWritesRawLog(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{stdout: "hello stdout", stderr: "hello stderr"}
	sleeps := &sleepRecorder{}
	inv := New(testSettings(dir), nil, discardLogger(), WithRunner(runner), WithSleeper(sleeps.Sleep))

	tr := trial.Trial{Mode: trial.ModeGPU, Index: 3}
	_, err := inv.Invoke(context.Background(), tr)
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(dir, "gpu_run3.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello stdout")
	assert.Contains(t, string(b), "hello stderr")
	assert.Contains(t, string(b), "# trial: gpu#3")
}

func TestInvokeExecFailureCarriesOutput(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	sleeps := &sleepRecorder{}
	s := testSettings(t.TempDir())
	inv := New(s, nil, discardLogger(), WithSleeper(sleeps.Sleep), WithRunner(shellRunner{script: "echo partial; echo boom >&2; exit 3"}))

	_, err := inv.Invoke(context.Background(), trial.Trial{Mode: trial.ModeCPU, Index: 2})
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 3, execErr.ExitCode)
	assert.Equal(t, "partial\n", execErr.Stdout)
	assert.Equal(t, "boom\n", execErr.Stderr)
	assert.Len(t, sleeps.pauses, 1)
}

func TestInvokeTimeout(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	sleeps := &sleepRecorder{}
	s := testSettings(t.TempDir())
	s.Timeout = 100 * time.Millisecond
	inv := New(s, nil, discardLogger(), WithSleeper(sleeps.Sleep), WithRunner(shellRunner{script: "exec sleep 5"}))

	start := time.Now()
	_, err := inv.Invoke(context.Background(), trial.Trial{Mode: trial.ModeGPU, Index: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTrialTimeout)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Len(t, sleeps.pauses, 1)
}

func TestInvokeLaunchError(t *testing.T) {
	sleeps := &sleepRecorder{}
	s := testSettings(t.TempDir())
	s.MeterBinary = filepath.Join(t.TempDir(), "missing-energibridge")
	inv := New(s, nil, discardLogger(), WithSleeper(sleeps.Sleep))

	_, err := inv.Invoke(context.Background(), trial.Trial{Mode: trial.ModeCPU, Index: 1})
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, -1, execErr.ExitCode)
	assert.Len(t, sleeps.pauses, 1)
}

// shellRunner ignores the measurement command line and runs script instead,
// keeping the real ExecRunner process handling.
type shellRunner struct {
	script string
}

func (r shellRunner) Run(ctx context.Context, _ string, _ []string) ([]byte, []byte, error) {
	return ExecRunner{WaitDelay: 200 * time.Millisecond}.Run(ctx, "sh", []string{"-c", r.script})
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	Sleep(ctx, time.Minute)
	assert.Less(t, time.Since(start), time.Second)
}
