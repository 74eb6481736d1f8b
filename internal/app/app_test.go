package app

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/ciricc/render-energy-bench/internal/backend"
	"github.com/ciricc/render-energy-bench/internal/config"
	"github.com/ciricc/render-energy-bench/internal/health"
	"github.com/ciricc/render-energy-bench/internal/hostinfo"
	"github.com/ciricc/render-energy-bench/internal/invoker"
	"github.com/ciricc/render-energy-bench/internal/scheduler"
	"github.com/ciricc/render-energy-bench/internal/sink"
	"github.com/ciricc/render-energy-bench/internal/trial"
	"github.com/ciricc/render-energy-bench/pkg/benchreport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// modeRunner succeeds for CPU trials and fails every GPU trial.
type modeRunner struct {
	calls int
}

func (r *modeRunner) Run(_ context.Context, _ string, args []string) ([]byte, []byte, error) {
	r.calls++
	if slices.Contains(args, "--render_mode=gpu") {
		return nil, []byte("CUDA error: out of memory"), errors.New("exit status 1")
	}
	return []byte("Energy consumption in joules: 250.5 for 12.25 sec of execution.\n"), nil, nil
}

func noSleep(context.Context, time.Duration) {}

func runConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Experiment.Label = "ci"
	cfg.Experiment.Repetitions = 2
	cfg.Experiment.Pause = 0
	cfg.Output.ResultsFile = filepath.Join(dir, "results", "experiment_results.csv")
	cfg.Output.RawLogDir = filepath.Join(dir, "results", "raw")
	cfg.Output.ReportFile = filepath.Join(dir, "results", "run_report.json")
	cfg.Telemetry.ConfigPath = ""
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config, runner invoker.Runner) *Application {
	t.Helper()
	a, err := New(context.Background(), cfg,
		WithHost(hostinfo.Host{OS: "linux", Arch: "amd64", CPUModel: "Test CPU", Backends: []backend.Kind{backend.CUDA}}),
		WithInvokerOptions(invoker.WithRunner(runner), invoker.WithSleeper(noSleep)),
		WithLogOutput(io.Discard),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestRunWritesResultsAndReport(t *testing.T) {
	cfg := runConfig(t)
	runner := &modeRunner{}
	a := newTestApp(t, cfg, runner)
	assert.Equal(t, backend.CUDA, a.Backends[trial.ModeGPU].Kind)

	plan, err := scheduler.BuildPlan(cfg.Experiment.Repetitions, trial.Modes, 7)
	require.NoError(t, err)

	outcomes, err := a.Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, outcomes, 4)
	assert.Equal(t, 4, runner.calls)

	b, err := os.ReadFile(cfg.Output.ResultsFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(sink.Header, ","), lines[0])
	for _, l := range lines[1:] {
		assert.True(t, strings.HasPrefix(l, "cpu,"), l)
		assert.True(t, strings.HasSuffix(l, ",250.5,12.25"), l)
	}

	report, err := benchreport.Read(cfg.Output.ReportFile)
	require.NoError(t, err)
	assert.False(t, report.Interrupted)
	assert.Equal(t, "ci", report.Label)
	assert.Equal(t, uint64(7), report.Params.Seed)
	assert.Equal(t, 4, report.Planned)
	assert.Equal(t, "CUDA", report.Env.GPU.Backend)
	assert.Equal(t, "Test CPU", report.Env.CPUModel)
	assert.Equal(t, benchreport.ModeSummary{Executed: 2, Recorded: 2}, report.Modes["cpu"])
	assert.Equal(t, benchreport.ModeSummary{Executed: 2, Failed: 2}, report.Modes["gpu"])
	require.Len(t, report.Trials, 4)
	for i, e := range report.Trials {
		assert.Equal(t, i+1, e.Position)
		assert.Equal(t, string(plan.Trials[i].Mode), e.RunType)
		assert.Equal(t, plan.Trials[i].Index, e.RunNumber)
	}
}

func TestRunInterruptedStillWritesReport(t *testing.T) {
	cfg := runConfig(t)
	runner := &modeRunner{}
	a := newTestApp(t, cfg, runner)

	plan, err := scheduler.BuildPlan(cfg.Experiment.Repetitions, trial.Modes, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes, err := a.Run(ctx, plan)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, outcomes)
	assert.Zero(t, runner.calls)

	report, err := benchreport.Read(cfg.Output.ReportFile)
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Equal(t, 4, report.Planned)
	assert.Empty(t, report.Trials)
}

func TestNewRequiresGPU(t *testing.T) {
	cfg := runConfig(t)
	cfg.Backend.RequireGPU = true
	_, err := New(context.Background(), cfg,
		WithHost(hostinfo.Host{OS: "linux"}),
		WithLogOutput(io.Discard),
	)
	assert.ErrorIs(t, err, ErrNoGPU)
}

func TestStatusServerAfterRun(t *testing.T) {
	cfg := runConfig(t)
	cfg.Status.Address = "127.0.0.1:0"
	a := newTestApp(t, cfg, &modeRunner{})

	plan, err := scheduler.BuildPlan(1, trial.Modes, 3)
	require.NoError(t, err)
	_, err = a.Run(context.Background(), plan)
	require.NoError(t, err)
	require.NotNil(t, a.StatusAddr())

	conn, err := grpc.NewClient(a.StatusAddr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)

	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: health.ExperimentService})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.Status)

	progress := a.HealthChecker.GetProgress()
	assert.Equal(t, int64(2), progress.Completed)
	assert.Equal(t, int64(1), progress.Failed)
}

func TestUndetectedGPUDefersToRenderScript(t *testing.T) {
	cfg := runConfig(t)
	a, err := New(context.Background(), cfg,
		WithHost(hostinfo.Host{OS: "windows", Arch: "amd64"}),
		WithInvokerOptions(invoker.WithRunner(&modeRunner{}), invoker.WithSleeper(noSleep)),
		WithLogOutput(io.Discard),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	gpu := a.Invoker.Command(trial.Trial{Mode: trial.ModeGPU, Index: 1})
	assert.Contains(t, gpu.Args, "--compute_backend=AUTO")
	assert.NotContains(t, gpu.Args, "--compute_backend=CPU")

	cpu := a.Invoker.Command(trial.Trial{Mode: trial.ModeCPU, Index: 1})
	assert.Contains(t, cpu.Args, "--compute_backend=CPU")

	plan, err := scheduler.BuildPlan(1, trial.Modes, 5)
	require.NoError(t, err)
	_, err = a.Run(context.Background(), plan)
	require.NoError(t, err)

	report, err := benchreport.Read(cfg.Output.ReportFile)
	require.NoError(t, err)
	assert.Equal(t, "AUTO", report.Env.GPU.Backend)
	assert.False(t, report.Env.GPU.Fallback)
}
