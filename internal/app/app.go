package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/ciricc/render-energy-bench/internal/backend"
	"github.com/ciricc/render-energy-bench/internal/config"
	"github.com/ciricc/render-energy-bench/internal/health"
	"github.com/ciricc/render-energy-bench/internal/hostinfo"
	"github.com/ciricc/render-energy-bench/internal/invoker"
	"github.com/ciricc/render-energy-bench/internal/ledger"
	"github.com/ciricc/render-energy-bench/internal/monitor"
	"github.com/ciricc/render-energy-bench/internal/scheduler"
	"github.com/ciricc/render-energy-bench/internal/sink"
	"github.com/ciricc/render-energy-bench/internal/telemetry"
	"github.com/ciricc/render-energy-bench/internal/trial"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

type Application struct {
	Config        config.Config
	Logger        *slog.Logger
	Host          hostinfo.Host
	Backends      map[trial.Mode]backend.Backend
	Invoker       *invoker.Invoker
	Sink          *sink.CSVSink
	Monitor       *monitor.SemaphoreTrialMonitor
	HealthChecker *health.HealthChecker

	metrics    *telemetry.TrialMetrics
	telemetry  *telemetry.SDK
	ledger     *ledger.Ledger
	grpcServer *grpc.Server
	statusAddr net.Addr

	host        *hostinfo.Host
	invokerOpts []invoker.Option
	logOutput   io.Writer
}

type Option func(a *Application)

// WithHost skips the host probe and uses h instead.
func WithHost(h hostinfo.Host) Option {
	return func(a *Application) {
		a.host = &h
	}
}

// WithInvokerOptions passes options through to the trial invoker.
func WithInvokerOptions(opts ...invoker.Option) Option {
	return func(a *Application) {
		a.invokerOpts = append(a.invokerOpts, opts...)
	}
}

// WithLedger uses l instead of opening ledger.dsn.
func WithLedger(l *ledger.Ledger) Option {
	return func(a *Application) {
		a.ledger = l
	}
}

// WithLogOutput redirects log output, stdout by default.
func WithLogOutput(w io.Writer) Option {
	return func(a *Application) {
		a.logOutput = w
	}
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// New wires the application from cfg. It has no side effects on the output
// directories; those happen in Preflight and Run.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Application, error) {
	a := &Application{Config: cfg, logOutput: os.Stdout}
	for _, opt := range opts {
		opt(a)
	}
	a.Logger = NewLogger(cfg, a.logOutput)

	if a.host != nil {
		a.Host = *a.host
	} else {
		h, err := hostinfo.Probe(ctx)
		if err != nil {
			a.Logger.WarnContext(ctx, "Host probe incomplete", "error", err)
		}
		a.Host = h
	}

	a.Backends = backend.ResolveAll(trial.Modes, cfg.PreferredBackend(), a.Host.Backends)
	if err := CheckBackends(cfg, a.Backends); err != nil {
		return nil, err
	}
	switch gpu := a.Backends[trial.ModeGPU]; {
	case gpu.Fallback:
		a.Logger.WarnContext(ctx, "Preferred GPU backend not available, GPU trials render on CPU",
			"preferred", cfg.PreferredBackend(), "detected", a.Host.Backends)
	case !gpu.Detected():
		a.Logger.InfoContext(ctx, "No GPU backend detected, render script selects the device",
			"compute_backend", gpu.Kind)
	}

	sdk, metrics, err := telemetry.Setup(ctx, cfg.Telemetry.ConfigPath, a.Logger)
	if err != nil {
		return nil, err
	}
	a.telemetry = sdk
	a.metrics = metrics

	a.Invoker = invoker.New(invoker.SettingsFromConfig(cfg), a.Backends, a.Logger, a.invokerOpts...)
	a.Sink = sink.NewCSVSink(cfg.Output.ResultsFile)
	a.Monitor = monitor.NewSemaphoreTrialMonitor(cfg.Status.FailureThreshold)
	a.HealthChecker = health.NewHealthChecker(a.Monitor)
	return a, nil
}

// Run executes plan and writes the run report, also when ctx is cancelled
// part way. The returned error is the scheduler's, joined with any report
// write failure.
func (a *Application) Run(ctx context.Context, plan scheduler.Plan) ([]trial.Outcome, error) {
	if err := EnsureDirectories(a.Config); err != nil {
		return nil, err
	}
	if err := a.Sink.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize results file: %w", err)
	}
	if err := a.serveStatus(ctx); err != nil {
		return nil, err
	}
	a.openLedger(ctx, plan)

	observers := []scheduler.Observer{a.metrics}
	if a.ledger != nil {
		observers = append(observers, a.ledger)
	}
	sched := scheduler.New(a.Invoker, a.Sink, a.Monitor, a.Logger, observers...)

	a.Logger.InfoContext(ctx, "Run configuration",
		"label", a.Config.Experiment.Label,
		"seed", plan.Seed,
		"repetitions", a.Config.Experiment.Repetitions,
		"cpu_backend", a.Backends[trial.ModeCPU],
		"gpu_backend", a.Backends[trial.ModeGPU],
		"results", a.Sink.Path(),
	)

	outcomes, runErr := sched.Run(ctx, plan)

	var reportErr error
	if path := a.Config.Output.ReportFile; path != "" {
		report := a.Report(plan, outcomes, runErr != nil, time.Now())
		if err := writeReport(report, path); err != nil {
			reportErr = fmt.Errorf("write run report: %w", err)
		} else {
			a.Logger.InfoContext(ctx, "Run report written", "path", path)
		}
	}
	return outcomes, errors.Join(runErr, reportErr)
}

func (a *Application) openLedger(ctx context.Context, plan scheduler.Plan) {
	l := a.ledger
	if l == nil {
		if a.Config.Ledger.DSN == "" {
			return
		}
		var err error
		l, err = ledger.Open(a.Config.Ledger.DSN, a.Logger)
		if err != nil {
			a.Logger.WarnContext(ctx, "Ledger disabled", "error", err)
			return
		}
	}
	gpu := a.Backends[trial.ModeGPU]
	run := ledger.Run{
		Label:       a.Config.Experiment.Label,
		Seed:        plan.Seed,
		Repetitions: a.Config.Experiment.Repetitions,
		CPUModel:    a.Host.CPUModel,
		GPUName:     a.Host.GPU.Name,
		GPUBackend:  gpu.String(),
		ResultsPath: a.Sink.Path(),
	}
	if err := l.StartRun(ctx, run); err != nil {
		a.Logger.WarnContext(ctx, "Ledger disabled", "error", err)
		a.ledger = nil
		return
	}
	a.ledger = l
}

// serveStatus starts the gRPC health server when status.address is set.
func (a *Application) serveStatus(ctx context.Context) error {
	if a.Config.Status.Address == "" || a.grpcServer != nil {
		return nil
	}
	lis, err := net.Listen("tcp", a.Config.Status.Address)
	if err != nil {
		return fmt.Errorf("listen status server: %w", err)
	}
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, a.HealthChecker)
	a.grpcServer = srv
	a.statusAddr = lis.Addr()

	a.Logger.InfoContext(ctx, "Status server listening", "address", lis.Addr().String(), "service", health.ExperimentService)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			a.Logger.Error("Status server stopped", "error", err)
		}
	}()
	return nil
}

// StatusAddr is the bound status server address, nil when disabled.
func (a *Application) StatusAddr() net.Addr {
	return a.statusAddr
}

func (a *Application) Close(ctx context.Context) error {
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	return a.telemetry.Shutdown(ctx)
}
