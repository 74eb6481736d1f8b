package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	otelconf "go.opentelemetry.io/contrib/otelconf/v0.3.0"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

// SDK is the OpenTelemetry SDK of a run. A nil *SDK means telemetry is off
// and instruments report to the global provider.
type SDK struct {
	sdk otelconf.SDK
}

// Setup initializes telemetry for a run from the otel config file at path
// and returns the trial metrics observer bound to its meter provider. A
// broken config file is logged and the run continues without export.
func Setup(ctx context.Context, path string, logger *slog.Logger) (*SDK, *TrialMetrics, error) {
	sdk, err := InitFromConfig(ctx, path, logger)
	if err != nil {
		logger.WarnContext(ctx, "Telemetry disabled", "config", path, "error", err)
		sdk = nil
	}

	metrics, err := NewTrialMetrics(sdk.MeterProvider())
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("create trial metrics: %w", err), sdk.Shutdown(ctx))
	}
	return sdk, metrics, nil
}

// InitFromConfig builds the SDK from an opentelemetry-configuration YAML
// file and installs its meter and logger providers globally. It returns a
// nil SDK when path is empty, the file is missing, or the file or
// OTEL_SDK_DISABLED turns the SDK off.
func InitFromConfig(ctx context.Context, path string, logger *slog.Logger) (*SDK, error) {
	cfg, err := readConfig(path)
	if err != nil || cfg == nil {
		return nil, err
	}

	sdk, err := otelconf.NewSDK(
		otelconf.WithContext(ctx),
		otelconf.WithOpenTelemetryConfiguration(*cfg),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel SDK: %w", err)
	}

	otel.SetMeterProvider(sdk.MeterProvider())
	global.SetLoggerProvider(sdk.LoggerProvider())

	logger.InfoContext(ctx, "OpenTelemetry initialized", "config", path)
	return &SDK{sdk: sdk}, nil
}

func readConfig(path string) (*otelconf.OpenTelemetryConfiguration, error) {
	if path == "" || os.Getenv("OTEL_SDK_DISABLED") == "true" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read otel config: %w", err)
	}
	cfg, err := otelconf.ParseYAML(b)
	if err != nil {
		return nil, fmt.Errorf("parse otel config %s: %w", path, err)
	}
	if cfg.Disabled != nil && *cfg.Disabled {
		return nil, nil
	}
	return cfg, nil
}

// MeterProvider returns the SDK's provider, or the global one when off.
func (s *SDK) MeterProvider() metric.MeterProvider {
	if s == nil {
		return otel.GetMeterProvider()
	}
	return s.sdk.MeterProvider()
}

// Shutdown flushes and stops the SDK. Safe on a nil SDK.
func (s *SDK) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.sdk.Shutdown(ctx)
}
