package health

import (
	"context"
	"time"

	"github.com/ciricc/render-energy-bench/internal/monitor"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ExperimentService is the health service name of a running experiment.
const ExperimentService = "renderbench.Experiment"

// HealthChecker implements the gRPC health checking protocol for a run.
// The global status reflects trial failures; ExperimentService is SERVING
// only while the plan is executing.
type HealthChecker struct {
	grpc_health_v1.UnimplementedHealthServer
	monitor      monitor.TrialMonitor
	pollInterval time.Duration
}

// NewHealthChecker creates a health checker backed by the trial monitor
func NewHealthChecker(m monitor.TrialMonitor) *HealthChecker {
	return &HealthChecker{
		monitor:      m,
		pollInterval: time.Second,
	}
}

func (h *HealthChecker) servingStatus(service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	healthy := h.monitor.IsHealthy()
	switch service {
	case "":
		if healthy {
			return grpc_health_v1.HealthCheckResponse_SERVING, nil
		}
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING, nil
	case ExperimentService:
		if healthy && h.monitor.GetMetrics().Running {
			return grpc_health_v1.HealthCheckResponse_SERVING, nil
		}
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING, nil
	}
	return grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN, status.Error(codes.NotFound, "service not found")
}

// Check implements the health check RPC
func (h *HealthChecker) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	st, err := h.servingStatus(req.GetService())
	if err != nil {
		return nil, err
	}
	return &grpc_health_v1.HealthCheckResponse{Status: st}, nil
}

// Watch implements the health check streaming RPC. It polls the monitor and
// sends a response whenever the status changes. Unknown services get
// SERVICE_UNKNOWN instead of an error.
func (h *HealthChecker) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	service := req.GetService()
	last, _ := h.servingStatus(service)
	if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: last}); err != nil {
		return err
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-ticker.C:
			st, _ := h.servingStatus(service)
			if st == last {
				continue
			}
			last = st
			if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: st}); err != nil {
				return err
			}
		}
	}
}

// GetProgress returns current run progress (useful for monitoring/debugging)
func (h *HealthChecker) GetProgress() monitor.ProgressMetrics {
	return h.monitor.GetMetrics()
}
