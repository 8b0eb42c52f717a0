package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"aldar.app/internal/obs"
)

// ServiceName is the gRPC health service name of the API.
const ServiceName = "aldar.api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer publishes the HTTP readiness probe over the standard gRPC
// health protocol, for load balancers that only speak gRPC.
type HealthServer struct {
	*health.Server
	readiness readinessChecker
	timeout   time.Duration
}

func NewHealthServer(r readinessChecker) *HealthServer {
	return &HealthServer{Server: health.NewServer(), readiness: r, timeout: 2 * time.Second}
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.Server)
}

// Refresh runs the probe once and updates the serving status.
func (h *HealthServer) Refresh(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	status := healthpb.HealthCheckResponse_SERVING
	err := h.readiness.Check(ctx)
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		obs.Logger().Warn().Err(err).Msg("readiness check failed")
	}
	h.SetServingStatus("", status)
	h.SetServingStatus(ServiceName, status)
	obs.SetReady(err == nil)
	return err == nil
}

// Run refreshes every interval until ctx is done, then reports NOT_SERVING.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
