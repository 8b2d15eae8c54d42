package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"goyais.org/hub/internal/obs"
)

// GRPCHealth serves grpc.health.v1.Health. Its status mirrors the store
// readiness probe, refreshed on an interval.
type GRPCHealth struct {
	server    *health.Server
	readiness ReadyProbe
	timeout   time.Duration
}

// NewGRPCHealth creates the health service wrapper. A nil probe is always ready.
func NewGRPCHealth(readiness ReadyProbe) *GRPCHealth {
	return &GRPCHealth{
		server:    health.NewServer(),
		readiness: readiness,
		timeout:   2 * time.Second,
	}
}

// Register adds the health service to s.
func (h *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Refresh runs the readiness probe once and publishes the result for the
// overall server and for the named service.
func (h *GRPCHealth) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if h.readiness != nil {
		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.readiness.Ping(ctx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			log := obs.WithComponent("grpc")
			log.Warn().Err(err).Msg("readiness probe failed")
		}
	}
	obs.SetReady(status == healthpb.HealthCheckResponse_SERVING)
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
	return status
}

// Run refreshes until ctx is done, then marks the service as shutting down.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
