package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"sesame.dev/internal/obs"
)

// HealthServer publishes readiness over the standard gRPC health protocol, both
// for the whole server ("") and for the named service.
type HealthServer struct {
	health    *health.Server
	readiness readinessChecker
}

func NewHealthServer(r readinessChecker) *HealthServer {
	if r == nil {
		r = ReadyProbe{}
	}
	return &HealthServer{health: health.NewServer(), readiness: r}
}

// NewGRPCServer returns a server with the health service registered.
func NewGRPCServer(h *HealthServer, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, h.health)
	return srv
}

// Refresh runs the readiness probe once and updates the serving status.
func (h *HealthServer) Refresh(ctx context.Context) error {
	status := healthpb.HealthCheckResponse_SERVING
	err := h.readiness.Check(ctx)
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(err == nil)
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(serviceName, status)
	return err
}

// Run refreshes on every tick until ctx is cancelled.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		if err := h.Refresh(probeCtx); err != nil && ctx.Err() == nil {
			obs.Warn("readiness probe failed", map[string]any{"err": err})
		}
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown marks every service NOT_SERVING so load balancers drain first.
func (h *HealthServer) Shutdown() {
	h.health.Shutdown()
}
