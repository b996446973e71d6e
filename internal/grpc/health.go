package grpc

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check reports whether one dependency of the portal is usable.
type Check func(ctx context.Context) error

// NewServer builds the operational gRPC server. Every registered service
// requires the service token when one is configured.
func NewServer(serviceToken string, h *Health) (*grpc.Server, error) {
	var opts []grpc.ServerOption
	if serviceToken != "" {
		unary, err := NewServiceAuthUnaryInterceptor(serviceToken)
		if err != nil {
			return nil, err
		}
		stream, err := NewServiceAuthStreamInterceptor(serviceToken)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.UnaryInterceptor(unary), grpc.StreamInterceptor(stream))
	}
	server := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(server, h.server)
	return server, nil
}

// Health publishes the portal's serving status. The overall status ("") is
// SERVING only while every check passes; each check is also reported under
// its own service name.
type Health struct {
	server *health.Server
	checks map[string]Check
	logger zerolog.Logger
}

func NewHealth(checks map[string]Check, logger zerolog.Logger) *Health {
	h := &Health{server: health.NewServer(), checks: checks, logger: logger}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Check runs every dependency check once and publishes the results.
func (h *Health) Check(ctx context.Context) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range names {
		status := healthpb.HealthCheckResponse_SERVING
		if err := h.checks[name](ctx); err != nil {
			h.logger.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
		}
		h.server.SetServingStatus(name, status)
	}
	h.server.SetServingStatus("", overall)
}

// Run repeats Check every interval until ctx is done.
func (h *Health) Run(ctx context.Context, interval time.Duration) {
	h.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Shutdown marks every service as not serving so clients drain before the
// server stops.
func (h *Health) Shutdown() {
	h.server.Shutdown()
}
