package observability

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NavigationService is the gRPC health service name that tracks whether a
// navigation session is running.
const NavigationService = "vista.navigation"

// GRPCHealth serves the standard grpc.health.v1 protocol so container
// orchestrators can probe the gateway without speaking HTTP.
type GRPCHealth struct {
	server *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewGRPCHealth creates a health server. The overall service reports SERVING
// and the navigation service starts out NOT_SERVING.
func NewGRPCHealth(logger zerolog.Logger) *GRPCHealth {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(NavigationService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCHealth{server: srv, health: hs, logger: logger}
}

// SetNavigationServing flips the navigation service status.
func (g *GRPCHealth) SetNavigationServing(active bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if active {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(NavigationService, status)
}

// Health exposes the underlying health server, mainly for tests.
func (g *GRPCHealth) Health() healthpb.HealthServer {
	return g.health
}

// Serve blocks serving gRPC on the given port.
func (g *GRPCHealth) Serve(port string) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %s: %w", port, err)
	}
	g.logger.Info().Str("port", port).Msg("gRPC health service listening")
	return g.server.Serve(lis)
}

// Shutdown marks every service NOT_SERVING and stops the server.
func (g *GRPCHealth) Shutdown() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
