package health

import (
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name of the minter.
const ServiceName = "badgeminter.Minter"

// GRPCServer serves the standard gRPC health checking protocol.
type GRPCServer struct {
	port   int
	server *grpc.Server
	health *grpchealth.Server
	logger *slog.Logger
}

// NewGRPCServer creates a gRPC health server reporting NOT_SERVING until
// SetServing is called.
func NewGRPCServer(port int, logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCServer{
		port:   port,
		server: srv,
		health: hs,
		logger: logger.With("component", "grpc"),
	}
}

// SetServing flips the reported status.
func (g *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

// Start listens and serves until Stop.
func (g *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", g.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return g.Serve(lis)
}

// Serve serves on an existing listener.
func (g *GRPCServer) Serve(lis net.Listener) error {
	g.logger.Info("grpc health server listening", "addr", lis.Addr().String())
	if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop marks the service as not serving and stops gracefully.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
