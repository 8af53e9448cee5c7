package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthLogPrefix = "api:health"

// HealthServer serves the standard gRPC health checking protocol for one
// service name.
type HealthServer struct {
	service string
	health  *health.Server

	grpcServer *grpc.Server
	listener   net.Listener
	running    bool
	mu         sync.Mutex
}

// NewHealthServer creates a health server reporting NOT_SERVING for service
// until SetServing(true) is called.
func NewHealthServer(service string) *HealthServer {
	h := health.NewServer()
	h.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return &HealthServer{service: service, health: h}
}

// SetServing updates the reported status.
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(s.service, status)
	s.health.SetServingStatus("", status)
}

// Serving reports the current status of the service.
func (s *HealthServer) Serving() bool {
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: s.service})
	return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

// StartAsync starts the gRPC server on address and returns immediately.
func (s *HealthServer) StartAsync(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return s.ServeAsync(lis)
}

// ServeAsync serves on lis in a goroutine.
func (s *HealthServer) ServeAsync(lis net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		_ = lis.Close()
		return fmt.Errorf("health server is already running")
	}

	s.listener = lis
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.running = true
	server := s.grpcServer
	s.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - gRPC health service listening on %s", healthLogPrefix, lis.Addr()))
	go func() {
		if err := server.Serve(lis); err != nil {
			slog.Warn(fmt.Sprintf("%s - gRPC health service stopped: %v", healthLogPrefix, err))
		}
	}()
	return nil
}

// Addr returns the listening address, or nil before start.
func (s *HealthServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and stops the gRPC server.
func (s *HealthServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false

	s.health.Shutdown()
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}
