package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/echoguard/echoguard/scorer/internal/auth"
)

// Service is the health service name reported for the pipeline.
const Service = "echoguard.Scorer"

// Server is the scorer's gRPC server.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// New builds a server whose unary and streaming calls pass through the API-key
// interceptors. Both the overall status and Service start as NOT_SERVING.
func New(mode, header, key string) *Server {
	s := &Server{
		grpc: grpc.NewServer(
			grpc.UnaryInterceptor(auth.APIKeyInterceptor(mode, header, key)),
			grpc.StreamInterceptor(auth.StreamInterceptor(mode, header, key)),
		),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetReady(false)
	return s
}

// SetReady flips the reported status.
func (s *Server) SetReady(ready bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(Service, st)
}

// Watch calls ready every interval and updates the health status until ctx
// is cancelled.
func (s *Server) Watch(ctx context.Context, interval time.Duration, ready func() bool) {
	last := false
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if now := ready(); now != last {
			s.SetReady(now)
			slog.Info("rpc: health changed", "serving", now)
			last = now
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("rpc: serve: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
