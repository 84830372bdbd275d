package grpc

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/fjod/go_cart/cart-api/internal/log"
)

// ServiceName is the health service name reported alongside the overall "" entry.
const ServiceName = "cart.CartService"

type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes the standard gRPC health service and reflection. Health follows the
// configured dependency checks.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	checks map[string]Pinger
	logger zerolog.Logger
}

func NewServer(logger zerolog.Logger, checks map[string]Pinger) *Server {
	logger = logger.With().Str(log.KeyTag, "grpc").Logger()
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(loggingInterceptor(logger)),
	)
	hs := health.NewServer()

	healthpb.RegisterHealthServer(srv, hs)
	// Enable reflection for grpcurl/grpcui
	reflection.Register(srv)

	s := &Server{srv: srv, health: hs, checks: checks, logger: logger}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc health server listening")
	return s.srv.Serve(lis)
}

// Watch re-runs the dependency checks every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.Check(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Check pings every dependency once and updates the reported status.
func (s *Server) Check(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	for name, p := range s.checks {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.Ping(pingCtx)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("dependency", name).Msg("health check failed")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.setStatus(status)
}

// Shutdown flips every service to NOT_SERVING before draining connections.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(logger.WithContext(ctx), req)
		logger.Debug().
			Str("method", info.FullMethod).
			Dur("elapsed", time.Since(start)).
			Err(err).
			Msg("grpc call")
		return resp, err
	}
}
