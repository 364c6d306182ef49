// Package grpcserver exposes the standard gRPC health service for the
// matching service.
//
// Readiness follows storage reachability and the encoder's model state; the
// Gateway and orchestrators probe it instead of the HTTP /health route.
package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"jobmate/matching-service/internal/encoder"
	"jobmate/matching-service/internal/logger"
)

// ServiceName is the health service name reported alongside "".
const ServiceName = "jobmate.matching.v1.MatchingService"

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EncoderInfo reports the encoder's model state.
type EncoderInfo interface {
	Info() encoder.Info
}

// Server is the health service plus the probes that drive it.
type Server struct {
	*health.Server
	storage Pinger
	enc     EncoderInfo
	logger  *zap.Logger
}

// NewServer returns a Server that reports NOT_SERVING until the first Refresh.
func NewServer(storage Pinger, enc EncoderInfo, log *zap.Logger) *Server {
	s := &Server{
		Server:  health.NewServer(),
		storage: storage,
		enc:     enc,
		logger:  logger.OrNop(log).Named("grpc"),
	}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register mounts the health service on gs.
func (s *Server) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, s.Server)
}

// Refresh probes storage and the encoder and publishes the result. A model
// that has not been loaded yet counts as serving; one whose last load failed
// does not.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.storage.Ping(ctx); err != nil {
		s.logger.Warn("storage ping failed", zap.Error(err))
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	if s.enc != nil && s.enc.Info().Status == encoder.StatusFailed {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.set(st)
	return st
}

// Run refreshes every interval until ctx is done, then marks the service
// NOT_SERVING for good.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-t.C:
			s.Refresh(ctx)
		}
	}
}

func (s *Server) set(st healthpb.HealthCheckResponse_ServingStatus) {
	s.SetServingStatus("", st)
	s.SetServingStatus(ServiceName, st)
}

// ─── Interceptors ─────────────────────────────────────────────────────────────

// UnaryLogger logs every unary call with its status code and latency.
func UnaryLogger(log *zap.Logger) grpc.UnaryServerInterceptor {
	log = logger.OrNop(log).Named("grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("rpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("took", time.Since(start)),
		)
		return resp, err
	}
}
