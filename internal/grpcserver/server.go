// Package grpcserver exposes the standard gRPC health service. Besides the
// overall server status it reports an "ingestion" service that turns
// NOT_SERVING after a failed cycle and back to SERVING after a good one.
package grpcserver

import (
	"net"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"jobchommie/listing-service/internal/ingest"
	"jobchommie/listing-service/internal/logging"
)

// IngestionService is the health service name reflecting the last cycle.
const IngestionService = "listing.ingestion"

// Server wraps a grpc.Server with the health service registered.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    *logging.Logger
}

// New builds a Server. Both the overall and the ingestion status start as
// SERVING.
func New(log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}

	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(IngestionService, healthpb.HealthCheckResponse_SERVING)

	return &Server{grpc: gs, health: hs, log: log}
}

// ObserveCycle updates the ingestion status. A skipped cycle (no provider
// credential) counts as healthy.
func (s *Server) ObserveCycle(rep ingest.Report, err error) {
	st := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(IngestionService, st)
	s.log.Debug("ingestion health updated", "status", st.String(), "startedAt", rep.StartedAt)
}

// Serve blocks until the listener fails or the server is stopped.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "grpc serve")
	}
	return nil
}

// GracefulStop marks every service NOT_SERVING and drains open streams.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
