package health

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/v1"
)

// Server exposes the standard gRPC health service for one component.
type Server struct {
	gs   *grpc.Server
	hs   *health.Server
	addr net.Addr
}

func Run(addr, service string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	go func() {
		_ = gs.Serve(lis)
	}()
	return &Server{gs: gs, hs: hs, addr: lis.Addr()}, nil
}

func (s *Server) Addr() string { return s.addr.String() }

// Stop flips every service to NOT_SERVING before draining connections.
func (s *Server) Stop() {
	s.hs.Shutdown()
	s.gs.GracefulStop()
}
