package api

import (
	"context"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	grpcHealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"searchrelay/model"
)

// StartGRPC exposes the standard gRPC health service so infra probes can
// watch the daemon without speaking the HTTP API. The serving status tracks
// the monitor's overall verdict.
func (s *Server) StartGRPC(ctx context.Context) error {
	if s.cfg.Server.GRPCListen == "" {
		return nil
	}
	if s.grpcServer != nil {
		return nil
	}

	lis, err := net.Listen("tcp", s.cfg.Server.GRPCListen)
	if err != nil {
		return err
	}

	grpcSrv := grpc.NewServer()
	healthSrv := grpcHealth.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)
	s.grpcServer = grpcSrv

	go s.syncServingStatus(ctx, healthSrv)

	go func() {
		s.log.Info("gRPC server starting", "listen", s.cfg.Server.GRPCListen)
		if serveErr := grpcSrv.Serve(lis); serveErr != nil && !strings.Contains(serveErr.Error(), "use of closed network connection") {
			s.log.Error("gRPC server error", "err", serveErr)
		}
	}()

	return nil
}

func (s *Server) StopGRPC() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}

func (s *Server) syncServingStatus(ctx context.Context, healthSrv *grpcHealth.Server) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := healthpb.HealthCheckResponse_SERVING
			if s.monitor.Summary().Overall == model.StatusUnhealthy {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			healthSrv.SetServingStatus("", status)
		}
	}
}
