package server

import (
	"net"

	"online-auction/utils"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// AuctionServiceName is the health-checked service name
const AuctionServiceName = "auction.v1.Auction"

// HealthServer exposes grpc.health.v1.Health for the auction process
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
}

// NewHealthServer creates a gRPC server with the health service registered, reporting NOT_SERVING until SetServing(true)
func NewHealthServer() *HealthServer {
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	h := &HealthServer{grpcServer: grpcServer, health: hs}
	h.SetServing(false)
	return h
}

// SetServing flips the overall and auction service status
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(AuctionServiceName, status)
}

// Serve blocks serving gRPC on lis
func (h *HealthServer) Serve(lis net.Listener) error {
	utils.Info("gRPC health server listening", map[string]any{"address": lis.Addr().String()})
	return h.grpcServer.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains open RPCs
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.grpcServer.GracefulStop()
	utils.Info("gRPC health server stopped", nil)
}
