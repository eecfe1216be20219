package monitor

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CounterService is the service name reported by the health server.
const CounterService = "footfall.Counter"

// HealthServer exposes the standard gRPC health service for the live
// counter, so orchestrators can probe it without HTTP.
type HealthServer struct {
	addr     string
	health   *health.Server
	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewHealthServer creates a health server for addr. The counter service
// starts as NOT_SERVING.
func NewHealthServer(addr string) *HealthServer {
	hs := &HealthServer{addr: addr, health: health.NewServer()}
	hs.health.SetServingStatus(CounterService, healthpb.HealthCheckResponse_NOT_SERVING)
	return hs
}

// Start binds the listener and serves in the background.
func (hs *HealthServer) Start() error {
	if hs.running.Load() {
		return errors.New("health server already running")
	}
	lis, err := net.Listen("tcp", hs.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	hs.listener = lis
	hs.server = grpc.NewServer()
	healthpb.RegisterHealthServer(hs.server, hs.health)
	hs.running.Store(true)

	hs.wg.Add(1)
	go func() {
		defer hs.wg.Done()
		diagf("gRPC health server listening on %s", lis.Addr())
		if err := hs.server.Serve(lis); err != nil && hs.running.Load() {
			opsf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (hs *HealthServer) Addr() net.Addr {
	if hs.listener == nil {
		return nil
	}
	return hs.listener.Addr()
}

// SetServing reports the counter service as SERVING or NOT_SERVING.
func (hs *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.health.SetServingStatus(CounterService, status)
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (hs *HealthServer) Stop() {
	if !hs.running.Swap(false) {
		return
	}
	hs.health.Shutdown()
	hs.server.GracefulStop()
	hs.wg.Wait()
	diagf("gRPC health server stopped")
}
