// Package rayletprobe implements the raylet side of pkg/rpcpool's
// liveness-timeout callback (spec.md §6): a per-node service answering
// "is the worker with this WorkerID dead", backed by the standard gRPC
// health-checking protocol rather than a bespoke RPC, and the client
// stub pkg/rpcpool.RayletClientFactory dials to ask it.
package rayletprobe

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cuemby/corelink/pkg/log"
	"github.com/cuemby/corelink/pkg/types"
)

// Server tracks the liveness of every worker this node hosts and answers
// probes over gRPC health checking, keyed by the worker's hex WorkerID
// used as the health service name.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer builds a Server. Register it on a listener with Serve.
func NewServer(opts ...grpc.ServerOption) *Server {
	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer(opts...)
	grpc_health_v1.RegisterHealthServer(grpcSrv, healthSrv)

	return &Server{grpcServer: grpcSrv, health: healthSrv}
}

// SetWorkerAlive marks id as alive: probes for it return isDead=false.
func (s *Server) SetWorkerAlive(id types.WorkerID) {
	s.health.SetServingStatus(id.String(), grpc_health_v1.HealthCheckResponse_SERVING)
}

// SetWorkerDead marks id as dead: probes for it return isDead=true. This
// is the raylet-side event pkg/rpcpool's liveness callback ultimately
// depends on; a real raylet calls it when it reaps a worker process.
func (s *Server) SetWorkerDead(id types.WorkerID) {
	s.health.SetServingStatus(id.String(), grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// ForgetWorker only logs at debug level. The worker's last recorded
// status stays in the health service, so later probes for id keep
// seeing that status; id is not reset to SERVICE_UNKNOWN.
func (s *Server) ForgetWorker(id types.WorkerID) {
	// health.Server has no unset primitive; NOT_SERVING for an untracked
	// worker would read as a false positive, so parked workers are left
	// at their last known status until the process exits.
	log.Logger.Debug().Str("worker_id", id.String()).Msg("rayletprobe: worker forgotten, retaining last known status")
}

// Serve blocks accepting connections on lis until the server is stopped.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
