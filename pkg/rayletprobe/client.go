package rayletprobe

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cuemby/corelink/pkg/rpcpool"
	"github.com/cuemby/corelink/pkg/types"
)

// probeTimeout bounds a single IsLocalWorkerDead round trip. spec.md §4.1
// requires the liveness callback never block longer than the raylet
// probe's own transport timeout; this is that timeout.
const probeTimeout = 5 * time.Second

// Client implements pkg/rpcpool.RayletClient against a Server.
type Client struct {
	conn   *grpc.ClientConn
	health grpc_health_v1.HealthClient
}

var _ rpcpool.RayletClient = (*Client)(nil)

// NewClientFactory returns an rpcpool.RayletClientFactory dialing raylet
// node-manager addresses with the given dial options.
func NewClientFactory(dialOpts ...grpc.DialOption) rpcpool.RayletClientFactory {
	return func(host string, port uint16) (rpcpool.RayletClient, error) {
		target := fmt.Sprintf("%s:%d", host, port)
		conn, err := grpc.NewClient(target, dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("rayletprobe: dial %s: %w", target, err)
		}
		return &Client{conn: conn, health: grpc_health_v1.NewHealthClient(conn)}, nil
	}
}

// IsLocalWorkerDead implements rpcpool.RayletClient. It issues the health
// check on its own goroutine and invokes done exactly once from there,
// matching the "runs on the RPC completion thread" contract the pool's
// liveness callback documents.
func (c *Client) IsLocalWorkerDead(ctx context.Context, workerID types.WorkerID, done func(isDead bool, err error)) {
	go func() {
		callCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		resp, err := c.health.Check(callCtx, &grpc_health_v1.HealthCheckRequest{
			Service: workerID.String(),
		})
		if err != nil {
			done(false, fmt.Errorf("rayletprobe: check %s: %w", workerID, err))
			return
		}

		done(resp.Status == grpc_health_v1.HealthCheckResponse_NOT_SERVING, nil)
	}()
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
