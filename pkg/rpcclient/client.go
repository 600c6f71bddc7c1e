// Package rpcclient provides the concrete, mTLS-secured gRPC client that
// pkg/rpcpool.ClientFactory constructs and pkg/dispatch drives. The pool
// itself only ever sees the narrow types.Client oracle
// (IsIdleAfterRPCs); everything below that line, including the wire
// protocol, is opaque to it by design.
//
// Real inter-worker RPC traffic is defined by whatever service the
// hosting application registers; this package exercises the wire with
// the already-generated grpc_health_v1 service (spec.md's "opaque RPC"
// is deliberately not a hand-authored .proto) so Invoke has a genuine,
// working call to make.
package rpcclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/cuemby/corelink/pkg/log"
	"github.com/cuemby/corelink/pkg/security"
	"github.com/cuemby/corelink/pkg/types"
)

// Client is the concrete RPC handle pkg/rpcpool caches. It tracks its own
// in-flight RPC count so IsIdleAfterRPCs is a cheap, lock-free read
// (spec.md §4.1's idle oracle) instead of a query back into the pool.
type Client struct {
	addr     types.PeerAddress
	conn     *grpc.ClientConn
	health   grpc_health_v1.HealthClient
	inFlight int64
}

var _ types.Client = (*Client)(nil)

// NewFactory returns a types.ClientFactory dialing peers with the given
// gRPC dial options. grpc.NewClient connects lazily, on the first RPC,
// matching spec.md §5's "factories are expected to be non-blocking".
func NewFactory(dialOpts ...grpc.DialOption) types.ClientFactory {
	return func(addr types.PeerAddress) (types.Client, error) {
		target := fmt.Sprintf("%s:%d", addr.IP, addr.Port)

		opts := append([]grpc.DialOption{grpc.WithDefaultCallOptions()}, dialOpts...)
		conn, err := grpc.NewClient(target, opts...)
		if err != nil {
			return nil, fmt.Errorf("rpcclient: dial %s: %w", target, err)
		}

		log.WithPeer(addr).Debug().Str("target", target).Msg("rpcclient: constructed client")

		return &Client{
			addr:   addr,
			conn:   conn,
			health: grpc_health_v1.NewHealthClient(conn),
		}, nil
	}
}

// InsecureDialOption is a convenience for local development and tests: no
// transport security at all.
func InsecureDialOption() grpc.DialOption {
	return grpc.WithTransportCredentials(insecure.NewCredentials())
}

// MTLSDialOption builds a dial option presenting the certificate in
// certDir and verifying peers against the CA certificate also stored
// there, adapted from the CLI client's connectWithMTLS.
func MTLSDialOption(certDir string) (grpc.DialOption, error) {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: load client certificate: %w", err)
	}

	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: load CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}

	return grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)), nil
}

// Invoke issues a single opaque RPC against the peer and reports whether
// the transport itself judged the peer unavailable, the trigger condition
// for pkg/rpcpool's liveness-timeout callback (spec.md §4.1). The caller
// (pkg/dispatch) is responsible for invoking that callback when unavailable
// is true; Client itself has no reference back to the pool.
func (c *Client) Invoke(ctx context.Context) (unavailable bool, err error) {
	atomic.AddInt64(&c.inFlight, 1)
	defer atomic.AddInt64(&c.inFlight, -1)

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err = c.health.Check(callCtx, &grpc_health_v1.HealthCheckRequest{})
	if err == nil {
		return false, nil
	}
	return status.Code(err) == codes.Unavailable, err
}

// IsIdleAfterRPCs implements types.Client (spec.md §4.1 idle oracle).
func (c *Client) IsIdleAfterRPCs() bool {
	return atomic.LoadInt64(&c.inFlight) == 0
}

// Close releases the underlying connection. pkg/rpcpool never calls this
// itself — per spec.md §4.1, no explicit close is required on a handle
// the pool has evicted or disconnected — so this exists for callers
// outside the pool (tests, or a caller tearing down a client it obtained
// directly from a ClientFactory) that do want to release the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
