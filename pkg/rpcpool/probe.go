package rpcpool

import (
	"context"

	"github.com/cuemby/corelink/pkg/log"
	"github.com/cuemby/corelink/pkg/metrics"
	"github.com/cuemby/corelink/pkg/types"
)

// Membership is the read-only cluster-membership surface the liveness
// callback consumes (spec.md §6). corelink's pkg/membership provides one
// concrete, Raft-backed implementation; the pool and this callback only
// ever see this interface.
type Membership interface {
	IsSubscribedToNodeChange() bool
	GetNode(nodeID types.NodeID, filterDeadNodes bool) (types.NodeInfo, bool)
}

// RayletClient is the per-node liveness surface a raylet client factory
// produces (spec.md §6): a single asynchronous RPC asking whether a
// worker it hosts is dead.
type RayletClient interface {
	// IsLocalWorkerDead issues the probe and invokes done exactly once,
	// on whatever goroutine the transport completes the RPC on. err
	// non-nil means the RPC itself failed (RayletProbeTransportError);
	// isDead is only meaningful when err is nil.
	IsLocalWorkerDead(ctx context.Context, workerID types.WorkerID, done func(isDead bool, err error))

	// Close releases any resources (e.g. the underlying connection) held
	// by the client.
	Close() error
}

// RayletClientFactory dials a raylet given its node-manager address and
// port. Matches spec.md §6's "(host, port) → RayletClient".
type RayletClientFactory func(host string, port uint16) (RayletClient, error)

// NewUnavailableCallback builds the callback a Client should invoke when
// its own RPCs to addr time out with "unavailable" (spec.md §4.1
// "Liveness-timeout callback (factory)"). The returned func is meant to
// run on the RPC completion thread of whatever transport owns the
// timed-out call; it never blocks longer than the raylet probe's own
// transport timeout, and it never holds pool.mu itself — only
// pool.Disconnect does, briefly, from whatever goroutine calls it.
func NewUnavailableCallback(pool *Pool, membership Membership, rayletFactory RayletClientFactory, addr types.PeerAddress) func() {
	return func() {
		if !membership.IsSubscribedToNodeChange() {
			// Configuration bug: the callback is undefined without an
			// active subscription (spec.md §7 MembershipSubscriptionMissing).
			panic("rpcpool: liveness callback invoked without an active node-change subscription")
		}

		node, ok := membership.GetNode(addr.NodeID, true)
		if !ok {
			log.WithPeer(addr).Info().Msg("rpcpool: node unknown to membership, disconnecting peer")
			metrics.RPCPoolProbeOutcomes.WithLabelValues("node_unknown").Inc()
			pool.Disconnect(addr.WorkerID)
			return
		}

		raylet, err := rayletFactory(node.NodeManagerAddr, node.NodeManagerPort)
		if err != nil {
			log.WithPeer(addr).Info().Err(err).Msg("rpcpool: failed to dial raylet for liveness probe")
			metrics.RPCPoolProbeOutcomes.WithLabelValues("raylet_dial_error").Inc()
			return
		}

		raylet.IsLocalWorkerDead(context.Background(), addr.WorkerID, func(isDead bool, err error) {
			if err != nil {
				// Transient infrastructure failure must not orphan a live peer.
				log.WithPeer(addr).Info().Err(err).Msg("rpcpool: raylet probe transport error, leaving peer connected")
				metrics.RPCPoolProbeOutcomes.WithLabelValues("transport_error").Inc()
				return
			}
			if !isDead {
				metrics.RPCPoolProbeOutcomes.WithLabelValues("alive").Inc()
				return
			}
			log.WithPeer(addr).Info().Msg("rpcpool: raylet confirmed worker dead, disconnecting peer")
			metrics.RPCPoolProbeOutcomes.WithLabelValues("confirmed_dead").Inc()
			pool.Disconnect(addr.WorkerID)
		})
	}
}
