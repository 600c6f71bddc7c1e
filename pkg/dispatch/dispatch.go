// Package dispatch is the collaborator that actually drives an RPC
// through pkg/rpcpool and pkg/executor together: it looks up or builds a
// cached client, submits the call through the bounded executor so
// concurrent dispatch never exceeds the configured width, and wires
// pkg/rpcpool's liveness-timeout callback when the transport reports the
// peer unavailable (spec.md §4.1, §6).
package dispatch

import (
	"context"
	"fmt"

	"github.com/cuemby/corelink/pkg/executor"
	"github.com/cuemby/corelink/pkg/log"
	"github.com/cuemby/corelink/pkg/rpcpool"
	"github.com/cuemby/corelink/pkg/types"
)

// invoker is the narrow capability Dispatcher needs from a cached
// types.Client beyond the pool's own IsIdleAfterRPCs oracle. pkg/rpcclient.Client
// satisfies it; so can a test fake, since Dispatcher never assumes a
// concrete transport.
type invoker interface {
	Invoke(ctx context.Context) (unavailable bool, err error)
}

// Dispatcher combines a client pool and a bounded executor into the
// request path a worker actually calls.
type Dispatcher struct {
	pool          *rpcpool.Pool
	exec          *executor.BoundedExecutor
	membership    rpcpool.Membership
	rayletFactory rpcpool.RayletClientFactory
}

// New builds a Dispatcher. membership and rayletFactory may be nil if the
// caller never intends to enable the liveness-timeout callback; Call then
// simply logs unavailable RPCs without disconnecting anything.
func New(pool *rpcpool.Pool, exec *executor.BoundedExecutor, membership rpcpool.Membership, rayletFactory rpcpool.RayletClientFactory) *Dispatcher {
	return &Dispatcher{
		pool:          pool,
		exec:          exec,
		membership:    membership,
		rayletFactory: rayletFactory,
	}
}

// Call dispatches a single RPC to addr through the bounded executor,
// blocking the caller until a slot is free (spec.md §4.2) and until the
// dispatched closure has run. The executor recovers and swallows a
// panicking closure rather than propagating it, so the inner closure
// guards its own send: Call never hangs waiting on a result that a
// panic stopped it from delivering.
func (d *Dispatcher) Call(ctx context.Context, addr types.PeerAddress) error {
	resultCh := make(chan error, 1)

	d.exec.Post(func() {
		var err error
		defer func() { resultCh <- err }()
		err = d.call(ctx, addr)
	})

	return <-resultCh
}

func (d *Dispatcher) call(ctx context.Context, addr types.PeerAddress) error {
	c, err := d.pool.GetOrConnect(addr)
	if err != nil {
		return fmt.Errorf("dispatch: get client for %s: %w", addr, err)
	}

	client, ok := c.(invoker)
	if !ok {
		return fmt.Errorf("dispatch: client for %s does not implement Invoke: %T", addr, c)
	}

	unavailable, err := client.Invoke(ctx)
	if unavailable {
		d.onUnavailable(addr)
	}
	return err
}

// onUnavailable wires the liveness-timeout callback exactly once per
// unavailable RPC completion, on whatever goroutine noticed it — the
// executor worker in this case (spec.md §4.1 "invoked from the RPC
// completion thread").
func (d *Dispatcher) onUnavailable(addr types.PeerAddress) {
	if d.membership == nil || d.rayletFactory == nil {
		log.WithPeer(addr).Warn().Msg("dispatch: peer reported unavailable but no membership/raylet factory configured, ignoring")
		return
	}
	if !d.membership.IsSubscribedToNodeChange() {
		log.WithPeer(addr).Warn().Msg("dispatch: peer reported unavailable but no active node-change subscription, skipping liveness probe")
		return
	}
	cb := rpcpool.NewUnavailableCallback(d.pool, d.membership, d.rayletFactory, addr)
	cb()
}
