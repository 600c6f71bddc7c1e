// Package rpcpool implements the client pool described in spec.md §4.1: a
// per-process cache of RPC client handles keyed by worker identity, with
// least-recently-used idle eviction, explicit disconnect, and a liveness
// probe callback that invalidates a cached client when its peer is
// discovered dead.
//
// The pool is deliberately transport-agnostic (see pkg/rpcclient for a
// concrete gRPC-backed types.Client). Its only contract with a cached
// client is types.Client.IsIdleAfterRPCs, an oracle the pool never
// second-guesses.
package rpcpool

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/cuemby/corelink/pkg/log"
	"github.com/cuemby/corelink/pkg/metrics"
	"github.com/cuemby/corelink/pkg/types"
)

// entry is the value stored at each list.Element. The list gives us
// O(1) splice-to-front and pop-back; the map gives us O(1) position
// lookup by worker id, matching the "LRU structure" invariants in
// spec.md §3.
type entry struct {
	workerID types.WorkerID
	client   types.Client
}

// Pool is a concurrency-safe cache of types.Client handles keyed by
// types.WorkerID, evicted least-recently-used but gated on idleness
// (spec.md §4.1 "Eviction").
//
// A single mutex guards the LRU list and the index map together for
// their entire critical section, including the client factory call.
// Factories are expected to be non-blocking (spec.md §5); the tradeoff
// is simpler reasoning at the cost of serializing construction across
// distinct peers, which is judged negligible next to RPC latency.
type Pool struct {
	mu      sync.Mutex
	order   *list.List // front = most-recently-used, back = least
	index   map[types.WorkerID]*list.Element
	factory types.ClientFactory
}

// New creates an empty pool. factory is invoked (inside the pool's lock)
// the first time a worker id is requested via GetOrConnect.
func New(factory types.ClientFactory) *Pool {
	return &Pool{
		order:   list.New(),
		index:   make(map[types.WorkerID]*list.Element),
		factory: factory,
	}
}

// GetOrConnect returns the cached client for addr.WorkerID, promoting it
// to most-recently-used, or constructs one via the injected factory and
// inserts it at the front. addr.WorkerID must be non-empty; violating
// that is a programmer error (spec.md §7 InvalidArgument), not something
// callers are expected to recover from.
//
// Before either branch it performs opportunistic idle eviction, walking
// the LRU chain from the back until it hits a busy entry (see evictLocked).
func (p *Pool) GetOrConnect(addr types.PeerAddress) (types.Client, error) {
	if addr.WorkerID.IsZero() {
		return nil, fmt.Errorf("rpcpool: GetOrConnect: %w", types.ErrEmptyWorkerID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.evictLocked()

	if el, ok := p.index[addr.WorkerID]; ok {
		p.order.MoveToFront(el)
		log.WithPeer(addr).Debug().Msg("rpcpool: reused cached client")
		return el.Value.(*entry).client, nil
	}

	client, err := p.factory(addr)
	if err != nil {
		return nil, fmt.Errorf("rpcpool: client factory for %s: %w", addr, err)
	}

	el := p.order.PushFront(&entry{workerID: addr.WorkerID, client: client})
	p.index[addr.WorkerID] = el
	metrics.RPCPoolConnects.Inc()
	metrics.RPCPoolSize.Set(float64(p.order.Len()))
	log.WithPeer(addr).Info().Msg("rpcpool: connected new client")
	return client, nil
}

// Disconnect idempotently removes the entry for workerID, if any.
// Callers already holding a reference to that client may keep using it;
// it will simply never again be returned by the pool (spec.md §4.1).
func (p *Pool) Disconnect(workerID types.WorkerID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	el, ok := p.index[workerID]
	if !ok {
		return
	}
	p.order.Remove(el)
	delete(p.index, workerID)
	metrics.RPCPoolDisconnects.Inc()
	metrics.RPCPoolSize.Set(float64(p.order.Len()))
	log.WithWorkerID(workerID).Info().Msg("rpcpool: disconnected client")
}

// Size returns the current number of entries. Advisory only: callers
// must not race on it for correctness (spec.md §4.1).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// evictLocked walks the LRU chain from the back (least-recently-used)
// toward the front. An idle entry is removed and the walk continues; the
// first busy entry it finds is promoted to the front instead of being
// removed, and the walk stops there.
//
// The promote-on-busy rule bounds the work of a single GetOrConnect to
// the number of entries actually evicted plus one, and it preserves the
// property that a single busy entry near the back can never repeatedly
// block eviction of idle entries that were behind it (spec.md §4.1).
// Must be called with p.mu held.
func (p *Pool) evictLocked() {
	for {
		back := p.order.Back()
		if back == nil {
			return
		}
		e := back.Value.(*entry)
		if e.client.IsIdleAfterRPCs() {
			p.order.Remove(back)
			delete(p.index, e.workerID)
			metrics.RPCPoolEvictions.Inc()
			metrics.RPCPoolSize.Set(float64(p.order.Len()))
			log.WithWorkerID(e.workerID).Debug().Msg("rpcpool: evicted idle client")
			continue
		}
		p.order.MoveToFront(back)
		return
	}
}
