// Package membership provides the Raft-backed cluster node registry that
// implements pkg/rpcpool.Membership: a replicated NodeID -> NodeInfo table
// with leader-only writes and local-read GetNode, the collaborator the
// liveness-timeout callback consults before ever probing a raylet
// (spec.md §6).
package membership

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/cuemby/corelink/pkg/events"
	"github.com/cuemby/corelink/pkg/log"
	"github.com/cuemby/corelink/pkg/metrics"
	"github.com/cuemby/corelink/pkg/types"
)

// Config holds the configuration for creating a Registry.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Registry is a single replica of the node registry. It owns a Raft group
// dedicated to node membership; workloads elsewhere in the cluster are out
// of scope for this module (spec.md §1 Non-goals).
type Registry struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft          *raft.Raft
	transportAddr raft.ServerAddress
	fsm           *fsm
	broker        *events.Broker
	tokens        *tokenManager
}

// NewRegistry creates a Registry. Call Bootstrap to start a new single-node
// cluster, or Join to attach to an existing one.
func NewRegistry(cfg *Config) (*Registry, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("membership: create data dir: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	return &Registry{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      newFSM(),
		broker:   broker,
		tokens:   newTokenManager(),
	}, nil
}

func (r *Registry) newRaft() (*raft.Raft, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(r.nodeID)

	// Tuned for LAN deployments between workers on the same cluster
	// fabric rather than Raft's WAN-conservative defaults.
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", r.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("membership: resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(r.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("membership: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(r.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("membership: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(r.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("membership: create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(r.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("membership: create stable store: %w", err)
	}

	rft, err := raft.NewRaft(config, r.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("membership: create raft: %w", err)
	}

	r.transportAddr = transport.LocalAddr()
	return rft, nil
}

// Bootstrap starts a brand-new, single-node registry cluster.
func (r *Registry) Bootstrap() error {
	rft, err := r.newRaft()
	if err != nil {
		return err
	}
	r.raft = rft

	future := r.raft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(r.nodeID), Address: r.transportAddr},
		},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("membership: bootstrap cluster: %w", err)
	}

	log.Logger.Info().Str("node_id", r.nodeID).Msg("membership: bootstrapped single-node registry")
	return nil
}

// Join starts this replica's Raft instance without bootstrapping a new
// cluster. It does not contact any existing member: the replica joins
// only once the current leader admits it with AddVoter. Join itself only
// starts the local Raft participant.
func (r *Registry) Join() error {
	rft, err := r.newRaft()
	if err != nil {
		return err
	}
	r.raft = rft
	return nil
}

// AddVoter admits a new replica to the registry's Raft group. Only the
// leader can do this.
func (r *Registry) AddVoter(nodeID, addr string) error {
	if r.raft == nil {
		return fmt.Errorf("membership: raft not initialized")
	}
	if !r.IsLeader() {
		return fmt.Errorf("membership: not leader, current leader is %s", r.LeaderAddr())
	}

	future := r.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 10*time.Second)
	return future.Error()
}

// IsLeader reports whether this replica currently holds Raft leadership.
func (r *Registry) IsLeader() bool {
	return r.raft != nil && r.raft.State() == raft.Leader
}

// LeaderAddr returns the bind address of the current leader, or "" if none.
func (r *Registry) LeaderAddr() string {
	if r.raft == nil {
		return ""
	}
	return string(r.raft.Leader())
}

// apply marshals cmd and submits it to the Raft log, blocking until
// committed. Only the leader can make progress; followers return an error
// a caller should use to redirect the write.
func (r *Registry) apply(op string, payload interface{}) error {
	if r.raft == nil {
		return fmt.Errorf("membership: raft not initialized")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("membership: marshal payload: %w", err)
	}
	cmdData, err := json.Marshal(command{Op: op, Data: data})
	if err != nil {
		return fmt.Errorf("membership: marshal command: %w", err)
	}

	future := r.raft.Apply(cmdData, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("membership: apply: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// PutNode records info as the current view of a node, creating or
// overwriting any prior entry, and publishes the corresponding node-change
// event once the write is committed.
func (r *Registry) PutNode(info types.NodeInfo) error {
	if err := r.apply(opPutNode, info); err != nil {
		return err
	}

	evtType := events.EventNodeAlive
	if info.Status == types.NodeStatusDead {
		evtType = events.EventNodeDead
	}
	r.broker.Publish(&events.Event{
		Type:   evtType,
		NodeID: info.NodeID,
		Info:   info,
	})
	metrics.MembershipNodesTotal.WithLabelValues(string(info.Status)).Inc()
	return nil
}

// RemoveNode deletes id from the registry and publishes EventNodeLeft.
func (r *Registry) RemoveNode(id types.NodeID) error {
	if err := r.apply(opRemoveNode, id); err != nil {
		return err
	}
	r.broker.Publish(&events.Event{Type: events.EventNodeLeft, NodeID: id})
	return nil
}

// GetNode implements pkg/rpcpool.Membership: a local, linearizability-free
// read of the replicated table. filterDeadNodes, when true, makes a node
// recorded as dead behave as absent — the shape the liveness callback
// needs when deciding whether a node is even worth probing further
// (spec.md §6).
func (r *Registry) GetNode(nodeID types.NodeID, filterDeadNodes bool) (types.NodeInfo, bool) {
	info, ok := r.fsm.get(nodeID)
	if !ok {
		return types.NodeInfo{}, false
	}
	if filterDeadNodes && info.Status == types.NodeStatusDead {
		return types.NodeInfo{}, false
	}
	return info, true
}

// ListNodes returns every node currently known to this replica.
func (r *Registry) ListNodes() []types.NodeInfo {
	return r.fsm.list()
}

// Subscribe returns a channel of node-change events. Holding an active
// subscription is what IsSubscribedToNodeChange reports on.
func (r *Registry) Subscribe() events.Subscriber {
	return r.broker.Subscribe()
}

// Unsubscribe releases a subscription obtained from Subscribe.
func (r *Registry) Unsubscribe(sub events.Subscriber) {
	r.broker.Unsubscribe(sub)
}

// IsSubscribedToNodeChange implements pkg/rpcpool.Membership: the liveness
// callback is only well-defined while something is actually listening for
// node-change events (spec.md §7 MembershipSubscriptionMissing); an
// idle broker with zero subscribers means no one ever asked to be told.
func (r *Registry) IsSubscribedToNodeChange() bool {
	return r.broker.SubscriberCount() > 0
}

// GenerateJoinToken mints a join token new replicas present to AddVoter
// callers. Only the leader issues tokens.
func (r *Registry) GenerateJoinToken() (string, error) {
	if !r.IsLeader() {
		return "", fmt.Errorf("membership: not leader, tokens are leader-issued")
	}
	tok, err := r.tokens.generate(24 * time.Hour)
	if err != nil {
		return "", err
	}
	return tok.Token, nil
}

// ValidateJoinToken reports whether token is a currently-valid join token.
func (r *Registry) ValidateJoinToken(token string) bool {
	return r.tokens.validate(token)
}

// collectRaftMetrics refreshes the Raft leader/peer gauges in pkg/metrics.
// StartMetricsCollection calls it on a ticker.
func (r *Registry) collectRaftMetrics() {
	if r.IsLeader() {
		metrics.MembershipRaftLeader.Set(1)
	} else {
		metrics.MembershipRaftLeader.Set(0)
	}

	if r.raft == nil {
		return
	}
	future := r.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return
	}
	metrics.MembershipRaftPeers.Set(float64(len(future.Configuration().Servers)))
}

// StartMetricsCollection begins periodically refreshing the Raft leader
// and peer gauges. The ticker goroutine is never stopped; Shutdown does
// not end it.
func (r *Registry) StartMetricsCollection(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		r.collectRaftMetrics()
		for range ticker.C {
			r.collectRaftMetrics()
		}
	}()
}

// Shutdown gracefully stops the registry's Raft participant and event broker.
func (r *Registry) Shutdown() error {
	r.broker.Stop()
	if r.raft == nil {
		return nil
	}
	future := r.raft.Shutdown()
	return future.Error()
}
