package membership

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/cuemby/corelink/pkg/types"
)

// command is a state-change operation in the Raft log, the same
// op/json.RawMessage envelope the original FSM used, narrowed to the
// two node lifecycle operations membership needs.
type command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opPutNode    = "put_node"
	opRemoveNode = "remove_node"
)

// fsm is the Raft finite state machine backing the node registry: a
// NodeID -> NodeInfo table, replicated via Raft log entries and
// snapshotted as a flat list (spec.md §6 NodeInfo).
type fsm struct {
	mu    sync.RWMutex
	nodes map[types.NodeID]types.NodeInfo
}

func newFSM() *fsm {
	return &fsm{nodes: make(map[types.NodeID]types.NodeInfo)}
}

func (f *fsm) Apply(l *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("membership: unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opPutNode:
		var info types.NodeInfo
		if err := json.Unmarshal(cmd.Data, &info); err != nil {
			return err
		}
		f.nodes[info.NodeID] = info
		return nil

	case opRemoveNode:
		var id types.NodeID
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		delete(f.nodes, id)
		return nil

	default:
		return fmt.Errorf("membership: unknown command %q", cmd.Op)
	}
}

func (f *fsm) get(id types.NodeID) (types.NodeInfo, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	info, ok := f.nodes[id]
	return info, ok
}

func (f *fsm) list() []types.NodeInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]types.NodeInfo, 0, len(f.nodes))
	for _, info := range f.nodes {
		out = append(out, info)
	}
	return out
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{nodes: f.list()}, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var nodes []types.NodeInfo
	if err := json.NewDecoder(rc).Decode(&nodes); err != nil {
		return fmt.Errorf("membership: decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = make(map[types.NodeID]types.NodeInfo, len(nodes))
	for _, n := range nodes {
		f.nodes[n.NodeID] = n
	}
	return nil
}

type fsmSnapshot struct {
	nodes []types.NodeInfo
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.nodes); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
