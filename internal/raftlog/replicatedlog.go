package raftlog

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/raft"
	"github.com/sirupsen/logrus"

	"github.com/memorose/memorose/internal/config"
	"github.com/memorose/memorose/internal/hybridindex"
	"github.com/memorose/memorose/internal/memerr"
	"github.com/memorose/memorose/internal/stores"
)

// ReplicatedLog is one shard's Raft group: propose/read/status
// plus membership changes, all backed by hashicorp/raft.
type ReplicatedLog struct {
	raft   *raft.Raft
	fsm    *FSM
	idx    *hybridindex.Index
	logger *logrus.Entry
}

// Deps bundles everything ReplicatedLog needs to open a shard.
type Deps struct {
	NodeID   string
	BindAddr string
	DataDir  string
	ShardID  uint64
	Cfg      config.Raft
	Logger   *logrus.Logger
}

// Open creates (or reattaches to) the shard's Raft group, wiring the
// SQLite-backed LogStore/StableStore, the local+mirrored SnapshotStore,
// and the hybridindex FSM together.
func Open(deps Deps, shardStore *stores.ShardStore, snapStore raft.SnapshotStore) (*ReplicatedLog, error) {
	logger := deps.Logger.WithField("shard", deps.ShardID)

	idx := hybridindex.New(shardStore)
	fsm := NewFSM(idx, logger)

	logStore, err := NewLogStore(shardStore.KV.DB())
	if err != nil {
		return nil, fmt.Errorf("raftlog: opening log store: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(deps.NodeID)
	raftCfg.HeartbeatTimeout = time.Duration(deps.Cfg.HeartbeatIntervalMS) * time.Millisecond
	raftCfg.ElectionTimeout = time.Duration(deps.Cfg.ElectionTimeoutMaxMS) * time.Millisecond
	raftCfg.LeaderLeaseTimeout = time.Duration(deps.Cfg.HeartbeatIntervalMS) * time.Millisecond
	raftCfg.SnapshotThreshold = deps.Cfg.SnapshotPolicyLogs

	addr, err := net.ResolveTCPAddr("tcp", deps.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("raftlog: resolving bind addr %s: %w", deps.BindAddr, err)
	}
	transport, err := raft.NewTCPTransport(deps.BindAddr, addr, 3, 10*time.Second, nil)
	if err != nil {
		return nil, fmt.Errorf("raftlog: creating transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, fsm, logStore, logStore, snapStore, transport)
	if err != nil {
		return nil, fmt.Errorf("raftlog: starting raft: %w", err)
	}

	return &ReplicatedLog{raft: r, fsm: fsm, idx: idx, logger: logger}, nil
}

// Bootstrap initializes a brand-new single-voter group on this node,
// serving POST /v1/cluster/initialize.
func (rl *ReplicatedLog) Bootstrap(nodeID, addr string) error {
	cfg := raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(nodeID), Address: raft.ServerAddress(addr)}},
	}
	f := rl.raft.BootstrapCluster(cfg)
	if err := f.Error(); err != nil {
		return fmt.Errorf("raftlog: bootstrap: %w", err)
	}
	return nil
}

// BootstrapSeedVoters initializes a brand-new multi-voter group from
// seedVoters, entries of the form "nodeID@host:port", used when
// Config.Raft.SeedVoters is non-empty so every replica in a known cluster
// comes up pre-configured instead of joining one at a time.
func (rl *ReplicatedLog) BootstrapSeedVoters(seedVoters []string) error {
	servers := make([]raft.Server, 0, len(seedVoters))
	for _, sv := range seedVoters {
		id, addr, ok := strings.Cut(sv, "@")
		if !ok {
			return fmt.Errorf("raftlog: seed voter %q: want nodeID@host:port", sv)
		}
		servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: raft.ServerAddress(addr)})
	}
	f := rl.raft.BootstrapCluster(raft.Configuration{Servers: servers})
	if err := f.Error(); err != nil {
		return fmt.Errorf("raftlog: bootstrap seed voters: %w", err)
	}
	return nil
}

// ReadHandle exposes the shard's HybridIndex for read-only use by the
// query path and the consolidation worker.
func (rl *ReplicatedLog) ReadHandle() *hybridindex.ReadHandle {
	return hybridindex.NewReadHandle(rl.idx)
}

// ProposeResult is the outcome of a successful Propose.
type ProposeResult struct {
	Index uint64
}

// Propose submits cmd to the log, blocking up to the deadline carried on
// ctx. Errors are mapped to the memerr taxonomy (NotLeader, Timeout,
// Rejected) per the propose contract.
func (rl *ReplicatedLog) Propose(ctx context.Context, cmd Command) (ProposeResult, error) {
	if rl.raft.State() != raft.Leader {
		hint, _ := rl.raft.LeaderWithID()
		return ProposeResult{}, memerr.NotLeader(string(hint))
	}

	data, err := encodeCommand(cmd)
	if err != nil {
		return ProposeResult{}, memerr.Validation("raftlog: encoding command", err)
	}

	deadline := 10 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}

	future := rl.raft.Apply(data, deadline)
	if err := future.Error(); err != nil {
		if err == raft.ErrLeadershipLost || err == raft.ErrNotLeader {
			hint, _ := rl.raft.LeaderWithID()
			return ProposeResult{}, memerr.NotLeader(string(hint))
		}
		if err == raft.ErrEnqueueTimeout {
			return ProposeResult{}, memerr.Timeout("raftlog: propose deadline exceeded", err)
		}
		return ProposeResult{}, memerr.TransientIO("raftlog: apply failed", err)
	}

	if res, ok := future.Response().(ApplyResult); ok && res.Err != nil {
		return ProposeResult{}, memerr.Rejected(res.Err.Error())
	}

	return ProposeResult{Index: future.Index()}, nil
}

// ReadLinearizable confirms current leadership via a read-index barrier
// before running fn against the read-only handle.
func (rl *ReplicatedLog) ReadLinearizable(ctx context.Context, fn func(*hybridindex.ReadHandle) error) error {
	if rl.raft.State() != raft.Leader {
		hint, _ := rl.raft.LeaderWithID()
		return memerr.NotLeader(string(hint))
	}
	if err := rl.raft.VerifyLeader().Error(); err != nil {
		return memerr.NotLeader("")
	}
	return fn(rl.ReadHandle())
}

// ReadLocal runs fn against the read-only handle without any leadership
// check; results may be stale on a follower.
func (rl *ReplicatedLog) ReadLocal(ctx context.Context, fn func(*hybridindex.ReadHandle) error) error {
	return fn(rl.ReadHandle())
}

// Status reports the shard's current Raft state.
type Status struct {
	State                  string
	Term                   uint64
	LastLogIndex           uint64
	LastApplied            uint64
	Leader                 string
	Voters                 []string
	Learners               []string
	ReplicationLagPerPeer  map[string]uint64
}

func (rl *ReplicatedLog) Status() Status {
	stats := rl.raft.Stats()
	_, leaderID := rl.raft.LeaderWithID()

	cfgFuture := rl.raft.GetConfiguration()
	var voters, learners []string
	if cfgFuture.Error() == nil {
		for _, srv := range cfgFuture.Configuration().Servers {
			if srv.Suffrage == raft.Voter {
				voters = append(voters, string(srv.ID))
			} else {
				learners = append(learners, string(srv.ID))
			}
		}
	}

	// hashicorp/raft does not expose per-peer match index through its
	// public Stats(), so ReplicationLagPerPeer is always returned empty.
	lag := map[string]uint64{}

	return Status{
		State:                 stats["state"],
		Term:                  parseUint64(stats["term"]),
		LastLogIndex:          parseUint64(stats["last_log_index"]),
		LastApplied:           parseUint64(stats["last_applied"]),
		Leader:                string(leaderID),
		Voters:                voters,
		Learners:              learners,
		ReplicationLagPerPeer: lag,
	}
}

func parseUint64(s string) uint64 {
	var v uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return v
		}
		v = v*10 + uint64(c-'0')
	}
	return v
}

// AddVoter promotes/enrolls a peer as a voting member.
func (rl *ReplicatedLog) AddVoter(nodeID, addr string) error {
	f := rl.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 0)
	if err := f.Error(); err != nil {
		return memerr.TransientIO("raftlog: add voter", err)
	}
	return nil
}

// AddLearner enrolls a peer as a non-voting learner. Nothing here promotes
// it to a voter once it has caught up; that takes a separate AddVoter call.
func (rl *ReplicatedLog) AddLearner(nodeID, addr string) error {
	f := rl.raft.AddNonvoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, 0)
	if err := f.Error(); err != nil {
		return memerr.TransientIO("raftlog: add learner", err)
	}
	return nil
}

// Remove evicts a peer from the group.
func (rl *ReplicatedLog) Remove(nodeID string) error {
	f := rl.raft.RemoveServer(raft.ServerID(nodeID), 0, 0)
	if err := f.Error(); err != nil {
		return memerr.TransientIO("raftlog: remove server", err)
	}
	return nil
}

// IsLeader reports whether this node currently holds shard leadership,
// used by the consolidation worker to gate its ticking — it runs only
// on the shard leader.
func (rl *ReplicatedLog) IsLeader() bool {
	return rl.raft.State() == raft.Leader
}

// Shutdown gracefully stops the Raft group.
func (rl *ReplicatedLog) Shutdown() error {
	return rl.raft.Shutdown().Error()
}
