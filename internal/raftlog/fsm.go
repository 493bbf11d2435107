package raftlog

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/hashicorp/raft"
	"github.com/sirupsen/logrus"

	"github.com/memorose/memorose/internal/hybridindex"
	"github.com/memorose/memorose/internal/memerr"
	"github.com/memorose/memorose/internal/model"
)

// FSM is the deterministic state machine hashicorp/raft drives: every
// committed Command is applied, in log order, to exactly one
// hybridindex.Index, one apply loop per shard.
type FSM struct {
	idx    *hybridindex.Index
	logger *logrus.Entry
}

// NewFSM wraps idx for use as a raft.FSM.
func NewFSM(idx *hybridindex.Index, logger *logrus.Entry) *FSM {
	return &FSM{idx: idx, logger: logger}
}

// ApplyResult is what Apply returns, retrievable from the raft future's
// Response(). A non-nil Err means the command was rejected or failed;
// raft still advances last_applied either way — the log entry is
// consumed, the effect just didn't happen.
type ApplyResult struct {
	Err error
}

// Apply decodes and dispatches one committed log entry. FatalInvariant
// errors panic here rather than being returned — the apply
// loop is not allowed to silently continue past corrupt state.
func (f *FSM) Apply(l *raft.Log) interface{} {
	cmd, err := decodeCommand(l.Data)
	if err != nil {
		err = memerr.FatalInvariant("raftlog: undecodable log entry", err)
		f.logger.WithError(err).Error("fatal invariant violation applying committed log entry")
		panic(err)
	}

	ctx := context.Background()
	switch cmd.Kind {
	case KindIngestEvent:
		if cmd.Event == nil {
			return ApplyResult{Err: memerr.Validation("raftlog: IngestEvent missing event", nil)}
		}
		err = f.idx.IngestEvent(ctx, *cmd.Event)

	case KindUpsertMemory, KindDeleteMemory, KindUpsertEdge, KindMarkEventConsumed:
		err = f.idx.Apply(ctx, hybridindex.Command{
			UpsertMemories:  cmd.UpsertMemories,
			DeleteMemoryIDs: cmd.DeleteMemoryIDs,
			UpsertEdges:     cmd.UpsertEdges,
			ConsumedEvents:  cmd.ConsumedEvents,
			RejectedEvents:  cmd.RejectedEvents,
		})

	case KindDecayTick:
		err = f.applyDecayTick(ctx, cmd)

	case KindConfigChange:
		// Membership changes are driven through raft.Raft's own
		// AddVoter/AddNonvoter/RemoveServer API by ReplicatedLog, not
		// through FSM.Apply; a ConfigChange command reaching here is a
		// no-op marker kept for audit-log completeness.

	default:
		err = memerr.Validation(fmt.Sprintf("raftlog: unknown command kind %q", cmd.Kind), nil)
	}

	if err != nil && memerr.Is(err, memerr.KindFatalInvariant) {
		f.logger.WithError(err).Error("fatal invariant violation applying committed log entry")
		panic(err)
	}
	return ApplyResult{Err: err}
}

func (f *FSM) applyDecayTick(ctx context.Context, cmd Command) error {
	now := time.Unix(cmd.DecayNowUnix, 0)
	if cmd.DecayNowUnix == 0 {
		now = time.Now()
	}

	graph, err := f.idx.Graph(ctx, 1_000_000, "")
	if err != nil {
		return err
	}

	var upserts []model.Memory
	var deletes []string
	for _, m := range graph.Nodes {
		elapsedDays := now.Sub(m.TransactionTime).Hours() / 24
		if m.LastAccessed.After(m.TransactionTime) {
			elapsedDays = now.Sub(m.LastAccessed).Hours() / 24
		}
		if elapsedDays < 0 {
			elapsedDays = 0
		}
		halfLife := cmd.DecayHalfLifeDays
		if halfLife <= 0 {
			halfLife = 30
		}
		decayed := m.Importance * pow2(-elapsedDays/halfLife)
		m.Importance = decayed
		m.ClampImportance()

		if m.Importance < cmd.DecayMinImportance && m.AccessCount < cmd.DecayMinAccessCount {
			deletes = append(deletes, m.ID)
			continue
		}
		upserts = append(upserts, m)
	}

	return f.idx.Apply(ctx, hybridindex.Command{UpsertMemories: upserts, DeleteMemoryIDs: deletes})
}

func pow2(exp float64) float64 {
	return math.Pow(0.5, exp)
}

// Snapshot captures the shard's three PersistentStores engines as a single
// byte stream for raft.SnapshotStore to persist.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	data, err := f.idx.Dump(context.Background())
	if err != nil {
		return nil, fmt.Errorf("raftlog: snapshot dump: %w", err)
	}
	return &fsmSnapshot{data: data}, nil
}

// Restore replaces the shard's PersistentStores content with a previously
// captured snapshot, used when installing a snapshot on a lagging or new
// replica.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("raftlog: reading snapshot: %w", err)
	}
	return f.idx.Restore(context.Background(), data)
}

// fsmSnapshot holds a point-in-time dump until raft finishes persisting it
// (or discards it, on Release).
type fsmSnapshot struct {
	data []byte
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		sink.Cancel()
		return fmt.Errorf("raftlog: persisting snapshot: %w", err)
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

var _ raft.FSM = (*FSM)(nil)
var _ raft.FSMSnapshot = (*fsmSnapshot)(nil)
