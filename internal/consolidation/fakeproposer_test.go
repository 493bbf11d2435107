package consolidation

import (
	"context"
	"sync"

	"github.com/memorose/memorose/internal/hybridindex"
	"github.com/memorose/memorose/internal/raftlog"
)

// fakeProposer applies proposed commands straight to an in-process
// hybridindex.Index, bypassing Raft entirely — standing in for the log
// the way a single-node test harness would.
type fakeProposer struct {
	mu       sync.Mutex
	idx      *hybridindex.Index
	leader   bool
	commands []raftlog.Command
}

func newFakeProposer(idx *hybridindex.Index) *fakeProposer {
	return &fakeProposer{idx: idx, leader: true}
}

func (f *fakeProposer) Propose(ctx context.Context, cmd raftlog.Command) (raftlog.ProposeResult, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()

	switch cmd.Kind {
	case raftlog.KindDecayTick:
		// decay.go's Tick doesn't expose FSM-level decay maths here; tests
		// covering decay pruning live in internal/raftlog/fsm_test.go.
		return raftlog.ProposeResult{}, nil
	default:
		err := f.idx.Apply(ctx, hybridindex.Command{
			UpsertMemories:  cmd.UpsertMemories,
			DeleteMemoryIDs: cmd.DeleteMemoryIDs,
			UpsertEdges:     cmd.UpsertEdges,
			ConsumedEvents:  cmd.ConsumedEvents,
			RejectedEvents:  cmd.RejectedEvents,
		})
		return raftlog.ProposeResult{}, err
	}
}

func (f *fakeProposer) IsLeader() bool { return f.leader }
