package consolidation

import (
	"context"

	"github.com/memorose/memorose/internal/raftlog"
)

// Proposer is the narrow slice of ReplicatedLog the consolidation worker
// needs — just enough to submit a batch command without importing the
// full raftlog.ReplicatedLog surface (election/membership aren't its
// concern).
type Proposer interface {
	Propose(ctx context.Context, cmd raftlog.Command) (raftlog.ProposeResult, error)
	IsLeader() bool
}
