package consolidation

import (
	"context"
	"time"

	"github.com/memorose/memorose/internal/config"
	"github.com/memorose/memorose/internal/raftlog"
)

// DecayTicker proposes a DecayTick command on decay_interval; the actual
// importance math and pruning lives in raftlog.FSM.applyDecayTick, run
// deterministically on every replica.
type DecayTicker struct {
	proposer Proposer
	cfg      config.Decay
}

func NewDecayTicker(proposer Proposer, cfg config.Decay) *DecayTicker {
	return &DecayTicker{proposer: proposer, cfg: cfg}
}

func (d *DecayTicker) Tick(ctx context.Context) error {
	_, err := d.proposer.Propose(ctx, raftlog.Command{
		Kind:                raftlog.KindDecayTick,
		DecayHalfLifeDays:   d.cfg.HalfLifeDays,
		DecayMinImportance:  d.cfg.MinImportance,
		DecayMinAccessCount: d.cfg.MinAccessCount,
		DecayNowUnix:        time.Now().Unix(),
	})
	return err
}
