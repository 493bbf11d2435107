package httpapi

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/memorose/memorose/internal/config"
	"github.com/memorose/memorose/internal/hybridindex"
	"github.com/memorose/memorose/internal/llmcap"
	"github.com/memorose/memorose/internal/metrics"
	"github.com/memorose/memorose/internal/raftlog"
)

// Shard bundles one shard's ReplicatedLog with the capability facade and
// scoring weights its query handlers need.
type Shard struct {
	ID      string
	Log     *raftlog.ReplicatedLog
	Cap     llmcap.Capability
	Scoring config.Scoring
	logger  *logrus.Entry
	metrics *metrics.Collector
}

func (s *Shard) propose(ctx context.Context, cmd raftlog.Command) (raftlog.ProposeResult, error) {
	start := time.Now()
	res, err := s.Log.Propose(ctx, cmd)
	if s.metrics != nil {
		s.metrics.ProposeLatency.WithLabelValues(s.ID, string(cmd.Kind)).Observe(time.Since(start).Seconds())
	}
	return res, err
}

func (s *Shard) readLocal(ctx context.Context, fn func(*hybridindex.ReadHandle) error) error {
	return s.Log.ReadLocal(ctx, fn)
}

func (s *Shard) readLinearizable(ctx context.Context, fn func(*hybridindex.ReadHandle) error) error {
	return s.Log.ReadLinearizable(ctx, fn)
}

// proposeAccessBump batches the access_count/last_accessed update for a
// search result set into one proposal, run fire-and-forget off the
// request path to avoid log amplification on hot items.
func (s *Shard) proposeAccessBump(ids []string) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.readLocal(ctx, func(read *hybridindex.ReadHandle) error {
		ms, err := read.BuildAccessBump(ctx, ids, time.Now())
		if err != nil {
			return err
		}
		if len(ms) == 0 {
			return nil
		}
		_, proposeErr := s.propose(ctx, raftlog.Command{Kind: raftlog.KindUpsertMemory, UpsertMemories: ms})
		return proposeErr
	})
	if err != nil && s.logger != nil {
		s.logger.WithError(err).Debug("access bump proposal failed")
	}
}
