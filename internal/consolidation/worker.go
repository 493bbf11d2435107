package consolidation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/memorose/memorose/internal/config"
	"github.com/memorose/memorose/internal/hybridindex"
	"github.com/memorose/memorose/internal/llmcap"
	"github.com/memorose/memorose/internal/metrics"
)

// Worker owns one shard's consolidation lifecycle: it ticks the L1
// pipeline on interval_secs, the L2 pass on l2_interval, and decay on
// decay_interval, but only while this node holds shard leadership. On
// leader change, the new leader resumes from the durable pending set —
// there is no local checkpoint to carry across a stop/start,
// PendingEventsAll already is durable.
type Worker struct {
	read     *hybridindex.ReadHandle
	proposer Proposer
	l1       *L1Pipeline
	l2       *L2Pass
	decay    *DecayTicker
	cfg      config.Consolidation
	l2Every  time.Duration
	decayEvery time.Duration
	logger   *logrus.Entry

	metrics    *metrics.Collector
	shardLabel string

	stop chan struct{}
	done chan struct{}
}

// NewWorker wires one shard's consolidation lifecycle. collector and
// shardLabel may be left nil/empty — metrics are a no-op when collector
// is nil, so existing single-shard callers and tests don't need to
// thread a Prometheus registry through just to exercise the pipeline.
func NewWorker(read *hybridindex.ReadHandle, proposer Proposer, cap llmcap.Capability, cfg config.Consolidation, community config.Community, decay config.Decay, logger *logrus.Entry, collector *metrics.Collector, shardLabel string) *Worker {
	return &Worker{
		read:       read,
		proposer:   proposer,
		l1:         NewL1Pipeline(read, cap, proposer, cfg, logger),
		l2:         NewL2Pass(read, cap, proposer, community, logger),
		decay:      NewDecayTicker(proposer, decay),
		cfg:        cfg,
		l2Every:    cfg.L2Interval,
		decayEvery: decay.Interval,
		logger:     logger,
		metrics:    collector,
		shardLabel: shardLabel,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the worker's tick loop in a goroutine until Stop is called.
func (w *Worker) Start(ctx context.Context, tenants func() []string) {
	go w.run(ctx, tenants)
}

// Stop signals the loop to exit and blocks until it has, matching the
// "stop before ack'ing a demotion" requirement so a demoted leader never
// proposes a batch after conceding leadership.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) run(ctx context.Context, tenants func() []string) {
	defer close(w.done)

	l1Ticker := time.NewTicker(time.Duration(w.cfg.IntervalSecs) * time.Second)
	defer l1Ticker.Stop()
	l2Ticker := time.NewTicker(w.l2Every)
	defer l2Ticker.Stop()
	decayTicker := time.NewTicker(w.decayEvery)
	defer decayTicker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-l1Ticker.C:
			if !w.proposer.IsLeader() {
				continue
			}
			n, err := w.l1.RunOnce(ctx)
			if err != nil {
				w.logger.WithError(err).Warn("l1 consolidation round failed")
				w.recordError("l1")
			} else {
				w.recordBatchSize(n)
			}
		case <-l2Ticker.C:
			if !w.proposer.IsLeader() {
				continue
			}
			for _, tenant := range tenants() {
				if _, err := w.l2.RunOnce(ctx, tenant); err != nil {
					w.logger.WithError(err).WithField("tenant", tenant).Warn("l2 pass failed")
					w.recordError("l2")
				}
			}
		case <-decayTicker.C:
			if !w.proposer.IsLeader() {
				continue
			}
			if err := w.decay.Tick(ctx); err != nil {
				w.logger.WithError(err).Warn("decay tick failed")
				w.recordError("decay")
			}
		}
	}
}

func (w *Worker) recordBatchSize(n int) {
	if w.metrics == nil {
		return
	}
	w.metrics.ConsolidationBatchSize.WithLabelValues(w.shardLabel).Observe(float64(n))
}

func (w *Worker) recordError(stage string) {
	if w.metrics == nil {
		return
	}
	w.metrics.ConsolidationErrors.WithLabelValues(w.shardLabel, stage).Inc()
}
