package consolidation

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorose/memorose/internal/config"
	"github.com/memorose/memorose/internal/hybridindex"
	"github.com/memorose/memorose/internal/llmcap"
	"github.com/memorose/memorose/internal/model"
	"github.com/memorose/memorose/internal/stores"
)

func TestWorkerConsolidatesOnlyWhileLeader(t *testing.T) {
	dir := t.TempDir()
	s, err := stores.Open(dir, 1, 16)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	idx := hybridindex.New(s)
	read := hybridindex.NewReadHandle(idx)
	proposer := newFakeProposer(idx)
	proposer.leader = false

	ctx := context.Background()
	require.NoError(t, idx.IngestEvent(ctx, model.Event{
		ID: "ev1", Tenant: "acme", App: "chat", Stream: "main",
		Timestamp: time.Now(), Content: model.Content{Type: "text", Data: []byte("a detailed report about server migration plans")},
	}))

	cfg := config.Consolidation{IntervalSecs: 1, BatchSize: 10, EntropyThreshold: 1.5, DedupThreshold: 0.9, LinkThreshold: 0.7, TopKNeighbors: 5, L2Interval: time.Hour}
	community := config.Community{MinSize: 3, MaxIterations: 100}
	decay := config.Decay{Interval: time.Hour, HalfLifeDays: 30, MinImportance: 0.1, MinAccessCount: 1}
	logger := logrus.NewEntry(logrus.New())

	w := NewWorker(read, proposer, llmcap.NewFakeCapability(16), cfg, community, decay, logger, nil, "0")
	w.Start(ctx, func() []string { return []string{"acme"} })

	time.Sleep(1200 * time.Millisecond)
	w.Stop()

	pending, err := idx.PendingEventsAll(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1, "worker must not consolidate while this node isn't the shard leader")
}
