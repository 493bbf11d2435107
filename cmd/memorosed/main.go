// Command memorosed runs one Memorose node: a set of Raft-replicated
// shards, the consolidation worker for each, and the HTTP API surface in
// front of them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/memorose/memorose/internal/config"
	"github.com/memorose/memorose/internal/consolidation"
	"github.com/memorose/memorose/internal/httpapi"
	"github.com/memorose/memorose/internal/hybridindex"
	"github.com/memorose/memorose/internal/llmcap"
	"github.com/memorose/memorose/internal/metrics"
	"github.com/memorose/memorose/internal/raftlog"
	"github.com/memorose/memorose/internal/shardrouter"
	"github.com/memorose/memorose/internal/stores"
	"github.com/memorose/memorose/internal/stores/snapshotstore"
)

// node bundles one shard's replicated log and consolidation worker.
type node struct {
	shardID uint64
	log     *raftlog.ReplicatedLog
	worker  *consolidation.Worker
}

func main() {
	cfg := config.Load()

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	logger.SetFormatter(&logrus.JSONFormatter{})

	if cfg.NodeID == "" {
		logger.Fatal("MEMOROSE_NODE_ID must be set")
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		logger.WithError(err).Fatal("creating data directory")
	}

	capability := llmcap.NewGuarded(llmcap.NewFakeCapability(cfg.Storage.EmbeddingDimension), cfg.LLM.MaxConcurrency, cfg.LLM.MaxRetries)
	collector := metrics.NewCollector()

	router := shardrouter.New(cfg.Cluster.ShardCount, cfg.Cluster.MaxDispatchRetries, cfg.Cluster.MaxPingFailures)
	shards := make(map[uint64]*httpapi.Shard, cfg.Cluster.ShardCount)
	nodes := make([]*node, 0, cfg.Cluster.ShardCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for shardID := 0; shardID < cfg.Cluster.ShardCount; shardID++ {
		id := uint64(shardID)
		shardLog := logger.WithField("shard", id)

		store, err := stores.Open(cfg.Storage.DataDir, id, cfg.Storage.EmbeddingDimension)
		if err != nil {
			logger.WithError(err).Fatalf("opening shard %d store", id)
		}

		shardPrefix := fmt.Sprintf("shard-%d", id)
		snapStore, err := snapshotstore.Open(ctx, cfg.Storage.DataDir, shardPrefix, 3, snapshotstore.MirrorConfig(cfg.Storage.SnapshotMirror), logger)
		if err != nil {
			logger.WithError(err).Fatalf("opening shard %d snapshot store", id)
		}

		bindAddr := cfg.Raft.BindHost + ":" + strconv.Itoa(cfg.Raft.BasePort+shardID)
		rl, err := raftlog.Open(raftlog.Deps{
			NodeID:   cfg.NodeID,
			BindAddr: bindAddr,
			DataDir:  cfg.Storage.DataDir,
			ShardID:  id,
			Cfg:      cfg.Raft,
			Logger:   logger,
		}, store, snapStore)
		if err != nil {
			logger.WithError(err).Fatalf("opening shard %d raft group", id)
		}

		if len(rl.Status().Voters) == 0 {
			if len(cfg.Raft.SeedVoters) > 0 {
				if err := rl.BootstrapSeedVoters(cfg.Raft.SeedVoters); err != nil {
					shardLog.WithError(err).Warn("shard seed-voter bootstrap failed, waiting for cluster/join")
				} else {
					shardLog.WithField("voters", cfg.Raft.SeedVoters).Info("bootstrapped shard with seed voters")
				}
			} else if err := rl.Bootstrap(cfg.NodeID, bindAddr); err != nil {
				shardLog.WithError(err).Warn("shard bootstrap failed, waiting for cluster/join")
			} else {
				shardLog.Info("bootstrapped single-voter shard")
			}
		}

		router.RegisterShard(&shardrouter.Shard{ID: id, Voters: []string{bindAddr}, Leader: bindAddr})

		shardLabel := strconv.FormatUint(id, 10)
		worker := consolidation.NewWorker(rl.ReadHandle(), rl, capability, cfg.Consolidation, cfg.Community, cfg.Decay, shardLog, collector, shardLabel)
		worker.Start(ctx, tenantsFunc(ctx, rl.ReadHandle(), shardLog))

		shards[id] = &httpapi.Shard{ID: shardLabel, Log: rl, Cap: capability, Scoring: cfg.Scoring}
		nodes = append(nodes, &node{shardID: id, log: rl, worker: worker})
	}

	cluster := &httpapi.Cluster{
		Shards: shards,
		Router: router,
		NodeID: cfg.NodeID,
		Addr:   cfg.Raft.BindHost + ":" + strconv.Itoa(cfg.Raft.BasePort),
	}
	server := httpapi.NewServer(cluster, cfg.Server, logger, collector)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	logger.WithFields(logrus.Fields{
		"node_id": cfg.NodeID,
		"shards":  cfg.Cluster.ShardCount,
		"addr":    cfg.Server.Host + ":" + cfg.Server.Port,
	}).Info("memorose node started")

	select {
	case err := <-serverErr:
		logger.WithError(err).Error("http api failed")
	case <-quit:
		logger.Info("shutdown signal received")
	}

	cancel()
	for _, n := range nodes {
		n.worker.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http api shutdown error")
	}

	for _, n := range nodes {
		if err := n.log.Shutdown(); err != nil {
			logger.WithError(err).WithField("shard", n.shardID).Error("raft shutdown error")
		}
	}

	logger.Info("memorose node stopped")
}

// tenantsFunc lists the tenants a shard currently holds memories for, used
// by the L2 pass to know which tenants to roll communities for.
func tenantsFunc(ctx context.Context, read *hybridindex.ReadHandle, logger *logrus.Entry) func() []string {
	return func() []string {
		tenants, err := read.Tenants(ctx)
		if err != nil {
			logger.WithError(err).Warn("listing tenants failed")
			return nil
		}
		return tenants
	}
}
