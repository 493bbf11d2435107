// Package config assembles Memorose's configuration from environment
// variables, following a Load()/getEnv pattern
// (dev.helix.agent/internal/config.Load).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Raft holds the ReplicatedLog tuning knobs.
type Raft struct {
	HeartbeatIntervalMS  int
	ElectionTimeoutMinMS int
	ElectionTimeoutMaxMS int
	SnapshotPolicyLogs   uint64
	ProposeDeadline      time.Duration
	BindHost             string
	BasePort             int
	SeedVoters           []string
}

// Cluster holds sharding configuration.
type Cluster struct {
	ShardCount        int
	MaxDispatchRetries int
	MaxPingFailures    int
}

// Consolidation holds the ConsolidationEngine knobs.
type Consolidation struct {
	IntervalSecs     int
	BatchSize        int
	EntropyThreshold float64
	LinkThreshold    float64
	DedupThreshold   float64
	TopKNeighbors    int
	L2Interval       time.Duration
}

// Community holds the L2 community-detection knobs.
type Community struct {
	Algorithm     string // "auto", "louvain", "label_propagation", "two_phase"
	MinSize       int
	MaxIterations int
}

// Decay holds the temporal-decay knobs.
type Decay struct {
	Interval       time.Duration
	HalfLifeDays   float64
	MinImportance  float64
	MinAccessCount int64
}

// LLM holds the capability-facade knobs: timeouts and cancellation.
type LLM struct {
	TimeoutMS      int
	MaxConcurrency int
	MaxRetries     int
}

// Scoring holds the hybrid query fusion weights.
type Scoring struct {
	WVector float64
	WText   float64
	WGraph  float64
}

// Storage holds the PersistentStores paths and optional snapshot mirror.
type Storage struct {
	DataDir            string
	EmbeddingDimension int
	SnapshotMirror     MinioConfig
}

// MinioConfig holds the storage/minio.Config fields, used as
// an optional durable off-box mirror for Raft snapshots.
type MinioConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Server holds the HTTP API surface's knobs.
type Server struct {
	Host string
	Port string
	Mode string // gin.DebugMode / gin.ReleaseMode
}

type Config struct {
	NodeID  string
	Server  Server
	Raft    Raft
	Cluster Cluster
	Consolidation Consolidation
	Community     Community
	Decay         Decay
	LLM           LLM
	Scoring       Scoring
	Storage       Storage
	LogLevel      string
}

// Load assembles Config from the environment, applying documented
// defaults for anything unset.
func Load() *Config {
	return &Config{
		NodeID: getEnv("MEMOROSE_NODE_ID", ""),
		Server: Server{
			Host: getEnv("MEMOROSE_HOST", "0.0.0.0"),
			Port: getEnv("MEMOROSE_PORT", "7077"),
			Mode: getEnv("MEMOROSE_GIN_MODE", "release"),
		},
		Raft: Raft{
			HeartbeatIntervalMS:  getIntEnv("MEMOROSE_HEARTBEAT_INTERVAL_MS", 500),
			ElectionTimeoutMinMS: getIntEnv("MEMOROSE_ELECTION_TIMEOUT_MIN_MS", 1500),
			ElectionTimeoutMaxMS: getIntEnv("MEMOROSE_ELECTION_TIMEOUT_MAX_MS", 3000),
			SnapshotPolicyLogs:   uint64(getIntEnv("MEMOROSE_SNAPSHOT_POLICY_LOGS", 10000)),
			ProposeDeadline:      getDurationEnv("MEMOROSE_PROPOSE_DEADLINE", 10*time.Second),
			BindHost:             getEnv("MEMOROSE_RAFT_BIND_HOST", "127.0.0.1"),
			BasePort:             getIntEnv("MEMOROSE_RAFT_BASE_PORT", 7100),
			SeedVoters:           getEnvSlice("MEMOROSE_RAFT_SEED_VOTERS", nil),
		},
		Cluster: Cluster{
			ShardCount:         getIntEnv("MEMOROSE_SHARD_COUNT", 1),
			MaxDispatchRetries: getIntEnv("MEMOROSE_MAX_DISPATCH_RETRIES", 5),
			MaxPingFailures:    getIntEnv("MEMOROSE_MAX_PING_FAILURES", 3),
		},
		Consolidation: Consolidation{
			IntervalSecs:     getIntEnv("MEMOROSE_CONSOLIDATION_INTERVAL_SECS", 5),
			BatchSize:        getIntEnv("MEMOROSE_CONSOLIDATION_BATCH_SIZE", 50),
			EntropyThreshold: getFloatEnv("MEMOROSE_ENTROPY_THRESHOLD", 2.0),
			LinkThreshold:    getFloatEnv("MEMOROSE_LINK_THRESHOLD", 0.7),
			DedupThreshold:   getFloatEnv("MEMOROSE_DEDUP_THRESHOLD", 0.9),
			TopKNeighbors:    getIntEnv("MEMOROSE_TOPK_NEIGHBORS", 5),
			L2Interval:       getDurationEnv("MEMOROSE_L2_INTERVAL", 15*time.Minute),
		},
		Community: Community{
			Algorithm:     getEnv("MEMOROSE_COMMUNITY_ALGORITHM", "auto"),
			MinSize:       getIntEnv("MEMOROSE_COMMUNITY_MIN_SIZE", 3),
			MaxIterations: getIntEnv("MEMOROSE_COMMUNITY_MAX_ITERATIONS", 100),
		},
		Decay: Decay{
			Interval:       getDurationEnv("MEMOROSE_DECAY_INTERVAL", time.Hour),
			HalfLifeDays:   getFloatEnv("MEMOROSE_DECAY_HALF_LIFE_DAYS", 30),
			MinImportance:  getFloatEnv("MEMOROSE_DECAY_MIN_IMPORTANCE", 0.1),
			MinAccessCount: int64(getIntEnv("MEMOROSE_DECAY_MIN_ACCESS_COUNT", 1)),
		},
		LLM: LLM{
			TimeoutMS:      getIntEnv("MEMOROSE_LLM_TIMEOUT_MS", 30000),
			MaxConcurrency: getIntEnv("MEMOROSE_LLM_MAX_CONCURRENCY", 8),
			MaxRetries:     getIntEnv("MEMOROSE_LLM_MAX_RETRIES", 5),
		},
		Scoring: Scoring{
			WVector: getFloatEnv("MEMOROSE_SCORING_W_VECTOR", 0.55),
			WText:   getFloatEnv("MEMOROSE_SCORING_W_TEXT", 0.35),
			WGraph:  getFloatEnv("MEMOROSE_SCORING_W_GRAPH", 0.10),
		},
		Storage: Storage{
			DataDir:            getEnv("MEMOROSE_DATA_DIR", "./data"),
			EmbeddingDimension: getIntEnv("MEMOROSE_EMBEDDING_DIMENSION", 1536),
			SnapshotMirror: MinioConfig{
				Enabled:   getBoolEnv("MEMOROSE_SNAPSHOT_MIRROR_ENABLED", false),
				Endpoint:  getEnv("MEMOROSE_MINIO_ENDPOINT", "localhost:9000"),
				AccessKey: getEnv("MEMOROSE_MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MEMOROSE_MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MEMOROSE_MINIO_BUCKET", "memorose-snapshots"),
				UseSSL:    getBoolEnv("MEMOROSE_MINIO_USE_SSL", false),
			},
		},
		LogLevel: getEnv("MEMOROSE_LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvSlice parses a comma-separated environment variable into a slice,
// used for MEMOROSE_RAFT_SEED_VOTERS ("nodeID@host:port,...").
func getEnvSlice(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return fallback
}
