// Package raftlog is the ReplicatedLog component: one
// hashicorp/raft group per shard, backed by internal/stores/kv for the log
// and stable store, internal/stores/snapshotstore for snapshots, and
// internal/hybridindex as the deterministic state machine. No library in
// the example pack implements Raft; this is the standard, idiomatic choice
// for the problem and is treated as an out-of-pack dependency (see
// DESIGN.md).
package raftlog

import (
	"encoding/json"
	"fmt"

	"github.com/memorose/memorose/internal/hybridindex"
	"github.com/memorose/memorose/internal/model"
)

// CommandKind enumerates the seven commands the apply loop understands.
type CommandKind string

const (
	KindIngestEvent       CommandKind = "IngestEvent"
	KindUpsertMemory       CommandKind = "UpsertMemory"
	KindDeleteMemory       CommandKind = "DeleteMemory"
	KindUpsertEdge         CommandKind = "UpsertEdge"
	KindDecayTick          CommandKind = "DecayTick"
	KindMarkEventConsumed  CommandKind = "MarkEventConsumed"
	KindConfigChange       CommandKind = "ConfigChange"
)

// Command is the wire format proposed to the log and passed to FSM.Apply.
// A consolidation batch commit sets multiple fields at
// once so it applies as a single log entry; single-purpose commands
// (IngestEvent, a standalone DecayTick) use only the one field they need.
type Command struct {
	Kind CommandKind `json:"kind"`

	Event           *model.Event        `json:"event,omitempty"`
	UpsertMemories  []model.Memory       `json:"upsert_memories,omitempty"`
	DeleteMemoryIDs []string             `json:"delete_memory_ids,omitempty"`
	UpsertEdges     []model.Edge         `json:"upsert_edges,omitempty"`
	ConsumedEvents  []string             `json:"consumed_events,omitempty"`
	RejectedEvents  []hybridindex.RejectedEvent `json:"rejected_events,omitempty"`

	// DecayTick parameters.
	DecayHalfLifeDays   float64 `json:"decay_half_life_days,omitempty"`
	DecayMinImportance  float64 `json:"decay_min_importance,omitempty"`
	DecayMinAccessCount int64   `json:"decay_min_access_count,omitempty"`
	DecayNowUnix        int64   `json:"decay_now_unix,omitempty"`

	// ConfigChange parameters.
	ConfigChangeAddVoter   *VoterSpec `json:"config_change_add_voter,omitempty"`
	ConfigChangeAddLearner *VoterSpec `json:"config_change_add_learner,omitempty"`
	ConfigChangeRemove     string     `json:"config_change_remove,omitempty"`
}

// VoterSpec names a peer for membership-change commands.
type VoterSpec struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

func encodeCommand(cmd Command) ([]byte, error) {
	b, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("raftlog: encode command: %w", err)
	}
	return b, nil
}

func decodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("raftlog: decode command: %w", err)
	}
	return cmd, nil
}
