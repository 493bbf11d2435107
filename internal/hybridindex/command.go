// Package hybridindex is the tri-modal store over L1/L2 memories: vector
// ANN, inverted full-text (BM25), and adjacency graph, kept consistent
// under a single applied log entry. It is the only thing the
// raft.FSM applies against and the only writer of a shard's
// PersistentStores, kept to a single apply loop.
package hybridindex

import "github.com/memorose/memorose/internal/model"

// Command is the unit of work the apply loop hands to Index.Apply. A batch
// from consolidation's commit step arrives as one
// Command with multiple upserts/deletes/edges, applied as a single SQLite
// transaction so partial failure can never be observed.
type Command struct {
	UpsertMemories  []model.Memory
	DeleteMemoryIDs []string
	UpsertEdges     []model.Edge
	ConsumedEvents  []string // event IDs to mark no-longer-pending
	RejectedEvents  []RejectedEvent
}

// RejectedEvent records an event terminated by the entropy filter without
// ever producing a memory.
type RejectedEvent struct {
	EventID string
	Reason  string
}
