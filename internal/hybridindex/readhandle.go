package hybridindex

import (
	"context"
	"time"

	"github.com/memorose/memorose/internal/config"
	"github.com/memorose/memorose/internal/llmcap"
	"github.com/memorose/memorose/internal/model"
)

// ReadHandle is the view of a shard's HybridIndex handed to the query
// path and the consolidation worker. It exposes no Apply, and every
// method except TouchAccess only reads.
type ReadHandle struct {
	idx *Index
}

// NewReadHandle wraps idx for read-only use.
func NewReadHandle(idx *Index) *ReadHandle { return &ReadHandle{idx: idx} }

func (h *ReadHandle) Search(ctx context.Context, q Query, scoring config.Scoring, cap llmcap.Capability) ([]Result, error) {
	return h.idx.Search(ctx, q, scoring, cap)
}

func (h *ReadHandle) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	return h.idx.GetMemory(ctx, id)
}

func (h *ReadHandle) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return h.idx.GetEvent(ctx, id)
}

func (h *ReadHandle) PendingEvents(ctx context.Context, tenant, app, stream string) ([]model.Event, error) {
	return h.idx.PendingEvents(ctx, tenant, app, stream)
}

func (h *ReadHandle) PendingEventsAll(ctx context.Context) ([]model.Event, error) {
	return h.idx.PendingEventsAll(ctx)
}

func (h *ReadHandle) Tenants(ctx context.Context) ([]string, error) {
	return h.idx.Tenants(ctx)
}

func (h *ReadHandle) Graph(ctx context.Context, limit int, tenant string) (*Graph, error) {
	return h.idx.Graph(ctx, limit, tenant)
}

func (h *ReadHandle) Neighbors(ctx context.Context, id string, depth int, relationMask []model.Relation) ([]PathStep, error) {
	return h.idx.Neighbors(ctx, id, depth, relationMask)
}

// TouchAccess writes the access bump straight to the store through
// Index.Apply, with no log in between; it serves single-node tests that
// have no log to propose through. A running cluster proposes the result
// of BuildAccessBump through ReplicatedLog instead.
func (h *ReadHandle) TouchAccess(ctx context.Context, ids []string, now time.Time) error {
	return h.idx.TouchAccess(ctx, ids, now)
}

// BuildAccessBump reads the access-count bump for ids without writing it;
// callers outside a single-node test propose the result through
// ReplicatedLog instead.
func (h *ReadHandle) BuildAccessBump(ctx context.Context, ids []string, now time.Time) ([]model.Memory, error) {
	return h.idx.BuildAccessBump(ctx, ids, now)
}
