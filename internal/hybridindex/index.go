package hybridindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/memorose/memorose/internal/memerr"
	"github.com/memorose/memorose/internal/model"
	"github.com/memorose/memorose/internal/stores"
)

const (
	memoryKeyPrefix = "memory/"
	eventKeyPrefix  = "event/"
)

func memoryKey(id string) []byte { return []byte(memoryKeyPrefix + id) }
func eventKey(id string) []byte  { return []byte(eventKeyPrefix + id) }

// Index owns one shard's three PersistentStores facets and is the sole
// writer of them, invoked from raft.FSM.Apply.
type Index struct {
	store *stores.ShardStore
}

// New wraps an already-open ShardStore.
func New(store *stores.ShardStore) *Index {
	return &Index{store: store}
}

// Apply writes a Command to all three facets inside one SQLite
// transaction. Any engine error aborts the whole transaction, so the log's
// apply loop sees an all-or-nothing result.
func (idx *Index) Apply(ctx context.Context, cmd Command) error {
	tx, err := idx.store.KV.DB().BeginTx(ctx, nil)
	if err != nil {
		return memerr.TransientIO("hybridindex: begin tx", err)
	}
	defer tx.Rollback()

	for _, m := range cmd.UpsertMemories {
		if err := idx.upsertMemoryTx(ctx, tx, &m); err != nil {
			return err
		}
	}
	for _, id := range cmd.DeleteMemoryIDs {
		if err := idx.deleteMemoryTx(ctx, tx, id); err != nil {
			return err
		}
	}
	for _, e := range cmd.UpsertEdges {
		if e.Weight < 0 || e.Weight > 1 {
			return memerr.Validation(fmt.Sprintf("hybridindex: edge weight %f out of [0,1]", e.Weight), nil)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO adjacency(source_id, relation, target_id, weight, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(source_id, relation, target_id) DO UPDATE SET weight = excluded.weight, updated_at = excluded.updated_at
		`, e.SourceID, string(e.Relation), e.TargetID, e.Weight, e.UpdatedAt.Unix()); err != nil {
			return memerr.TransientIO("hybridindex: upsert edge", err)
		}
	}
	for _, eventID := range cmd.ConsumedEvents {
		if err := idx.markEventTx(ctx, tx, eventID, false, ""); err != nil {
			return err
		}
	}
	for _, r := range cmd.RejectedEvents {
		if err := idx.markEventTx(ctx, tx, r.EventID, false, r.Reason); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return memerr.TransientIO("hybridindex: commit tx", err)
	}
	return nil
}

func (idx *Index) upsertMemoryTx(ctx context.Context, tx *sql.Tx, m *model.Memory) error {
	m.ClampImportance()
	blob, err := json.Marshal(m)
	if err != nil {
		return memerr.Validation("hybridindex: marshal memory", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		memoryKey(m.ID), blob); err != nil {
		return memerr.TransientIO("hybridindex: upsert memory row", err)
	}
	if len(m.Embedding) > 0 {
		if err := idx.store.Vector.Upsert(ctx, tx, m.ID, m.Embedding); err != nil {
			return memerr.TransientIO("hybridindex: upsert embedding", err)
		}
	}
	content := m.Content
	for _, kw := range m.Keywords {
		content += " " + kw
	}
	if err := idx.store.Fulltext.Index(ctx, tx, m.ID, content); err != nil {
		return memerr.TransientIO("hybridindex: index fulltext", err)
	}
	return nil
}

func (idx *Index) deleteMemoryTx(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, memoryKey(id)); err != nil {
		return memerr.TransientIO("hybridindex: delete memory row", err)
	}
	if err := idx.store.Vector.Delete(ctx, tx, id); err != nil {
		return memerr.TransientIO("hybridindex: delete embedding", err)
	}
	if err := idx.store.Fulltext.Delete(ctx, tx, id); err != nil {
		return memerr.TransientIO("hybridindex: delete fulltext", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM adjacency WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
		return memerr.TransientIO("hybridindex: delete edges", err)
	}
	return nil
}

func (idx *Index) markEventTx(ctx context.Context, tx *sql.Tx, eventID string, pending bool, terminal string) error {
	var blob []byte
	err := tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, eventKey(eventID)).Scan(&blob)
	if err == sql.ErrNoRows {
		return memerr.Validation(fmt.Sprintf("hybridindex: unknown event %s", eventID), nil)
	}
	if err != nil {
		return memerr.TransientIO("hybridindex: read event", err)
	}
	var ev model.Event
	if err := json.Unmarshal(blob, &ev); err != nil {
		return memerr.FatalInvariant("hybridindex: corrupt event row", err)
	}
	ev.Pending = pending
	ev.Terminal = terminal
	out, err := json.Marshal(&ev)
	if err != nil {
		return memerr.Validation("hybridindex: marshal event", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		eventKey(eventID), out); err != nil {
		return memerr.TransientIO("hybridindex: write event", err)
	}
	return nil
}

// IngestEvent inserts a new pending L0 event, used directly by the FSM for
// the IngestEvent command (which carries no other side effects).
func (idx *Index) IngestEvent(ctx context.Context, ev model.Event) error {
	ev.Pending = true
	ev.Terminal = ""
	blob, err := json.Marshal(&ev)
	if err != nil {
		return memerr.Validation("hybridindex: marshal event", err)
	}
	if err := idx.store.KV.Put(ctx, eventKey(ev.ID), blob); err != nil {
		return memerr.TransientIO("hybridindex: ingest event", err)
	}
	return nil
}

// GetMemory reads a single memory by id, or nil if absent.
func (idx *Index) GetMemory(ctx context.Context, id string) (*model.Memory, error) {
	blob, err := idx.store.KV.Get(ctx, memoryKey(id))
	if err != nil {
		return nil, memerr.TransientIO("hybridindex: get memory", err)
	}
	if blob == nil {
		return nil, nil
	}
	var m model.Memory
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, memerr.FatalInvariant("hybridindex: corrupt memory row", err)
	}
	return &m, nil
}

// GetEvent reads a single event by id, or nil if absent.
func (idx *Index) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	blob, err := idx.store.KV.Get(ctx, eventKey(id))
	if err != nil {
		return nil, memerr.TransientIO("hybridindex: get event", err)
	}
	if blob == nil {
		return nil, nil
	}
	var ev model.Event
	if err := json.Unmarshal(blob, &ev); err != nil {
		return nil, memerr.FatalInvariant("hybridindex: corrupt event row", err)
	}
	return &ev, nil
}

// PendingEvents returns every event still awaiting consolidation, scoped
// to tenant/app/stream, for the batcher to drain.
func (idx *Index) PendingEvents(ctx context.Context, tenant, app, stream string) ([]model.Event, error) {
	rows, err := idx.store.KV.ScanPrefix(ctx, []byte(eventKeyPrefix))
	if err != nil {
		return nil, memerr.TransientIO("hybridindex: scan events", err)
	}
	var out []model.Event
	for _, row := range rows {
		var ev model.Event
		if err := json.Unmarshal(row.Value, &ev); err != nil {
			return nil, memerr.FatalInvariant("hybridindex: corrupt event row", err)
		}
		if !ev.Pending {
			continue
		}
		if ev.Tenant != tenant || ev.App != app || ev.Stream != stream {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// PendingEventsAll returns every pending event across all tenants/apps/
// streams, for the consolidation worker to group into batches itself.
func (idx *Index) PendingEventsAll(ctx context.Context) ([]model.Event, error) {
	rows, err := idx.store.KV.ScanPrefix(ctx, []byte(eventKeyPrefix))
	if err != nil {
		return nil, memerr.TransientIO("hybridindex: scan events", err)
	}
	var out []model.Event
	for _, row := range rows {
		var ev model.Event
		if err := json.Unmarshal(row.Value, &ev); err != nil {
			return nil, memerr.FatalInvariant("hybridindex: corrupt event row", err)
		}
		if ev.Pending {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Tenants returns the distinct tenant ids with at least one memory on this
// shard, for the consolidation worker's L2 pass to iterate over.
func (idx *Index) Tenants(ctx context.Context) ([]string, error) {
	rows, err := idx.store.KV.ScanPrefix(ctx, []byte(memoryKeyPrefix))
	if err != nil {
		return nil, memerr.TransientIO("hybridindex: scan memories", err)
	}
	seen := make(map[string]struct{})
	var out []string
	for _, row := range rows {
		var m model.Memory
		if err := json.Unmarshal(row.Value, &m); err != nil {
			return nil, memerr.FatalInvariant("hybridindex: corrupt memory row", err)
		}
		if _, ok := seen[m.Tenant]; ok {
			continue
		}
		seen[m.Tenant] = struct{}{}
		out = append(out, m.Tenant)
	}
	return out, nil
}

// BuildAccessBump reads each memory in ids and returns a copy with
// access_count incremented and last_accessed set to now, for the caller to
// propose as a batched command rather than writing directly — every
// mutation flows through ReplicatedLog.
func (idx *Index) BuildAccessBump(ctx context.Context, ids []string, now time.Time) ([]model.Memory, error) {
	var ms []model.Memory
	for _, id := range ids {
		m, err := idx.GetMemory(ctx, id)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		m.AccessCount++
		m.LastAccessed = now
		ms = append(ms, *m)
	}
	return ms, nil
}

// TouchAccess batches access_count/last_accessed bumps for a set of
// memories into one upsert. This writes directly to the shard's store and
// is intended only for single-node tests where there is no separate log
// to propose through; a running cluster must instead propose the result
// of BuildAccessBump through ReplicatedLog.
func (idx *Index) TouchAccess(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	ms, err := idx.BuildAccessBump(ctx, ids, now)
	if err != nil {
		return err
	}
	return idx.Apply(ctx, Command{UpsertMemories: ms})
}
