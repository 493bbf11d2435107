package hybridindex

import (
	"context"
	"encoding/json"

	"github.com/memorose/memorose/internal/memerr"
	"github.com/memorose/memorose/internal/model"
)

// dump is the deterministic serialized form of a shard's three
// PersistentStores engines: a deterministic serialized dump of the three
// engines. The vector and full-text facets are
// derived data — re-applying the memories on Restore regenerates them —
// so only the ordered-KV content and adjacency rows need to round-trip.
type dump struct {
	Memories []model.Memory `json:"memories"`
	Events   []model.Event  `json:"events"`
	Edges    []model.Edge   `json:"edges"`
}

// Dump serializes the shard's current state for raft.FSMSnapshot.Persist.
func (idx *Index) Dump(ctx context.Context) ([]byte, error) {
	memRows, err := idx.store.KV.ScanPrefix(ctx, []byte(memoryKeyPrefix))
	if err != nil {
		return nil, memerr.TransientIO("hybridindex: dump scan memories", err)
	}
	eventRows, err := idx.store.KV.ScanPrefix(ctx, []byte(eventKeyPrefix))
	if err != nil {
		return nil, memerr.TransientIO("hybridindex: dump scan events", err)
	}

	d := dump{}
	for _, row := range memRows {
		var m model.Memory
		if err := json.Unmarshal(row.Value, &m); err != nil {
			return nil, memerr.FatalInvariant("hybridindex: dump corrupt memory row", err)
		}
		d.Memories = append(d.Memories, m)
	}
	for _, row := range eventRows {
		var ev model.Event
		if err := json.Unmarshal(row.Value, &ev); err != nil {
			return nil, memerr.FatalInvariant("hybridindex: dump corrupt event row", err)
		}
		d.Events = append(d.Events, ev)
	}

	for _, m := range d.Memories {
		rows, err := idx.store.KV.Neighbors(ctx, m.ID, nil)
		if err != nil {
			return nil, memerr.TransientIO("hybridindex: dump scan edges", err)
		}
		for _, r := range rows {
			d.Edges = append(d.Edges, model.Edge{
				SourceID: r.SourceID, TargetID: r.TargetID,
				Relation: model.Relation(r.Relation), Weight: r.Weight,
			})
		}
	}

	out, err := json.Marshal(d)
	if err != nil {
		return nil, memerr.Validation("hybridindex: marshal dump", err)
	}
	return out, nil
}

// Restore replaces the shard's entire state with a previously captured
// Dump, used when installing a snapshot.
func (idx *Index) Restore(ctx context.Context, data []byte) error {
	var d dump
	if err := json.Unmarshal(data, &d); err != nil {
		return memerr.FatalInvariant("hybridindex: corrupt snapshot", err)
	}

	if _, err := idx.store.KV.DB().ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return memerr.TransientIO("hybridindex: restore clear kv", err)
	}
	if _, err := idx.store.KV.DB().ExecContext(ctx, `DELETE FROM adjacency`); err != nil {
		return memerr.TransientIO("hybridindex: restore clear adjacency", err)
	}
	if _, err := idx.store.KV.DB().ExecContext(ctx, `DELETE FROM vec_embeddings`); err != nil {
		return memerr.TransientIO("hybridindex: restore clear vectors", err)
	}
	if _, err := idx.store.KV.DB().ExecContext(ctx, `DELETE FROM vec_ids`); err != nil {
		return memerr.TransientIO("hybridindex: restore clear vector ids", err)
	}
	if _, err := idx.store.KV.DB().ExecContext(ctx, `DELETE FROM fts_memories`); err != nil {
		return memerr.TransientIO("hybridindex: restore clear fulltext", err)
	}

	for _, ev := range d.Events {
		if err := idx.IngestEvent(ctx, ev); err != nil {
			return err
		}
		// IngestEvent always sets Pending=true; restore the original
		// pending/terminal state exactly as dumped.
		if !ev.Pending {
			if err := idx.store.KV.Put(ctx, eventKey(ev.ID), mustMarshalEvent(ev)); err != nil {
				return memerr.TransientIO("hybridindex: restore event state", err)
			}
		}
	}

	if err := idx.Apply(ctx, Command{UpsertMemories: d.Memories, UpsertEdges: d.Edges}); err != nil {
		return err
	}
	return nil
}

func mustMarshalEvent(ev model.Event) []byte {
	b, _ := json.Marshal(&ev)
	return b
}
