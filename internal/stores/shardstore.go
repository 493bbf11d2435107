// Package stores composes the three PersistentStores facets
// that must share one SQLite connection per shard so that hybridindex's
// apply() can write the kv row, the vec0 row, and the fts5 row inside a
// single transaction.
package stores

import (
	"fmt"
	"path/filepath"

	"github.com/memorose/memorose/internal/stores/fulltext"
	"github.com/memorose/memorose/internal/stores/kv"
	"github.com/memorose/memorose/internal/stores/vector"
)

// ShardStore is the per-shard storage engine: one SQLite file backing an
// ordered KV table, an adjacency table, a vec0 ANN index, and an FTS5
// full-text index.
type ShardStore struct {
	KV       *kv.Store
	Vector   *vector.Store
	Fulltext *fulltext.Store
}

// Open opens (creating if absent) the shard's SQLite file at
// dataDir/shard-<id>.db and attaches all three facets to it.
func Open(dataDir string, shardID uint64, embeddingDimension int) (*ShardStore, error) {
	path := filepath.Join(dataDir, fmt.Sprintf("shard-%d.db", shardID))

	kvStore, err := kv.Open(path)
	if err != nil {
		return nil, fmt.Errorf("shardstore: %w", err)
	}
	vecStore, err := vector.Open(kvStore.DB(), embeddingDimension)
	if err != nil {
		kvStore.Close()
		return nil, fmt.Errorf("shardstore: %w", err)
	}
	ftStore, err := fulltext.Open(kvStore.DB())
	if err != nil {
		kvStore.Close()
		return nil, fmt.Errorf("shardstore: %w", err)
	}

	return &ShardStore{KV: kvStore, Vector: vecStore, Fulltext: ftStore}, nil
}

func (s *ShardStore) Close() error { return s.KV.Close() }
