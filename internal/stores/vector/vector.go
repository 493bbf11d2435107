// Package vector is the ANN facet of PersistentStores,
// grounded directly in papercomputeco-tapes/pkg/vector/sqlitevec: a vec0
// virtual table from sqlite-vec, with a side mapping table from Memorose
// memory IDs to vec0's integer rowids (vec0 cannot use string primary
// keys). The distance metric itself follows
// theRebelliousNerd-codenerd/internal/store/reflection_search.go, which
// scores embeddings with vec_distance_cosine rather than vec0's default
// L2 distance: dedup and link thresholds are defined in cosine terms, so
// the store has to compute cosine distance to mean what those thresholds
// say.
package vector

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// Store is a per-shard ANN index over fixed-dimension float32 embeddings.
type Store struct {
	db        *sql.DB
	dimension int
}

// Open attaches the vec0 virtual table to db (expected to be the same
// connection as the shard's kv.Store, so inserts participate in the same
// SQLite transaction during apply()). sqlite_vec.Auto() registers the
// extension process-wide; Open is idempotent to call per-process.
func Open(db *sql.DB, dimension int) (*Store, error) {
	sqlite_vec.Auto()

	if dimension <= 0 {
		return nil, fmt.Errorf("vector: dimension must be positive, got %d", dimension)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS vec_ids (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id TEXT NOT NULL UNIQUE
		)`); err != nil {
		return nil, fmt.Errorf("vector: creating vec_ids table: %w", err)
	}

	createVec := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(embedding float[%d] distance_metric=cosine)`, dimension)
	if _, err := db.Exec(createVec); err != nil {
		return nil, fmt.Errorf("vector: creating vec0 table: %w", err)
	}

	return &Store{db: db, dimension: dimension}, nil
}

func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// Upsert writes or replaces the embedding for memoryID. vec0 does not
// support UPDATE, so an existing row is deleted and reinserted under the
// same rowid.
func (s *Store) Upsert(ctx context.Context, tx *sql.Tx, memoryID string, embedding []float32) error {
	if len(embedding) != s.dimension {
		return fmt.Errorf("vector: embedding has %d dims, want %d", len(embedding), s.dimension)
	}
	blob := serializeFloat32(embedding)

	var rowID int64
	err := tx.QueryRowContext(ctx, `SELECT rowid FROM vec_ids WHERE memory_id = ?`, memoryID).Scan(&rowID)
	switch err {
	case nil:
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_embeddings WHERE rowid = ?`, rowID); err != nil {
			return fmt.Errorf("vector: clearing old embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`, rowID, blob); err != nil {
			return fmt.Errorf("vector: reinserting embedding: %w", err)
		}
	case sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `INSERT INTO vec_ids(memory_id) VALUES (?)`, memoryID)
		if err != nil {
			return fmt.Errorf("vector: inserting id mapping: %w", err)
		}
		rowID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("vector: reading new rowid: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`, rowID, blob); err != nil {
			return fmt.Errorf("vector: inserting embedding: %w", err)
		}
	default:
		return fmt.Errorf("vector: looking up id mapping: %w", err)
	}
	return nil
}

// Delete removes memoryID's embedding, if present.
func (s *Store) Delete(ctx context.Context, tx *sql.Tx, memoryID string) error {
	var rowID int64
	err := tx.QueryRowContext(ctx, `SELECT rowid FROM vec_ids WHERE memory_id = ?`, memoryID).Scan(&rowID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("vector: delete lookup: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_embeddings WHERE rowid = ?`, rowID); err != nil {
		return fmt.Errorf("vector: delete embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_ids WHERE rowid = ?`, rowID); err != nil {
		return fmt.Errorf("vector: delete id mapping: %w", err)
	}
	return nil
}

// Match is one nearest-neighbor result: a memory ID and its cosine
// similarity in [-1, 1] (in practice (0, 1] for the embeddings this store
// carries), highest first.
type Match struct {
	MemoryID   string
	Similarity float64
}

// ANN returns the topK memories nearest to query by cosine distance. The
// vec0 table was created with distance_metric=cosine, so e.distance is
// vec0's cosine distance (1 - cosine similarity, range [0, 2]); Similarity
// undoes that so callers can compare it directly against cosine-defined
// thresholds like DedupThreshold and LinkThreshold.
func (s *Store) ANN(ctx context.Context, query []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 10
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("vector: query has %d dims, want %d", len(query), s.dimension)
	}
	blob := serializeFloat32(query)

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.memory_id, e.distance
		FROM vec_embeddings e
		INNER JOIN vec_ids v ON v.rowid = e.rowid
		WHERE e.embedding MATCH ? AND e.k = ?
		ORDER BY e.distance
	`, blob, topK)
	if err != nil {
		return nil, fmt.Errorf("vector: ann query: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, fmt.Errorf("vector: ann scan: %w", err)
		}
		out = append(out, Match{MemoryID: id, Similarity: 1.0 - distance})
	}
	return out, rows.Err()
}

// Compact rebuilds the vec0 table's backing storage. sqlite-vec does not
// expose a dedicated compaction API; VACUUM is the closest equivalent and
// is safe to run between apply() calls since it operates on the whole
// connection.
func (s *Store) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("vector: compact: %w", err)
	}
	return nil
}
