// Package kv is the ordered key-value facet of PersistentStores: raft
// log entries, stable-store metadata, and adjacency rows all live in one
// SQLite file per shard alongside the vector and full-text facets, a
// plain table next to sqlite-vec/FTS5 virtual tables in the same
// database (following papercomputeco-tapes/pkg/storage/sqlite and
// pkg/vector/sqlitevec). This talks to database/sql directly — the
// schema here is a handful of flat tables, not a generated ORM graph.
package kv

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Store is an ordered byte-key KV table plus an adjacency table, backed by
// one SQLite connection. Ordering comes from SQLite's default TEXT/BLOB
// collation, which sorts bytewise.
type Store struct {
	db *sql.DB
}

// Open creates or attaches to the SQLite file at path, creating the kv and
// adjacency tables if absent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("kv: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key   BLOB PRIMARY KEY,
			value BLOB NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: creating kv table: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS adjacency (
			source_id TEXT NOT NULL,
			relation  TEXT NOT NULL,
			target_id TEXT NOT NULL,
			weight    REAL NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (source_id, relation, target_id)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: creating adjacency table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS adjacency_target_idx ON adjacency(target_id)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: creating adjacency index: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying connection for raftlog's LogStore/StableStore
// adapters, which need direct table access for log-specific schemas.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv: get: %w", err)
	}
	return v, nil
}

func (s *Store) Put(ctx context.Context, key, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("kv: put: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key []byte) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv: delete: %w", err)
	}
	return nil
}

// KVPair is one row from ScanPrefix.
type KVPair struct {
	Key   string
	Value []byte
}

// ScanPrefix returns all (key, value) pairs whose key starts with prefix,
// ordered ascending by key. The result is a slice rather than a map
// specifically so that order survives into callers: a map here would
// force every consumer (snapshot dumps, graph listings) to re-sort or
// silently inherit Go's randomized map iteration.
func (s *Store) ScanPrefix(ctx context.Context, prefix []byte) ([]KVPair, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key`,
		prefix, prefixUpperBound(prefix))
	if err != nil {
		return nil, fmt.Errorf("kv: scan: %w", err)
	}
	defer rows.Close()

	var out []KVPair
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("kv: scan row: %w", err)
		}
		out = append(out, KVPair{Key: string(k), Value: v})
	}
	return out, rows.Err()
}

// prefixUpperBound computes the smallest key strictly greater than every
// key with the given prefix, so a half-open range scan stays bounded.
func prefixUpperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return []byte{0xff, 0xff, 0xff, 0xff}
	}
	out := make([]byte, len(prefix))
	copy(out, prefix)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return append(out, 0xff)
}

// Batch applies a set of puts and deletes atomically.
type Batch struct {
	Puts    map[string][]byte
	Deletes [][]byte
}

func (s *Store) ApplyBatch(ctx context.Context, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv: batch begin: %w", err)
	}
	defer tx.Rollback()

	for k, v := range b.Puts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			[]byte(k), v); err != nil {
			return fmt.Errorf("kv: batch put: %w", err)
		}
	}
	for _, k := range b.Deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, k); err != nil {
			return fmt.Errorf("kv: batch delete: %w", err)
		}
	}
	return tx.Commit()
}

// UpsertEdge writes one adjacency row inside the caller's transaction.
// hybridindex's Apply does not call it; it runs the same upsert inline.
func UpsertEdge(ctx context.Context, tx *sql.Tx, sourceID, relation, targetID string, weight float64, updatedAtUnix int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO adjacency(source_id, relation, target_id, weight, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, relation, target_id) DO UPDATE SET weight = excluded.weight, updated_at = excluded.updated_at
	`, sourceID, relation, targetID, weight, updatedAtUnix)
	if err != nil {
		return fmt.Errorf("kv: upsert edge: %w", err)
	}
	return nil
}

// AdjacencyRow is one edge as read back from the adjacency table.
type AdjacencyRow struct {
	SourceID  string
	Relation  string
	TargetID  string
	Weight    float64
	UpdatedAt int64
}

// Neighbors returns the outbound edges of id, optionally filtered to the
// given relation set (nil/empty means all relations).
func (s *Store) Neighbors(ctx context.Context, id string, relations []string) ([]AdjacencyRow, error) {
	query := `SELECT source_id, relation, target_id, weight, updated_at FROM adjacency WHERE source_id = ?`
	args := []any{id}
	if len(relations) > 0 {
		placeholders := make([]string, len(relations))
		for i, r := range relations {
			placeholders[i] = "?"
			args = append(args, r)
		}
		query += " AND relation IN (" + strings.Join(placeholders, ",") + ")"
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("kv: neighbors: %w", err)
	}
	defer rows.Close()

	var out []AdjacencyRow
	for rows.Next() {
		var r AdjacencyRow
		if err := rows.Scan(&r.SourceID, &r.Relation, &r.TargetID, &r.Weight, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("kv: neighbors scan: %w", err)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out, rows.Err()
}

// InboundNeighbors returns the edges pointing at id (i.e. id is the
// target), using the adjacency_target_idx index. The hybrid query path's
// graph boost needs in-edges from already-scored nodes, which Neighbors
// (outbound) cannot give.
func (s *Store) InboundNeighbors(ctx context.Context, id string) ([]AdjacencyRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, relation, target_id, weight, updated_at FROM adjacency WHERE target_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("kv: inbound neighbors: %w", err)
	}
	defer rows.Close()

	var out []AdjacencyRow
	for rows.Next() {
		var r AdjacencyRow
		if err := rows.Scan(&r.SourceID, &r.Relation, &r.TargetID, &r.Weight, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("kv: inbound neighbors scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
