// Package fulltext is the inverted-index facet of PersistentStores: an
// FTS5 virtual table ranked with SQLite's built-in BM25, on the
// same connection as the kv and vector facets so indexing participates in
// the same transaction as a memory's other writes during apply().
package fulltext

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Store is a per-shard BM25 full-text index over memory content.
type Store struct {
	db *sql.DB
}

// Open attaches the fts5 virtual table to db.
func Open(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS fts_memories USING fts5(
			memory_id UNINDEXED,
			content
		)`); err != nil {
		return nil, fmt.Errorf("fulltext: creating fts5 table: %w", err)
	}
	return &Store{db: db}, nil
}

// Index inserts or replaces memoryID's indexed content. fts5 has no
// natural-key UPDATE either, so existing rows are deleted first.
func (s *Store) Index(ctx context.Context, tx *sql.Tx, memoryID, content string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_memories WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("fulltext: clearing old row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO fts_memories(memory_id, content) VALUES (?, ?)`, memoryID, content); err != nil {
		return fmt.Errorf("fulltext: inserting: %w", err)
	}
	return nil
}

// Delete removes memoryID's indexed content, if present.
func (s *Store) Delete(ctx context.Context, tx *sql.Tx, memoryID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM fts_memories WHERE memory_id = ?`, memoryID); err != nil {
		return fmt.Errorf("fulltext: delete: %w", err)
	}
	return nil
}

// Hit is one BM25 search result; Score is normalized to (0, 1), highest
// first (sqlite's raw bm25() is a cost where lower is better).
type Hit struct {
	MemoryID string
	Score    float64
}

// Search runs a BM25-ranked FTS5 query and returns the topK hits. Query
// terms are escaped for FTS5's query syntax by quoting each token and
// joining with OR, so punctuation in user input can't break the match
// expression.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}
	expr := toMatchExpr(query)
	if expr == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, bm25(fts_memories) AS rank
		FROM fts_memories
		WHERE fts_memories MATCH ?
		ORDER BY rank
		LIMIT ?
	`, expr, topK)
	if err != nil {
		return nil, fmt.Errorf("fulltext: search: %w", err)
	}
	defer rows.Close()

	var out []Hit
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("fulltext: scan: %w", err)
		}
		magnitude := -rank
		out = append(out, Hit{MemoryID: id, Score: magnitude / (1.0 + magnitude)})
	}
	return out, rows.Err()
}

func toMatchExpr(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " OR ")
}
