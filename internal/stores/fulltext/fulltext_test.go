package fulltext

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func openTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite3", filepath.Join(dir, "shard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := Open(db)
	require.NoError(t, err)
	return s, db
}

func TestSearchRanksStrongerMatchesHigher(t *testing.T) {
	s, db := openTestStore(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, s.Index(ctx, tx, "weak", "fox"))
	require.NoError(t, s.Index(ctx, tx, "strong", "fox fox fox jumps over the lazy dog fox fox"))
	require.NoError(t, tx.Commit())

	hits, err := s.Search(ctx, "fox", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	scores := map[string]float64{}
	for _, h := range hits {
		scores[h.MemoryID] = h.Score
		assert.Greater(t, h.Score, 0.0)
	}
	assert.Greater(t, scores["strong"], scores["weak"], "the document with more query-term occurrences should score higher, not lower")
}
