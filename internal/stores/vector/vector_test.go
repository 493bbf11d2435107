package vector

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := sql.Open("sqlite3", filepath.Join(dir, "shard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := Open(db, 4)
	require.NoError(t, err)
	return s
}

func TestANNScoresByCosineSimilarity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx, err := s.db.Begin()
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, tx, "same-direction", []float32{1, 0, 0, 0}))
	require.NoError(t, s.Upsert(ctx, tx, "opposite-direction", []float32{-1, 0, 0, 0}))
	require.NoError(t, s.Upsert(ctx, tx, "orthogonal", []float32{0, 1, 0, 0}))
	require.NoError(t, tx.Commit())

	matches, err := s.ANN(ctx, []float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	byID := map[string]float64{}
	for _, m := range matches {
		byID[m.MemoryID] = m.Similarity
	}

	assert.InDelta(t, 1.0, byID["same-direction"], 1e-6)
	assert.InDelta(t, 0.0, byID["orthogonal"], 1e-6)
	assert.InDelta(t, -1.0, byID["opposite-direction"], 1e-6)
	assert.Greater(t, byID["same-direction"], byID["orthogonal"])
	assert.Greater(t, byID["orthogonal"], byID["opposite-direction"])
}
