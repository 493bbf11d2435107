package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "shard.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []byte("a"), []byte("1")))
	v, err := s.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, s.Delete(ctx, []byte("a")))
	v, err = s.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestScanPrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []byte("memory/1"), []byte("x")))
	require.NoError(t, s.Put(ctx, []byte("memory/2"), []byte("y")))
	require.NoError(t, s.Put(ctx, []byte("event/1"), []byte("z")))

	got, err := s.ScanPrefix(ctx, []byte("memory/"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "memory/1", got[0].Key)
	assert.Equal(t, []byte("x"), got[0].Value)
	assert.Equal(t, "memory/2", got[1].Key)
}

func TestApplyBatchIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, []byte("k"), []byte("old")))

	err := s.ApplyBatch(ctx, Batch{
		Puts:    map[string][]byte{"k": []byte("new"), "k2": []byte("v2")},
		Deletes: [][]byte{[]byte("k3")},
	})
	require.NoError(t, err)

	v, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)
}

func TestInboundNeighborsFindsEdgesByTarget(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tx, err := s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, UpsertEdge(ctx, tx, "m1", "similar", "m2", 0.4, 100))
	require.NoError(t, UpsertEdge(ctx, tx, "m3", "similar", "m2", 0.6, 100))
	require.NoError(t, tx.Commit())

	rows, err := s.InboundNeighbors(ctx, "m2")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	sources := map[string]bool{}
	for _, r := range rows {
		sources[r.SourceID] = true
		assert.Equal(t, "m2", r.TargetID)
	}
	assert.True(t, sources["m1"])
	assert.True(t, sources["m3"])
}

func TestNeighborsOrderedByWeightDescending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tx, err := s.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, UpsertEdge(ctx, tx, "m1", "similar", "m2", 0.4, 100))
	require.NoError(t, UpsertEdge(ctx, tx, "m1", "similar", "m3", 0.9, 100))
	require.NoError(t, tx.Commit())

	rows, err := s.Neighbors(ctx, "m1", nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "m3", rows[0].TargetID)
}
