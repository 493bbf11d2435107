package raftlog

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorose/memorose/internal/hybridindex"
	"github.com/memorose/memorose/internal/model"
	"github.com/memorose/memorose/internal/stores"
)

func newTestFSM(t *testing.T) *FSM {
	t.Helper()
	dir := t.TempDir()
	s, err := stores.Open(dir, 1, 8)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	idx := hybridindex.New(s)
	logger := logrus.NewEntry(logrus.New())
	return NewFSM(idx, logger)
}

func applyCmd(t *testing.T, fsm *FSM, cmd Command) ApplyResult {
	t.Helper()
	data, err := encodeCommand(cmd)
	require.NoError(t, err)
	res := fsm.Apply(&raft.Log{Index: 1, Term: 1, Data: data})
	ar, ok := res.(ApplyResult)
	require.True(t, ok)
	return ar
}

func TestFSMAppliesUpsertMemory(t *testing.T) {
	fsm := newTestFSM(t)
	ar := applyCmd(t, fsm, Command{
		Kind: KindUpsertMemory,
		UpsertMemories: []model.Memory{{
			ID: "m1", Tenant: "acme", Content: "hello world", Level: model.LevelL1,
		}},
	})
	require.NoError(t, ar.Err)

	got, err := fsm.idx.GetMemory(context.Background(), "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "acme", got.Tenant)
}

func TestFSMRejectsUnknownCommandKind(t *testing.T) {
	fsm := newTestFSM(t)
	ar := applyCmd(t, fsm, Command{Kind: "Bogus"})
	require.Error(t, ar.Err)
}

func TestFSMDecayTickPrunesLowImportance(t *testing.T) {
	fsm := newTestFSM(t)
	old := time.Now().Add(-120 * 24 * time.Hour)
	ar := applyCmd(t, fsm, Command{
		Kind: KindUpsertMemory,
		UpsertMemories: []model.Memory{{
			ID: "stale", Tenant: "acme", Content: "old note", Level: model.LevelL1,
			Importance: 0.15, AccessCount: 0, TransactionTime: old, LastAccessed: old,
		}},
	})
	require.NoError(t, ar.Err)

	ar = applyCmd(t, fsm, Command{
		Kind:                KindDecayTick,
		DecayHalfLifeDays:   30,
		DecayMinImportance:  0.1,
		DecayMinAccessCount: 1,
		DecayNowUnix:        time.Now().Unix(),
	})
	require.NoError(t, ar.Err)

	got, err := fsm.idx.GetMemory(context.Background(), "stale")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSnapshotRoundTrip(t *testing.T) {
	fsm := newTestFSM(t)
	ar := applyCmd(t, fsm, Command{
		Kind: KindUpsertMemory,
		UpsertMemories: []model.Memory{{ID: "m1", Tenant: "acme", Content: "roundtrip me"}},
	})
	require.NoError(t, ar.Err)

	snap, err := fsm.Snapshot()
	require.NoError(t, err)
	fs := snap.(*fsmSnapshot)

	fsm2 := newTestFSM(t)
	require.NoError(t, fsm2.idx.Restore(context.Background(), fs.data))

	got, err := fsm2.idx.GetMemory(context.Background(), "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "roundtrip me", got.Content)
}
