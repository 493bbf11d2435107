package hybridindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorose/memorose/internal/config"
	"github.com/memorose/memorose/internal/llmcap"
	"github.com/memorose/memorose/internal/model"
	"github.com/memorose/memorose/internal/stores"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	dir := t.TempDir()
	s, err := stores.Open(dir, 1, 16)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s)
}

func embed(t *testing.T, cap llmcap.Capability, text string) []float32 {
	t.Helper()
	v, err := cap.Embed(context.Background(), text)
	require.NoError(t, err)
	return v
}

func TestUpsertMemoryIsQueryableAcrossAllFacets(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	cap := llmcap.NewFakeCapability(16)

	m := model.Memory{
		ID:        "m1",
		Tenant:    "acme",
		Content:   "loves hiking in the Alps",
		Keywords:  []string{"hiking", "alps"},
		Embedding: embed(t, cap, "loves hiking in the Alps"),
		Level:     model.LevelL1,
	}
	require.NoError(t, idx.Apply(ctx, Command{UpsertMemories: []model.Memory{m}}))

	got, err := idx.GetMemory(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "acme", got.Tenant)

	results, err := idx.Search(ctx, Query{Text: "hiking Alps", Mode: ModeHybrid, K: 5}, config.Scoring{WVector: 0.55, WText: 0.35, WGraph: 0.10}, cap)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].Memory.ID)
}

func TestHybridSearchOrdersByRelevance(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	cap := llmcap.NewFakeCapability(16)
	scoring := config.Scoring{WVector: 0.55, WText: 0.35, WGraph: 0.10}

	texts := map[string]string{
		"A": "loves hiking in the Alps mountains outdoor",
		"B": "enjoys mountain climbing outdoor adventure",
		"C": "prefers tea over coffee indoors",
	}
	var ms []model.Memory
	for id, text := range texts {
		ms = append(ms, model.Memory{
			ID: id, Tenant: "acme", Content: text, Level: model.LevelL1,
			Embedding: embed(t, cap, text), Importance: 0.5,
		})
	}
	require.NoError(t, idx.Apply(ctx, Command{UpsertMemories: ms}))

	results, err := idx.Search(ctx, Query{Text: "outdoor activities mountains", Mode: ModeHybrid, K: 3}, scoring, cap)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "C", results[2].Memory.ID)
	assert.Greater(t, results[0].Score, results[2].Score)
}

func TestTextModeRanksStrongerMatchFirst(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	cap := llmcap.NewFakeCapability(16)

	texts := map[string]string{
		"weak":   "fox",
		"strong": "fox fox fox jumps over the lazy dog fox fox",
	}
	var ms []model.Memory
	for id, text := range texts {
		ms = append(ms, model.Memory{
			ID: id, Tenant: "acme", Content: text, Level: model.LevelL1,
			Embedding: embed(t, cap, text),
		})
	}
	require.NoError(t, idx.Apply(ctx, Command{UpsertMemories: ms}))

	results, err := idx.Search(ctx, Query{Text: "fox", Mode: ModeText, K: 2}, config.Scoring{WText: 1}, cap)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "strong", results[0].Memory.ID, "the document with more query-term occurrences should rank first")
}

func TestGraphBoostUsesInboundEdges(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	cap := llmcap.NewFakeCapability(16)

	texts := map[string]string{
		"hub":      "central reference memory",
		"linked":   "points at the hub memory",
		"isolated": "shares no edges with anything",
	}
	var ms []model.Memory
	for id, text := range texts {
		ms = append(ms, model.Memory{
			ID: id, Tenant: "acme", Content: text, Level: model.LevelL1,
			Embedding: embed(t, cap, text),
		})
	}
	require.NoError(t, idx.Apply(ctx, Command{UpsertMemories: ms}))
	require.NoError(t, idx.Apply(ctx, Command{UpsertEdges: []model.Edge{
		{SourceID: "linked", TargetID: "hub", Relation: model.RelationSimilar, Weight: 0.9, UpdatedAt: time.Now()},
	}}))

	scoring := config.Scoring{WVector: 0.5, WGraph: 0.5}
	results, err := idx.Search(ctx, Query{Text: "central reference memory", Mode: ModeVector, K: 3}, scoring, cap)
	require.NoError(t, err)

	scores := map[string]float64{}
	for _, r := range results {
		scores[r.Memory.ID] = r.Score
	}
	// hub has an inbound edge from "linked" (already scored, since both are
	// returned by the vector ANN pass), so its graph term should be boosted
	// above a candidate with no inbound edges at all.
	assert.Greater(t, scores["hub"], scores["isolated"])
}

func TestDeleteMemoryRemovesFromAllFacets(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	cap := llmcap.NewFakeCapability(16)

	m := model.Memory{ID: "m1", Tenant: "acme", Content: "temporary note", Embedding: embed(t, cap, "temporary note")}
	require.NoError(t, idx.Apply(ctx, Command{UpsertMemories: []model.Memory{m}}))
	require.NoError(t, idx.Apply(ctx, Command{DeleteMemoryIDs: []string{"m1"}}))

	got, err := idx.GetMemory(ctx, "m1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNeighborsBoundedByDepthAndVisitedSet(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	cap := llmcap.NewFakeCapability(16)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, idx.Apply(ctx, Command{UpsertMemories: []model.Memory{{
			ID: id, Tenant: "acme", Content: id, Embedding: embed(t, cap, id),
		}}}))
	}
	now := time.Now()
	require.NoError(t, idx.Apply(ctx, Command{UpsertEdges: []model.Edge{
		{SourceID: "a", TargetID: "b", Relation: model.RelationSimilar, Weight: 0.8, UpdatedAt: now},
		{SourceID: "b", TargetID: "a", Relation: model.RelationSimilar, Weight: 0.8, UpdatedAt: now}, // cycle
		{SourceID: "b", TargetID: "c", Relation: model.RelationSimilar, Weight: 0.5, UpdatedAt: now},
	}}))

	steps, err := idx.Neighbors(ctx, "a", 1, nil)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "b", steps[0].Memory.ID)

	steps, err = idx.Neighbors(ctx, "a", 5, nil)
	require.NoError(t, err)
	assert.Len(t, steps, 2) // a->b->c, cycle back to a is excluded by the visited set
}

func TestPendingEventsScopedByStream(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.IngestEvent(ctx, model.Event{ID: "e1", Tenant: "acme", App: "chat", Stream: "s1"}))
	require.NoError(t, idx.IngestEvent(ctx, model.Event{ID: "e2", Tenant: "acme", App: "chat", Stream: "s2"}))

	pending, err := idx.PendingEvents(ctx, "acme", "chat", "s1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e1", pending[0].ID)
}
