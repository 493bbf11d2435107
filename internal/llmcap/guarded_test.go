package llmcap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyCapability struct {
	fails int
	calls int
}

func (f *flakyCapability) Embed(ctx context.Context, text string) (Embedding, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("transient failure")
	}
	return Embedding{1, 0, 0}, nil
}
func (f *flakyCapability) Summarize(ctx context.Context, batch []string) (SummaryResult, error) {
	return SummaryResult{}, nil
}
func (f *flakyCapability) Arbitrate(ctx context.Context, a, b string) (ArbitrationVerdict, error) {
	return ArbitrationVerdict{}, nil
}
func (f *flakyCapability) Rerank(ctx context.Context, query string, candidates []string) ([]int, error) {
	return nil, nil
}
func (f *flakyCapability) HealthCheck(ctx context.Context) error { return nil }

func TestGuardedRetriesThenSucceeds(t *testing.T) {
	inner := &flakyCapability{fails: 2}
	g := NewGuarded(inner, 4, 5)
	out, err := g.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, Embedding{1, 0, 0}, out)
	assert.Equal(t, 3, inner.calls)
}

func TestGuardedOpensCircuitAfterRepeatedFailures(t *testing.T) {
	inner := &flakyCapability{fails: 1000}
	g := NewGuarded(inner, 4, 0)
	for i := 0; i < DefaultCircuitBreakerConfig().FailureThreshold; i++ {
		_, err := g.Embed(context.Background(), "x")
		require.Error(t, err)
	}
	_, err := g.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestFakeCapabilityArbitrateDetectsDuplicates(t *testing.T) {
	f := NewFakeCapability(16)
	v, err := f.Arbitrate(context.Background(), "the cat sat on the mat", "the cat sat on the mat")
	require.NoError(t, err)
	assert.True(t, v.Duplicate)
	assert.Equal(t, 1.0, v.Similarity)
}

func TestFakeCapabilityRerankOrdersByOverlap(t *testing.T) {
	f := NewFakeCapability(16)
	idx, err := f.Rerank(context.Background(), "cats and dogs", []string{"unrelated text", "cats and dogs play"})
	require.NoError(t, err)
	require.Len(t, idx, 2)
	assert.Equal(t, 1, idx[0])
}
