package llmcap

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"
)

// FakeCapability is a deterministic in-process stand-in for a real model
// provider, used by consolidation's tests. Embeddings are a hash-derived
// unit vector, so two near-duplicate inputs land close together under
// cosine similarity without needing a live model.
type FakeCapability struct {
	Dimension int
}

func NewFakeCapability(dimension int) *FakeCapability {
	return &FakeCapability{Dimension: dimension}
}

func (f *FakeCapability) Embed(ctx context.Context, text string) (Embedding, error) {
	dim := f.Dimension
	if dim <= 0 {
		dim = 16
	}
	out := make(Embedding, dim)
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		words = []string{""}
	}
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		idx := int(h.Sum32()) % dim
		if idx < 0 {
			idx += dim
		}
		out[idx] += 1
	}
	var norm float32
	for _, v := range out {
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1) / sqrt32(norm)
		for i := range out {
			out[i] *= inv
		}
	}
	return out, nil
}

func sqrt32(v float32) float32 {
	x := v
	for i := 0; i < 20; i++ {
		if x == 0 {
			break
		}
		x = 0.5 * (x + v/x)
	}
	return x
}

func (f *FakeCapability) Summarize(ctx context.Context, batch []string) (SummaryResult, error) {
	return SummaryResult{
		Content:    strings.Join(batch, " "),
		Importance: 0.5,
		Procedural: false,
		Keywords:   topKeywords(batch, 5),
	}, nil
}

// topKeywords picks the n most frequent words across batch, breaking ties
// alphabetically so the result is deterministic across calls.
func topKeywords(batch []string, n int) []string {
	counts := map[string]int{}
	for _, s := range batch {
		for _, w := range strings.Fields(strings.ToLower(s)) {
			counts[w]++
		}
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

func (f *FakeCapability) Arbitrate(ctx context.Context, a, b string) (ArbitrationVerdict, error) {
	sim := jaccard(a, b)
	return ArbitrationVerdict{
		Duplicate:  sim >= 0.9,
		Conflicts:  false,
		Similarity: sim,
	}, nil
}

func jaccard(a, b string) float64 {
	as := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(a)) {
		as[w] = struct{}{}
	}
	bs := map[string]struct{}{}
	for _, w := range strings.Fields(strings.ToLower(b)) {
		bs[w] = struct{}{}
	}
	if len(as) == 0 && len(bs) == 0 {
		return 1
	}
	inter := 0
	for w := range as {
		if _, ok := bs[w]; ok {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func (f *FakeCapability) Rerank(ctx context.Context, query string, candidates []string) ([]int, error) {
	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(candidates))
	for i, c := range candidates {
		scores[i] = scored{idx: i, score: jaccard(query, c)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	out := make([]int, len(scores))
	for i, s := range scores {
		out[i] = s.idx
	}
	return out, nil
}

func (f *FakeCapability) HealthCheck(ctx context.Context) error { return nil }
