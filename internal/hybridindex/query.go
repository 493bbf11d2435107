package hybridindex

import (
	"context"
	"sort"

	"github.com/memorose/memorose/internal/config"
	"github.com/memorose/memorose/internal/llmcap"
	"github.com/memorose/memorose/internal/memerr"
	"github.com/memorose/memorose/internal/model"
)

// Mode selects which facets a Query consults.
type Mode string

const (
	ModeText   Mode = "text"
	ModeVector Mode = "vector"
	ModeHybrid Mode = "hybrid"
)

// Filters narrows a Query to a subset of memories.
type Filters struct {
	Tenant     string
	App        string
	Level      model.MemoryLevel
	MemoryType model.MemoryType
}

// Query is the hybrid search request.
type Query struct {
	Text               string
	Mode               Mode
	Filters            Filters
	K                  int
	EnableArbitration  bool
}

// Result is one ranked hit.
type Result struct {
	Memory model.Memory
	Score  float64
}

const defaultK = 10

// Search runs the 8-step hybrid scoring algorithm. cap supplies the query
// embedding and, when EnableArbitration is set, the reranker.
func (idx *Index) Search(ctx context.Context, q Query, scoring config.Scoring, cap llmcap.Capability) ([]Result, error) {
	k := q.K
	if k <= 0 {
		k = defaultK
	}
	candidateK := 3 * k

	scores := map[string]float64{}
	memories := map[string]model.Memory{}

	// Steps 1-2: vector ANN.
	if (q.Mode == ModeVector || q.Mode == ModeHybrid) && q.Text != "" {
		emb, err := cap.Embed(ctx, q.Text)
		if err != nil {
			return nil, memerr.External("hybridindex: embedding query", err)
		}
		matches, err := idx.store.Vector.ANN(ctx, emb, candidateK)
		if err != nil {
			return nil, memerr.TransientIO("hybridindex: vector ann", err)
		}
		for _, m := range matches {
			scores[m.MemoryID] = scoring.WVector * m.Similarity
		}
	}

	// Step 3: full-text BM25.
	if q.Mode == ModeText || q.Mode == ModeHybrid {
		hits, err := idx.store.Fulltext.Search(ctx, q.Text, candidateK)
		if err != nil {
			return nil, memerr.TransientIO("hybridindex: fulltext search", err)
		}
		for _, h := range hits {
			scores[h.MemoryID] += scoring.WText * h.Score
		}
	}

	// Step 4: merge by id already folded into the scores map above —
	// missing-side contributions default to 0 since they were never added.

	// Step 5: optional graph boost using mean weight of in-edges from
	// already-scored nodes.
	if scoring.WGraph > 0 {
		for id := range scores {
			rows, err := idx.store.KV.InboundNeighbors(ctx, id)
			if err != nil {
				return nil, memerr.TransientIO("hybridindex: graph boost neighbors", err)
			}
			if len(rows) == 0 {
				continue
			}
			var sum, n float64
			for _, r := range rows {
				if _, ok := scores[r.SourceID]; ok {
					sum += r.Weight
					n++
				}
			}
			if n > 0 {
				scores[id] += scoring.WGraph * (sum / n)
			}
		}
	}

	// Load memory rows and apply filters.
	var candidates []Result
	for id, s := range scores {
		m, err := idx.GetMemory(ctx, id)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		if !matchesFilters(m, q.Filters) {
			continue
		}
		memories[id] = *m
		candidates = append(candidates, Result{Memory: *m, Score: s})
	}

	// Step 7: sort descending by score, tie-break importance desc,
	// last_accessed desc, id asc, for determinism.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Memory.Importance != b.Memory.Importance {
			return a.Memory.Importance > b.Memory.Importance
		}
		if !a.Memory.LastAccessed.Equal(b.Memory.LastAccessed) {
			return a.Memory.LastAccessed.After(b.Memory.LastAccessed)
		}
		return a.Memory.ID < b.Memory.ID
	})

	// Step 8: optional rerank over top-2k, then truncate to k.
	if q.EnableArbitration && cap != nil {
		top := candidates
		if len(top) > 2*k {
			top = top[:2*k]
		}
		texts := make([]string, len(top))
		for i, c := range top {
			texts[i] = c.Memory.Content
		}
		order, err := cap.Rerank(ctx, q.Text, texts)
		if err != nil {
			return nil, memerr.External("hybridindex: rerank", err)
		}
		reordered := make([]Result, 0, len(top))
		for _, idx2 := range order {
			if idx2 >= 0 && idx2 < len(top) {
				reordered = append(reordered, top[idx2])
			}
		}
		candidates = append(reordered, candidates[len(top):]...)
	}

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func matchesFilters(m *model.Memory, f Filters) bool {
	if f.Tenant != "" && m.Tenant != f.Tenant {
		return false
	}
	if f.App != "" && m.App != f.App {
		return false
	}
	if f.Level != 0 && m.Level != f.Level {
		return false
	}
	if f.MemoryType != "" && m.MemoryType != f.MemoryType {
		return false
	}
	return true
}
