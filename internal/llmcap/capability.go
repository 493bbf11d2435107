// Package llmcap is the narrow capability facade the consolidation engine
// calls into for embedding, summarization, arbitration, and reranking.
// It is grounded in SuperAgent's internal/llm package:
// the provider interface shape, its CircuitBreaker, and its retry-with-
// backoff helper are all adapted here, but no concrete vendor client
// (claude.go, deepseek.go, ...) is ported — model providers are treated
// as out of scope and abstracted behind this interface.
package llmcap

import "context"

// Embedding is a single dense vector produced by Embed.
type Embedding []float32

// SummaryResult is the structured output of a Summarize call: the
// consolidated memory content plus the importance and memory-type the
// model assigned it, and the keyword list it extracted for indexing.
type SummaryResult struct {
	Content    string
	Importance float64
	Procedural bool
	Keywords   []string
}

// ArbitrationVerdict is the structured output of an Arbitrate call: whether
// two candidate memories are duplicates, conflicting, or unrelated, with a
// similarity score in [0,1].
type ArbitrationVerdict struct {
	Duplicate  bool
	Conflicts  bool
	Similarity float64
}

// Capability is the interface every consolidation stage calls through.
// Implementations own their own timeout, retry, and circuit-breaking;
// callers pass a context for cancellation only.
type Capability interface {
	Embed(ctx context.Context, text string) (Embedding, error)
	Summarize(ctx context.Context, batch []string) (SummaryResult, error)
	Arbitrate(ctx context.Context, a, b string) (ArbitrationVerdict, error)
	Rerank(ctx context.Context, query string, candidates []string) ([]int, error)
	HealthCheck(ctx context.Context) error
}
