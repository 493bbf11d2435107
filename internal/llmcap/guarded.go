package llmcap

import (
	"context"
	"fmt"

	"github.com/memorose/memorose/internal/concurrency"
	"github.com/memorose/memorose/internal/memerr"
)

// Guarded wraps a Capability with the bounded concurrency, retry, and
// circuit-breaking every call must go through. Every error other than
// context cancellation or deadline is retried with exponential backoff
// and jitter; rate-limit errors get no separate handling.
type Guarded struct {
	inner Capability
	sem   *concurrency.Semaphore
	cb    *CircuitBreaker
	retry RetryConfig
}

// NewGuarded constructs the wrapped capability. maxConcurrency and
// maxRetries come from Config.LLM.
func NewGuarded(inner Capability, maxConcurrency, maxRetries int) *Guarded {
	return &Guarded{
		inner: inner,
		sem:   concurrency.NewSemaphore(maxConcurrency),
		cb:    NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		retry: DefaultRetryConfig(maxRetries),
	}
}

func (g *Guarded) call(ctx context.Context, fn func() error) error {
	if !g.cb.Allow() {
		return memerr.Unavailable("llm capability circuit open", ErrCircuitOpen)
	}
	if err := g.sem.Acquire(ctx); err != nil {
		return memerr.Timeout("llm capability concurrency wait", err)
	}
	defer g.sem.Release()

	err := withRetry(ctx, g.retry, fn)
	if err != nil {
		g.cb.RecordFailure()
		return memerr.External("llm capability call failed", err)
	}
	g.cb.RecordSuccess()
	return nil
}

func (g *Guarded) Embed(ctx context.Context, text string) (Embedding, error) {
	var out Embedding
	err := g.call(ctx, func() error {
		var e error
		out, e = g.inner.Embed(ctx, text)
		return e
	})
	return out, err
}

func (g *Guarded) Summarize(ctx context.Context, batch []string) (SummaryResult, error) {
	var out SummaryResult
	err := g.call(ctx, func() error {
		var e error
		out, e = g.inner.Summarize(ctx, batch)
		return e
	})
	return out, err
}

func (g *Guarded) Arbitrate(ctx context.Context, a, b string) (ArbitrationVerdict, error) {
	var out ArbitrationVerdict
	err := g.call(ctx, func() error {
		var e error
		out, e = g.inner.Arbitrate(ctx, a, b)
		return e
	})
	return out, err
}

func (g *Guarded) Rerank(ctx context.Context, query string, candidates []string) ([]int, error) {
	var out []int
	err := g.call(ctx, func() error {
		var e error
		out, e = g.inner.Rerank(ctx, query, candidates)
		return e
	})
	return out, err
}

func (g *Guarded) HealthCheck(ctx context.Context) error {
	if err := g.inner.HealthCheck(ctx); err != nil {
		return fmt.Errorf("llmcap: health check failed: %w", err)
	}
	return nil
}
