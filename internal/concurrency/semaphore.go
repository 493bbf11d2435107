// Package concurrency provides the bounded-concurrency primitive used to
// cap in-flight LLM/embedding calls to a shared client with a bounded
// concurrency limit. Adapted from SuperAgent's
// internal/concurrency.Semaphore, trimmed to the Acquire/Release/Available
// surface llmcap actually needs.
package concurrency

import (
	"context"
	"sync"
)

// Semaphore bounds the number of concurrent holders of a resource.
type Semaphore struct {
	ch  chan struct{}
	mu  sync.Mutex
	max int
	cur int
}

// NewSemaphore creates a semaphore allowing up to max concurrent holders.
func NewSemaphore(max int) *Semaphore {
	if max <= 0 {
		max = 1
	}
	return &Semaphore{ch: make(chan struct{}, max), max: max}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		s.mu.Lock()
		s.cur++
		s.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees one slot. A no-op if nothing is held.
func (s *Semaphore) Release() {
	select {
	case <-s.ch:
		s.mu.Lock()
		if s.cur > 0 {
			s.cur--
		}
		s.mu.Unlock()
	default:
	}
}

// Available returns the number of free slots.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max - s.cur
}
