// Package shardrouter is the stateless tenant-to-shard mapping and
// leader-aware dispatch layer. Health tracking is grounded in
// SuperAgent's internal/llm.CircuitBreaker half-open/closed state
// machine (_examples/vasic-digital-SuperAgent/internal/llm/circuit_breaker.go),
// generalized from "LLM provider health" to "shard-peer health."
package shardrouter

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/memorose/memorose/internal/memerr"
)

// Shard is the set of known peer addresses for one Raft group, plus the
// last address believed to be the leader.
type Shard struct {
	ID      uint64
	Voters  []string
	Leader  string
}

// Router maps tenants to shards and dispatches calls to their leader,
// retrying against a NotLeader hint or round-robining across voters.
type Router struct {
	mu           sync.RWMutex
	shardCount   uint64
	shards       map[uint64]*Shard
	maxRetries   int
	maxPingFails int
	health       map[string]*peerHealth
}

// New constructs a Router over shardCount shards.
func New(shardCount int, maxRetries, maxPingFailures int) *Router {
	return &Router{
		shardCount:   uint64(shardCount),
		shards:       make(map[uint64]*Shard),
		maxRetries:   maxRetries,
		maxPingFails: maxPingFailures,
		health:       make(map[string]*peerHealth),
	}
}

// RegisterShard installs or replaces the known peer set for a shard.
func (r *Router) RegisterShard(s *Shard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shards[s.ID] = s
	for _, addr := range s.Voters {
		if _, ok := r.health[addr]; !ok {
			r.health[addr] = &peerHealth{alive: true}
		}
	}
}

// ShardFor computes shard_id = hash(tenant) mod shard_count via a
// consistent hash over the tenant id. The hash must agree across every
// node in the cluster for a given tenant, so it uses FNV-1a rather than
// hash/maphash: maphash's seed is randomized per process, which would
// route the same tenant to different shards depending on which node
// received the request.
func (r *Router) ShardFor(tenant string) uint64 {
	if r.shardCount == 0 {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(tenant))
	return h.Sum64() % r.shardCount
}

// DispatchFunc is a single RPC attempt against a specific peer address.
// It returns memerr.NotLeader(hint) when addr isn't the shard leader.
type DispatchFunc func(ctx context.Context, addr string) error

// Dispatch sends a write to the shard's last-known leader, retrying
// against the leader hint on NotLeader, or round-robining live voters
// with exponential backoff when no hint is given.
func (r *Router) Dispatch(ctx context.Context, tenant string, fn DispatchFunc) error {
	shardID := r.ShardFor(tenant)

	r.mu.RLock()
	shard, ok := r.shards[shardID]
	r.mu.RUnlock()
	if !ok {
		return memerr.Unavailable("shardrouter: unknown shard", nil)
	}

	target := shard.Leader
	if target == "" {
		target = r.pickLiveVoter(shard, "")
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if target == "" {
			return memerr.Unavailable("shardrouter: no live voters for shard", lastErr)
		}
		if err := ctx.Err(); err != nil {
			return memerr.Timeout("shardrouter: dispatch canceled", err)
		}

		err := fn(ctx, target)
		if err == nil {
			r.markLeader(shard, target)
			r.recordSuccess(target)
			return nil
		}
		lastErr = err
		r.recordFailure(target)

		if hint := memerr.LeaderHint(err); hint != "" {
			target = hint
			continue
		}
		target = r.pickLiveVoter(shard, target)

		select {
		case <-time.After(backoffWithJitter(backoff)):
		case <-ctx.Done():
			return memerr.Timeout("shardrouter: dispatch canceled", ctx.Err())
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return memerr.Unavailable("shardrouter: exhausted retries", lastErr)
}

func (r *Router) markLeader(shard *Shard, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	shard.Leader = addr
}

// pickLiveVoter round-robins to the next live voter after exclude.
func (r *Router) pickLiveVoter(shard *Shard, exclude string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(shard.Voters)
	start := 0
	for i, v := range shard.Voters {
		if v == exclude {
			start = i + 1
			break
		}
	}
	for i := 0; i < n; i++ {
		v := shard.Voters[(start+i)%n]
		if v == exclude {
			continue
		}
		if h, ok := r.health[v]; ok && !h.alive {
			continue
		}
		return v
	}
	return ""
}

func backoffWithJitter(base time.Duration) time.Duration {
	jitter := time.Duration(rand.Int63n(int64(base) / 2))
	return base + jitter
}

// peerHealth tracks consecutive ping failures for one voter address.
type peerHealth struct {
	mu              sync.Mutex
	alive           bool
	consecFailures  int
}

func (r *Router) recordSuccess(addr string) {
	r.mu.RLock()
	h, ok := r.health[addr]
	r.mu.RUnlock()
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecFailures = 0
	h.alive = true
}

func (r *Router) recordFailure(addr string) {
	r.mu.RLock()
	h, ok := r.health[addr]
	r.mu.RUnlock()
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecFailures++
	if h.consecFailures >= r.maxPingFails {
		h.alive = false
	}
}

// Ping runs pingFn against every known voter of every registered shard and
// updates liveness accordingly; intended to be called every
// heartbeat_interval by the owning process.
func (r *Router) Ping(ctx context.Context, pingFn func(ctx context.Context, addr string) error) {
	r.mu.RLock()
	addrs := make([]string, 0, len(r.health))
	for addr := range r.health {
		addrs = append(addrs, addr)
	}
	r.mu.RUnlock()

	for _, addr := range addrs {
		if pingFn(ctx, addr) != nil {
			r.recordFailure(addr)
		} else {
			r.recordSuccess(addr)
		}
	}
}
