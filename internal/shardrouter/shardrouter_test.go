package shardrouter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorose/memorose/internal/memerr"
)

func TestShardForIsDeterministic(t *testing.T) {
	r := New(8, 3, 3)
	a := r.ShardFor("tenant-a")
	b := r.ShardFor("tenant-a")
	assert.Equal(t, a, b)
	assert.Less(t, a, uint64(8))
}

func TestShardForAgreesAcrossRouterInstances(t *testing.T) {
	a := New(8, 3, 3)
	b := New(8, 3, 3)
	for _, tenant := range []string{"tenant-a", "tenant-b", "tenant-xyz"} {
		assert.Equal(t, a.ShardFor(tenant), b.ShardFor(tenant),
			"every node's router must agree on a tenant's shard regardless of process")
	}
}

func TestShardForSpreadsAcrossShards(t *testing.T) {
	r := New(4, 3, 3)
	seen := make(map[uint64]bool)
	for i := 0; i < 50; i++ {
		tenant := "tenant-" + string(rune('a'+i%26)) + string(rune('0'+i%10))
		seen[r.ShardFor(tenant)] = true
	}
	assert.Greater(t, len(seen), 1, "50 distinct tenants should land on more than one shard")
}

func TestDispatchSucceedsOnLeader(t *testing.T) {
	r := New(1, 3, 3)
	r.RegisterShard(&Shard{ID: 0, Voters: []string{"node-1"}, Leader: "node-1"})

	var called string
	err := r.Dispatch(context.Background(), "tenant-a", func(ctx context.Context, addr string) error {
		called = addr
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "node-1", called)
}

func TestDispatchFollowsLeaderHint(t *testing.T) {
	r := New(1, 5, 3)
	r.RegisterShard(&Shard{ID: 0, Voters: []string{"node-1", "node-2"}, Leader: "node-1"})

	attempts := 0
	err := r.Dispatch(context.Background(), "tenant-a", func(ctx context.Context, addr string) error {
		attempts++
		if addr == "node-1" {
			return memerr.NotLeader("node-2")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDispatchUnknownShardIsUnavailable(t *testing.T) {
	r := New(1, 3, 3)
	err := r.Dispatch(context.Background(), "tenant-a", func(ctx context.Context, addr string) error {
		return nil
	})
	require.Error(t, err)
	assert.True(t, memerr.Is(err, memerr.KindUnavailable))
}

func TestDispatchExhaustsRetriesOnPersistentFailure(t *testing.T) {
	r := New(1, 3, 5)
	r.RegisterShard(&Shard{ID: 0, Voters: []string{"node-1", "node-2"}, Leader: "node-1"})

	calls := 0
	err := r.Dispatch(context.Background(), "tenant-a", func(ctx context.Context, addr string) error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.True(t, memerr.Is(err, memerr.KindUnavailable))
	assert.Equal(t, 3, calls, "should alternate between the two voters across all 3 retry attempts")
}

func TestPingMarksPeerDeadAfterMaxFailures(t *testing.T) {
	r := New(1, 3, 2)
	r.RegisterShard(&Shard{ID: 0, Voters: []string{"node-1", "node-2"}, Leader: "node-1"})

	for i := 0; i < 2; i++ {
		r.Ping(context.Background(), func(ctx context.Context, addr string) error {
			if addr == "node-1" {
				return errors.New("unreachable")
			}
			return nil
		})
	}

	shard := r.shards[0]
	assert.Equal(t, "node-2", r.pickLiveVoter(shard, ""), "node-1 is dead, node-2 is the only live voter")
	assert.Equal(t, "", r.pickLiveVoter(shard, "node-2"), "node-1 is dead and node-2 is excluded, no live voter left")
}

func TestPingRecoversPeerOnSuccess(t *testing.T) {
	r := New(1, 3, 1)
	r.RegisterShard(&Shard{ID: 0, Voters: []string{"node-1"}, Leader: "node-1"})

	r.Ping(context.Background(), func(ctx context.Context, addr string) error { return errors.New("down") })
	r.Ping(context.Background(), func(ctx context.Context, addr string) error { return nil })

	shard := r.shards[0]
	assert.Equal(t, "node-1", r.pickLiveVoter(shard, ""))
}
