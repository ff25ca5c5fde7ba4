package redis_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/robalyx/answervote/internal/redis"
	"github.com/robalyx/answervote/internal/vote"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTest(t *testing.T, wait time.Duration) (*redis.Locker, *miniredis.Miniredis, func()) {
	t.Helper()
	// Start miniredis server
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Create Redis client
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)

	// Create test logger
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	locker := redis.NewLocker(client, time.Second, wait, logger)

	cleanup := func() {
		client.Close()
		mr.Close()
		_ = logger.Sync()
	}

	return locker, mr, cleanup
}

func TestLockAndRelease(t *testing.T) {
	t.Parallel()
	locker, mr, cleanup := setupTest(t, 50*time.Millisecond)
	defer cleanup()

	ctx := t.Context()

	unlock, err := locker.Lock(ctx, "alice/Q1/A1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("vote:lock:alice/Q1/A1"))

	// A second holder times out while the lease is held
	_, err = locker.Lock(ctx, "alice/Q1/A1")
	require.ErrorIs(t, err, redis.ErrLockTimeout)

	unlock()
	unlock()
	assert.False(t, mr.Exists("vote:lock:alice/Q1/A1"))

	unlock, err = locker.Lock(ctx, "alice/Q1/A1")
	require.NoError(t, err)
	unlock()
}

func TestExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	t.Parallel()
	locker, mr, cleanup := setupTest(t, 50*time.Millisecond)
	defer cleanup()

	ctx := t.Context()

	stale, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	// Lease runs out and another holder takes the key
	mr.FastForward(2 * time.Second)
	fresh, err := locker.Lock(ctx, "k")
	require.NoError(t, err)

	stale()
	assert.True(t, mr.Exists("vote:lock:k"))

	fresh()
	assert.False(t, mr.Exists("vote:lock:k"))
}

func TestLockHonorsContext(t *testing.T) {
	t.Parallel()
	locker, _, cleanup := setupTest(t, time.Minute)
	defer cleanup()

	unlock, err := locker.Lock(t.Context(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "k")
	require.Error(t, err)
}

func TestAggregatorWithRedisLocker(t *testing.T) {
	t.Parallel()
	locker, _, cleanup := setupTest(t, 5*time.Second)
	defer cleanup()

	ctx := t.Context()
	aggregator := vote.NewAggregator(vote.NewMemoryCounters(), vote.NewMemoryLedger(), zap.NewNop(),
		vote.WithLocker(locker))

	_, err := aggregator.RegisterAnswer(ctx, "Q1", "A1")
	require.NoError(t, err)

	var wg conc.WaitGroup
	for i := range 21 {
		wg.Go(func() {
			_, err := aggregator.Vote(ctx, "alice", "Q1", "A1", vote.ActionUpvote)
			assert.NoError(t, err, "call %d", i)
		})
	}
	for i := range 10 {
		wg.Go(func() {
			_, err := aggregator.Vote(ctx, fmt.Sprintf("voter-%d", i), "Q1", "A1", vote.ActionDownvote)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	counters, err := aggregator.Counters(ctx, "Q1", "A1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters.Upvotes)
	assert.Equal(t, int64(10), counters.Downvotes)
}
