package counter

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runWriters(t *testing.T, c *ShardedCounter, writers, updates int) {
	t.Helper()
	var wg sync.WaitGroup
	for id := 0; id < writers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < updates; i++ {
				if err := c.Update(id, 1); err != nil {
					t.Error(err)
					return
				}
			}
		}(id)
	}
	wg.Wait()
}

func TestShardedCounterExactAfterFlush(t *testing.T) {
	updates := 1_000_000
	if testing.Short() {
		updates = 10_000
	}
	c, err := NewShardedCounter(4, 4)
	require.NoError(t, err)

	runWriters(t, c, 4, updates)
	require.NoError(t, c.Flush())

	got, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(4*updates), got)
	require.NoError(t, c.Destroy())
}

func TestShardedCounterGetIsApproximateBeforeFlush(t *testing.T) {
	c, err := NewShardedCounter(4, 4)
	require.NoError(t, err)

	require.NoError(t, c.Update(0, 3))
	require.NoError(t, c.Update(1, 4))

	got, err := c.Get()
	require.NoError(t, err)
	assert.Zero(t, got)

	est, err := c.Estimate()
	require.NoError(t, err)
	assert.Equal(t, int64(7), est)

	require.NoError(t, c.Flush())
	got, err = c.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}

func TestShardedCounterFlushIdempotent(t *testing.T) {
	c, err := NewShardedCounter(3, 3)
	require.NoError(t, err)
	runWriters(t, c, 6, 1000)

	require.NoError(t, c.Flush())
	first, err := c.Get()
	require.NoError(t, err)
	require.NoError(t, c.Flush())
	second, err := c.Get()
	require.NoError(t, err)

	assert.Equal(t, int64(6000), first)
	assert.Equal(t, first, second)
}

func TestShardedCounterNoLossUnderConcurrentFlush(t *testing.T) {
	const (
		writers = 8
		updates = 20_000
	)
	c, err := NewShardedCounter(writers, writers)
	require.NoError(t, err)

	var (
		started atomic.Int64
		wg      sync.WaitGroup
		stop    = make(chan struct{})
		flusher sync.WaitGroup
	)

	flusher.Add(1)
	go func() {
		defer flusher.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if err := c.Flush(); err != nil {
				t.Error(err)
				return
			}
			est, err := c.Estimate()
			if err != nil {
				t.Error(err)
				return
			}
			// Never more than what writers have started.
			if s := started.Load(); est > s {
				t.Errorf("estimate %d exceeds %d started updates", est, s)
				return
			}
		}
	}()

	for id := 0; id < writers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < updates; i++ {
				started.Add(1)
				if err := c.Update(id, 1); err != nil {
					t.Error(err)
					return
				}
			}
		}(id)
	}
	wg.Wait()
	close(stop)
	flusher.Wait()

	require.NoError(t, c.Flush())
	got, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(writers*updates), got)
}

func TestShardedCounterSharedShards(t *testing.T) {
	// More writers than shards still counts exactly.
	c, err := NewShardedCounter(2, 8)
	require.NoError(t, err)
	runWriters(t, c, 8, 5000)
	require.NoError(t, c.Flush())

	got, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(40_000), got)
}

func TestShardedCounterThresholdDrain(t *testing.T) {
	c, err := NewShardedCounterWithConfig(ShardedConfig{
		Shards:     2,
		WriterHint: 2,
		Threshold:  10,
	})
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		require.NoError(t, c.Update(0, 1))
	}
	got, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(20), got)

	est, err := c.Estimate()
	require.NoError(t, err)
	assert.Equal(t, int64(25), est)

	// Negative partials drain too.
	require.NoError(t, c.Update(1, -12))
	got, err = c.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(8), got)

	require.NoError(t, c.Flush())
	got, err = c.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(13), got)
}

func TestShardedCounterThresholdConcurrent(t *testing.T) {
	c, err := NewShardedCounterWithConfig(ShardedConfig{
		Shards:     4,
		WriterHint: 4,
		Threshold:  1024,
	})
	require.NoError(t, err)
	runWriters(t, c, 4, 100_003)

	got, err := c.Get()
	require.NoError(t, err)
	assert.LessOrEqual(t, got, int64(4*100_003))

	require.NoError(t, c.Flush())
	got, err = c.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(4*100_003), got)
}

func TestShardedCounterInvalidArguments(t *testing.T) {
	cases := []struct {
		name string
		cfg  ShardedConfig
	}{
		{"zero shards", ShardedConfig{Shards: 0, WriterHint: 1}},
		{"negative shards", ShardedConfig{Shards: -3}},
		{"negative writer hint", ShardedConfig{Shards: 1, WriterHint: -1}},
		{"negative threshold", ShardedConfig{Shards: 1, Threshold: -5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewShardedCounterWithConfig(tc.cfg)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}

	var c ShardedCounter
	assert.ErrorIs(t, c.Init(0, 4), ErrInvalidArgument)
	// A failed init leaves the counter uninitialized.
	assert.ErrorIs(t, c.Update(0, 1), ErrInvalidState)
}

type brokenPolicy struct{}

func (brokenPolicy) ShardOf(writerID, shards int) int { return shards }

func TestShardedCounterRejectsOutOfRangePolicy(t *testing.T) {
	c, err := NewShardedCounterWithConfig(ShardedConfig{Shards: 2, Policy: brokenPolicy{}})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Update(0, 1), ErrInvalidArgument)
}

func TestShardedCounterLifecycle(t *testing.T) {
	var c ShardedCounter
	assert.ErrorIs(t, c.Update(0, 1), ErrInvalidState)
	assert.ErrorIs(t, c.Flush(), ErrInvalidState)
	_, err := c.Get()
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = c.Estimate()
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, c.Destroy(), ErrInvalidState)

	require.NoError(t, c.Init(2, 2))
	assert.ErrorIs(t, c.Init(2, 2), ErrInvalidState)
	require.NoError(t, c.Update(1, 9))
	require.NoError(t, c.Destroy())

	assert.ErrorIs(t, c.Update(0, 1), ErrInvalidState)
	assert.ErrorIs(t, c.Flush(), ErrInvalidState)
	_, err = c.Get()
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, c.Init(3, 3))
	assert.Equal(t, 3, c.Shards())
	got, err := c.Get()
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestShardedCounterDestroyWhileHeld(t *testing.T) {
	c, err := NewShardedCounter(4, 4)
	require.NoError(t, err)

	for i := range c.shards {
		release := holdLock(t, &c.shards[i].guard)
		assert.ErrorIs(t, c.Destroy(), ErrResource, "shard %d", i)
		release()
	}

	release := holdLock(t, &c.totalGuard)
	assert.ErrorIs(t, c.Destroy(), ErrResource)
	release()

	// Every lock was released by the failed attempts.
	for id := 0; id < 4; id++ {
		require.NoError(t, c.Update(id, 1))
	}
	require.NoError(t, c.Flush())
	got, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)

	require.NoError(t, c.Destroy())
}

func TestShardedCounterShardIsolation(t *testing.T) {
	c, err := NewShardedCounter(2, 2)
	require.NoError(t, err)
	require.NotEqual(t, c.ShardOf(0), c.ShardOf(1))

	// A writer on shard 1 makes progress while shard 0 is locked.
	c.shards[c.ShardOf(0)].guard.Lock()
	defer c.shards[c.ShardOf(0)].guard.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- c.Update(1, 1)
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("update on an unlocked shard blocked")
	}
}

func TestShardWriter(t *testing.T) {
	c, err := NewShardedCounter(4, 4)
	require.NoError(t, err)

	var inc Incrementer = c.Writer(3)
	require.NoError(t, inc.Increment())
	require.NoError(t, c.Writer(3).Add(4))

	assert.Equal(t, int64(5), c.shards[c.ShardOf(3)].partial)
	require.NoError(t, c.Flush())
	got, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)
}

func TestDefaultShardedConfig(t *testing.T) {
	cfg := DefaultShardedConfig(0)
	assert.Equal(t, 1, cfg.Shards)

	cfg = DefaultShardedConfig(6)
	assert.Equal(t, 6, cfg.Shards)
	assert.Equal(t, 6, cfg.WriterHint)
	assert.IsType(t, ModuloPolicy{}, cfg.Policy)
}

func TestShardOfBeforeInit(t *testing.T) {
	var c ShardedCounter
	assert.Equal(t, -1, c.ShardOf(3))
	assert.Zero(t, c.Shards())
}

func TestShardedCounterFlushAfterDestroyLeavesShards(t *testing.T) {
	c, err := NewShardedCounter(2, 2)
	require.NoError(t, err)
	require.NoError(t, c.Update(0, 5))
	require.NoError(t, c.Destroy())

	// A Flush that passed its entry check before Destroy reaches the shard
	// only after the state flipped.
	assert.ErrorIs(t, c.flushShard(&c.shards[c.ShardOf(0)]), ErrInvalidState)
	assert.Equal(t, int64(5), c.shards[c.ShardOf(0)].partial)
	assert.Zero(t, c.total)
}
