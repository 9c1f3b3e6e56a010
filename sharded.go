package counter

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/cpu"

	"github.com/nikiz24/counter/internal/syncutils"
)

// ShardedConfig defines how a ShardedCounter is built.
type ShardedConfig struct {
	// Shards is the number of independently locked partitions, at least 1.
	Shards int
	// WriterHint is the number of writers expected to update concurrently.
	// It only drives a warning when Shards is smaller.
	WriterHint int

	// Threshold, when positive, makes a shard drain itself into the total
	// once its partial reaches Threshold in magnitude. Zero means partials
	// only move on Flush.
	Threshold int64

	// Policy maps writer ids to shards. Defaults to ModuloPolicy.
	Policy ShardPolicy

	// Optional logger
	Logger *zap.Logger
}

// DefaultShardedConfig returns one shard per expected writer.
func DefaultShardedConfig(writers int) ShardedConfig {
	if writers < 1 {
		writers = 1
	}
	return ShardedConfig{
		Shards:     writers,
		WriterHint: writers,
		Policy:     ModuloPolicy{},
	}
}

func (cfg ShardedConfig) validate() error {
	if cfg.Shards < 1 {
		return fmt.Errorf("shard count %d must be at least 1: %w", cfg.Shards, ErrInvalidArgument)
	}
	if cfg.WriterHint < 0 {
		return fmt.Errorf("writer hint %d must not be negative: %w", cfg.WriterHint, ErrInvalidArgument)
	}
	if cfg.Threshold < 0 {
		return fmt.Errorf("threshold %d must not be negative: %w", cfg.Threshold, ErrInvalidArgument)
	}
	return nil
}

type shard struct {
	guard   syncutils.Mutex
	partial int64
	_       cpu.CacheLinePad
}

// ShardedCounter is an approximate counter. Writers add to the shard their
// id maps to, so writers on different shards never contend. Get only
// reports what Flush (or a threshold drain) has moved into the total:
//
//	c, _ := counter.NewShardedCounter(4, 4)
//	c.Update(0, 1)
//	c.Get()   // 0, the update is still in shard 0
//	c.Flush()
//	c.Get()   // 1
//
// An update racing with Flush on the same shard lands either in the total
// or in the shard, never both and never neither. Get is exact once writers
// have stopped and a Flush has completed after the last update.
type ShardedCounter struct {
	shards    []shard
	policy    ShardPolicy
	threshold int64
	logger    *zap.Logger

	totalGuard syncutils.Mutex
	total      int64

	life lifecycle
}

// NewShardedCounter returns an initialized counter with shardCount shards.
func NewShardedCounter(shardCount, writerHint int) (*ShardedCounter, error) {
	c := &ShardedCounter{}
	if err := c.Init(shardCount, writerHint); err != nil {
		return nil, err
	}
	return c, nil
}

// NewShardedCounterWithConfig returns an initialized counter built from cfg.
func NewShardedCounterWithConfig(cfg ShardedConfig) (*ShardedCounter, error) {
	c := &ShardedCounter{}
	if err := c.InitWithConfig(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Init allocates shardCount zeroed shards. shardCount close to writerHint
// keeps every writer on its own shard.
func (c *ShardedCounter) Init(shardCount, writerHint int) error {
	return c.InitWithConfig(ShardedConfig{
		Shards:     shardCount,
		WriterHint: writerHint,
	})
}

// InitWithConfig allocates the shards described by cfg.
func (c *ShardedCounter) InitWithConfig(cfg ShardedConfig) error {
	if s := c.life.load(); s == initialized {
		return fmt.Errorf("init on %s counter: %w", s, ErrInvalidState)
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := cfg.Policy
	if policy == nil {
		policy = ModuloPolicy{}
	}

	c.shards = make([]shard, cfg.Shards)
	c.policy = policy
	c.threshold = cfg.Threshold
	c.logger = logger
	c.total = 0

	if cfg.WriterHint > cfg.Shards {
		logger.Warn("Fewer shards than expected writers, shards will be shared",
			zap.Int("shards", cfg.Shards),
			zap.Int("writers", cfg.WriterHint))
	}

	if err := c.life.begin(); err != nil {
		return err
	}
	logger.Debug("Initialized sharded counter",
		zap.Int("shards", cfg.Shards),
		zap.Int64("threshold", cfg.Threshold))
	return nil
}

// Shards returns the number of shards.
func (c *ShardedCounter) Shards() int {
	return len(c.shards)
}

// ShardOf returns the shard index writerID updates, or -1 before Init.
func (c *ShardedCounter) ShardOf(writerID int) int {
	if c.policy == nil || len(c.shards) == 0 {
		return -1
	}
	return c.policy.ShardOf(writerID, len(c.shards))
}

// Update adds delta to the shard writerID maps to. Overflow wraps.
func (c *ShardedCounter) Update(writerID int, delta int64) error {
	if err := c.life.check("update"); err != nil {
		return err
	}
	idx := c.ShardOf(writerID)
	if idx < 0 || idx >= len(c.shards) {
		return fmt.Errorf("policy mapped writer %d to shard %d of %d: %w",
			writerID, idx, len(c.shards), ErrInvalidArgument)
	}

	s := &c.shards[idx]
	s.guard.Lock()
	defer s.guard.Unlock()

	// Destroy holds every shard lock while it flips the state.
	if err := c.life.check("update"); err != nil {
		return err
	}
	s.partial += delta
	if c.threshold > 0 && (s.partial >= c.threshold || s.partial <= -c.threshold) {
		c.drain(s)
	}
	return nil
}

// drain moves the partial of a locked shard into the total.
func (c *ShardedCounter) drain(s *shard) {
	c.totalGuard.Lock()
	c.total += s.partial
	c.totalGuard.Unlock()
	s.partial = 0
}

// Flush moves every shard's partial into the total, one shard at a time.
// Calling it twice with no update in between leaves Get unchanged.
func (c *ShardedCounter) Flush() error {
	if err := c.life.check("flush"); err != nil {
		return err
	}
	for i := range c.shards {
		if err := c.flushShard(&c.shards[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *ShardedCounter) flushShard(s *shard) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	// A Destroy may have completed since Flush checked the state.
	if err := c.life.check("flush"); err != nil {
		return err
	}
	if s.partial != 0 {
		c.drain(s)
	}
	return nil
}

// Get returns the flushed total. It under-reports by whatever is still
// sitting in the shards.
func (c *ShardedCounter) Get() (int64, error) {
	if err := c.life.check("get"); err != nil {
		return 0, err
	}
	c.totalGuard.Lock()
	defer c.totalGuard.Unlock()
	return c.total, nil
}

// Estimate returns the total plus every shard's pending partial without
// moving anything. The total is read first so that a concurrent flush can
// only make the estimate miss updates, never count them twice.
func (c *ShardedCounter) Estimate() (int64, error) {
	sum, err := c.Get()
	if err != nil {
		return 0, err
	}
	for i := range c.shards {
		s := &c.shards[i]
		s.guard.Lock()
		sum += s.partial
		s.guard.Unlock()
	}
	return sum, nil
}

// Destroy fails with ErrResource if any shard lock or the total lock is
// held. The counter stays usable in that case.
func (c *ShardedCounter) Destroy() error {
	if err := c.life.check("destroy"); err != nil {
		return err
	}

	// Same order as drain: shards first, then the total.
	held := 0
	release := func() {
		for i := 0; i < held; i++ {
			c.shards[i].guard.Unlock()
		}
	}
	defer release()

	for i := range c.shards {
		if !c.shards[i].guard.TryLock() {
			c.logger.Warn("Sharded counter destroyed while in use", zap.Int("shard", i))
			return fmt.Errorf("destroy while shard %d lock is held: %w", i, ErrResource)
		}
		held++
	}
	if !c.totalGuard.TryLock() {
		c.logger.Warn("Sharded counter destroyed while total is in use")
		return fmt.Errorf("destroy while total lock is held: %w", ErrResource)
	}
	defer c.totalGuard.Unlock()

	c.life.end()
	return nil
}

// Writer binds a writer id so the counter can be driven as an Incrementer.
func (c *ShardedCounter) Writer(writerID int) ShardWriter {
	return ShardWriter{c: c, id: writerID}
}

// ShardWriter updates a ShardedCounter on behalf of one writer.
type ShardWriter struct {
	c  *ShardedCounter
	id int
}

// Increment adds one to the writer's shard.
func (w ShardWriter) Increment() error {
	return w.c.Update(w.id, 1)
}

// Add adds delta to the writer's shard.
func (w ShardWriter) Add(delta int64) error {
	return w.c.Update(w.id, delta)
}
