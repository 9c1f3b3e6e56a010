package bench

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nikiz24/counter"
)

// ErrMismatch reports a counter that did not end at the expected total.
var ErrMismatch = errors.New("counter total mismatch")

// cancelCheckMask spaces out context checks so they stay off the hot path.
const cancelCheckMask = 1<<12 - 1

// Names under which shared counters are handed to Config.Publish.
const (
	LockedCounterName  = "safe_counter"
	ShardedCounterName = "approx_counter"
)

// Workload runs one benchmark iteration and returns how many updates it
// issued.
type Workload func(ctx context.Context, cfg Config) (int64, error)

// BaselineWorkload increments a BaselineCounter from a single goroutine.
func BaselineWorkload(ctx context.Context, cfg Config) (int64, error) {
	c := counter.NewBaselineCounter()
	if err := repeat(ctx, cfg.UpdatesPerWorker, c.Increment); err != nil {
		return 0, err
	}
	want := int64(cfg.UpdatesPerWorker)
	if err := expect(c, want); err != nil {
		return 0, err
	}
	return want, c.Destroy()
}

// LockedWorkload has every worker increment one shared LockedCounter.
func LockedWorkload(ctx context.Context, cfg Config) (int64, error) {
	c, err := counter.NewLockedCounter()
	if err != nil {
		return 0, err
	}
	defer cfg.Publish(LockedCounterName, c)()

	err = fanOut(ctx, cfg.Workers, func(ctx context.Context, _ int) error {
		return repeat(ctx, cfg.UpdatesPerWorker, c.Increment)
	})
	if err != nil {
		return 0, err
	}
	want := int64(cfg.Workers) * int64(cfg.UpdatesPerWorker)
	if err := expect(c, want); err != nil {
		return 0, err
	}
	return want, c.Destroy()
}

// ShardedWorkload has worker i update a ShardedCounter as writer i, then
// flushes once all workers are done.
func ShardedWorkload(ctx context.Context, cfg Config) (int64, error) {
	c, err := counter.NewShardedCounterWithConfig(counter.ShardedConfig{
		Shards:     cfg.Shards,
		WriterHint: cfg.Workers,
		Threshold:  cfg.Threshold,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return 0, err
	}
	defer cfg.Publish(ShardedCounterName, c)()

	err = fanOut(ctx, cfg.Workers, func(ctx context.Context, id int) error {
		return repeat(ctx, cfg.UpdatesPerWorker, c.Writer(id).Increment)
	})
	if err != nil {
		return 0, err
	}
	if err := c.Flush(); err != nil {
		return 0, err
	}
	want := int64(cfg.Workers) * int64(cfg.UpdatesPerWorker)
	if err := expect(c, want); err != nil {
		return 0, err
	}
	return want, c.Destroy()
}

// fanOut runs work once per worker id. The first failure cancels the ctx
// handed to the other workers.
func fanOut(ctx context.Context, workers int, work func(ctx context.Context, id int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for id := 0; id < workers; id++ {
		g.Go(func() error {
			return work(gctx, id)
		})
	}
	return g.Wait()
}

// repeat calls op n times, stopping early if ctx is done.
func repeat(ctx context.Context, n int, op func() error) error {
	for i := 0; i < n; i++ {
		if i&cancelCheckMask == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := op(); err != nil {
			return err
		}
	}
	return nil
}

func expect(r counter.Reader, want int64) error {
	got, err := r.Get()
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: got %d, want %d", ErrMismatch, got, want)
	}
	return nil
}
