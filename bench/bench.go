// Package bench times the counters in package counter. Every worker issues
// a fixed number of updates; the driver joins them and checks the total.
package bench

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nikiz24/counter"
)

// Config defines one benchmark run
type Config struct {
	// Iterations is how many times each workload runs; the result is the mean.
	Iterations int
	// UpdatesPerWorker is the number of increments each worker issues.
	UpdatesPerWorker int
	// Workers is the number of concurrent writers. Defaults to Parallelism().
	Workers int

	// Sharded counter options
	Shards    int
	Threshold int64

	// Publish, when set, is handed each shared counter while its workload
	// runs and must return a func that withdraws it. The baseline counter
	// is never published since it cannot be read concurrently.
	Publish func(name string, r counter.Reader) (withdraw func())

	// Optional logger
	Logger *zap.Logger
}

// DefaultConfig returns 5 iterations of 1M updates per worker, one worker
// per usable CPU, and 1024 shards.
func DefaultConfig() Config {
	return Config{
		Iterations:       5,
		UpdatesPerWorker: 1_000_000,
		Workers:          Parallelism(),
		Shards:           1024,
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	cfg.Iterations = pickInt(cfg.Iterations, def.Iterations)
	cfg.UpdatesPerWorker = pickInt(cfg.UpdatesPerWorker, def.UpdatesPerWorker)
	cfg.Workers = pickInt(cfg.Workers, def.Workers)
	cfg.Shards = pickInt(cfg.Shards, def.Shards)
	if cfg.Threshold < 0 {
		cfg.Threshold = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Publish == nil {
		cfg.Publish = func(string, counter.Reader) func() { return func() {} }
	}
	return cfg
}

func pickInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Result is the outcome of running one workload Iterations times.
type Result struct {
	Name                string        `json:"name"`
	Workers             int           `json:"workers"`
	Iterations          int           `json:"iterations"`
	UpdatesPerIteration int64         `json:"updates_per_iteration"`
	AverageTime         time.Duration `json:"average_time_ns"`

	// Throughput is updates per second over the average iteration.
	Throughput float64 `json:"throughput"`
}

// String formats the result as one line of the text report.
func (r Result) String() string {
	return fmt.Sprintf("%s-%d:\t%d iterations\taverage time: %dns",
		r.Name, r.Workers, r.Iterations, r.AverageTime.Nanoseconds())
}

// Variant is a named workload.
type Variant struct {
	Name     string
	Workload Workload
}

// Variants returns the three benchmarks: baseline, locked, sharded.
func Variants() []Variant {
	return []Variant{
		{Name: "benchmark_simple_counter", Workload: BaselineWorkload},
		{Name: "benchmark_safe_counter", Workload: LockedWorkload},
		{Name: "benchmark_approx_counter", Workload: ShardedWorkload},
	}
}

// Run executes w cfg.Iterations times and averages the wall-clock time of
// each iteration. The context is checked between iterations only.
func Run(ctx context.Context, name string, cfg Config, w Workload) (Result, error) {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With(zap.String("benchmark", name))

	var (
		total   time.Duration
		updates int64
	)
	for i := 0; i < cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		start := time.Now()
		n, err := w(ctx, cfg)
		elapsed := time.Since(start)
		if err != nil {
			logger.Error("Benchmark iteration failed", zap.Int("iteration", i), zap.Error(err))
			return Result{}, fmt.Errorf("%s iteration %d: %w", name, i, err)
		}
		total += elapsed
		updates = n
		logger.Debug("Benchmark iteration done",
			zap.Int("iteration", i),
			zap.Duration("elapsed", elapsed))
	}

	avg := total / time.Duration(cfg.Iterations)
	res := Result{
		Name:                name,
		Workers:             cfg.Workers,
		Iterations:          cfg.Iterations,
		UpdatesPerIteration: updates,
		AverageTime:         avg,
	}
	if avg > 0 {
		res.Throughput = float64(updates) / avg.Seconds()
	}

	logger.Info("Benchmark finished",
		zap.Int("workers", res.Workers),
		zap.Duration("average", res.AverageTime),
		zap.Float64("throughput", res.Throughput))
	return res, nil
}
