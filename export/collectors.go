package export

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nikiz24/counter"
	"github.com/nikiz24/counter/bench"
)

// BaseCollector provides basic collector functionality
type BaseCollector struct {
	name   string
	logger *zap.Logger
}

// Name implements Collector interface
func (b *BaseCollector) Name() string {
	return b.name
}

// NewBaseCollector creates a base collector
func NewBaseCollector(name string, logger *zap.Logger) BaseCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return BaseCollector{
		name:   name,
		logger: logger,
	}
}

// estimator is implemented by counters that can report pending updates
// without a flush, such as counter.ShardedCounter.
type estimator interface {
	Estimate() (int64, error)
}

type registeredCounter struct {
	reader counter.Reader
	labels map[string]string
}

// CounterCollector samples registered counters by name. Counters that can
// estimate (sharded counters) are sampled with Estimate so the exporter
// never has to flush them; everything else with Get.
type CounterCollector struct {
	BaseCollector
	counters map[string]registeredCounter
	mutex    sync.RWMutex
}

// NewCounterCollector creates a new counter collector
func NewCounterCollector(name string, logger *zap.Logger) *CounterCollector {
	return &CounterCollector{
		BaseCollector: NewBaseCollector(name, logger),
		counters:      make(map[string]registeredCounter),
	}
}

// Register adds or replaces a counter. labels are [key1, value1, ...].
func (c *CounterCollector) Register(name string, reader counter.Reader, labels ...string) {
	labelMap := make(map[string]string, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		labelMap[labels[i]] = labels[i+1]
	}

	c.mutex.Lock()
	c.counters[name] = registeredCounter{reader: reader, labels: labelMap}
	c.mutex.Unlock()
}

// Unregister removes a counter.
func (c *CounterCollector) Unregister(name string) {
	c.mutex.Lock()
	delete(c.counters, name)
	c.mutex.Unlock()
}

// Collect implements Collector interface
func (c *CounterCollector) Collect() []Metric {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := time.Now()
	metrics := make([]Metric, 0, len(c.counters))
	for name, rc := range c.counters {
		v, err := sample(rc.reader)
		if err != nil {
			if errors.Is(err, counter.ErrInvalidState) {
				c.logger.Debug("Skipping counter that is not initialized", zap.String("counter", name))
			} else {
				c.logger.Warn("Failed to read counter", zap.String("counter", name), zap.Error(err))
			}
			continue
		}
		metrics = append(metrics, Metric{
			Name:       name,
			Value:      float64(v),
			Labels:     rc.labels,
			MetricType: Counter,
			Timestamp:  now,
		})
	}
	return metrics
}

func sample(r counter.Reader) (int64, error) {
	if e, ok := r.(estimator); ok {
		return e.Estimate()
	}
	return r.Get()
}

// ResultCollector keeps the latest benchmark result per benchmark name.
type ResultCollector struct {
	BaseCollector
	results map[string]bench.Result
	mutex   sync.RWMutex
}

// NewResultCollector creates a new benchmark result collector
func NewResultCollector(name string, logger *zap.Logger) *ResultCollector {
	return &ResultCollector{
		BaseCollector: NewBaseCollector(name, logger),
		results:       make(map[string]bench.Result),
	}
}

// Record stores res, replacing any earlier result with the same name.
func (c *ResultCollector) Record(res bench.Result) {
	c.mutex.Lock()
	c.results[res.Name] = res
	c.mutex.Unlock()
}

// Collect implements Collector interface
func (c *ResultCollector) Collect() []Metric {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	names := make([]string, 0, len(c.results))
	for name := range c.results {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now()
	metrics := make([]Metric, 0, 3*len(names))
	for _, name := range names {
		res := c.results[name]
		labels := map[string]string{
			"benchmark": name,
			"workers":   strconv.Itoa(res.Workers),
		}
		for _, s := range []struct {
			name  string
			value float64
		}{
			{"average_ns", float64(res.AverageTime.Nanoseconds())},
			{"throughput", res.Throughput},
			{"updates", float64(res.UpdatesPerIteration)},
		} {
			metrics = append(metrics, Metric{
				Name:       "bench_" + s.name,
				Value:      s.value,
				Labels:     labels,
				MetricType: Gauge,
				Timestamp:  now,
			})
		}
	}
	return metrics
}
