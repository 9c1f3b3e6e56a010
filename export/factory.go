package export

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nikiz24/counter"
	"github.com/nikiz24/counter/bench"
)

// Global exporter instance
var (
	globalMutex    sync.Mutex
	globalManager  Manager
	globalCounters *CounterCollector
	globalResults  *ResultCollector
)

// Init starts the global exporter. Calling it again before Shutdown fails.
func Init(config Config) error {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	if globalManager != nil {
		return fmt.Errorf("exporter already initialized")
	}

	mgr, err := NewManager(config)
	if err != nil {
		return err
	}

	counters := NewCounterCollector("counters", config.Logger)
	mgr.RegisterCollector(counters)
	results := NewResultCollector("bench_results", config.Logger)
	mgr.RegisterCollector(results)
	mgr.RegisterCollector(NewRuntimeCollector(config.Logger))

	if err := mgr.Start(); err != nil {
		return err
	}

	globalManager = mgr
	globalCounters = counters
	globalResults = results

	if config.Logger != nil {
		config.Logger.Info("Exporter initialized",
			zap.String("namespace", config.Namespace),
			zap.String("subsystem", config.Subsystem),
			zap.String("service", config.ServiceName))
	}
	return nil
}

// Register publishes a counter under name. It is a no-op before Init.
// labels should be provided as [key1, value1, key2, value2, ...]
func Register(name string, reader counter.Reader, labels ...string) {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	if globalCounters != nil {
		globalCounters.Register(name, reader, labels...)
	}
}

// Unregister stops publishing a counter.
func Unregister(name string) {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	if globalCounters != nil {
		globalCounters.Unregister(name)
	}
}

// RecordResult publishes a benchmark result. It is a no-op before Init.
func RecordResult(res bench.Result) {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	if globalResults != nil {
		globalResults.Record(res)
	}
}

// Snapshot returns the samples the next write would send, or nil before
// Init.
func Snapshot() []Metric {
	globalMutex.Lock()
	mgr := globalManager
	globalMutex.Unlock()

	if mgr == nil {
		return nil
	}
	return mgr.GetMetrics()
}

// ForceWrite immediately writes all current samples.
func ForceWrite(ctx context.Context) error {
	globalMutex.Lock()
	mgr := globalManager
	globalMutex.Unlock()

	if mgr == nil {
		return fmt.Errorf("exporter not initialized")
	}
	return mgr.WriteNow(ctx)
}

// Shutdown stops the global exporter. Init may be called again afterwards.
func Shutdown() {
	globalMutex.Lock()
	mgr := globalManager
	globalManager = nil
	globalCounters = nil
	globalResults = nil
	globalMutex.Unlock()

	if mgr != nil {
		mgr.Stop()
	}
}
