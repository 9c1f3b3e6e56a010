package export

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RuntimeCollector reports Go runtime gauges next to the counters, so a
// throughput number can be read against the scheduler and heap it ran on.
type RuntimeCollector struct {
	BaseCollector
}

// NewRuntimeCollector creates a new runtime collector
func NewRuntimeCollector(logger *zap.Logger) *RuntimeCollector {
	return &RuntimeCollector{
		BaseCollector: NewBaseCollector("runtime", logger),
	}
}

// Collect implements Collector interface
func (r *RuntimeCollector) Collect() []Metric {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	now := time.Now()
	samples := []struct {
		name string
		typ  MetricType
		v    float64
	}{
		{"go_goroutines", Gauge, float64(runtime.NumGoroutine())},
		{"go_gomaxprocs", Gauge, float64(runtime.GOMAXPROCS(0))},
		{"go_num_cpu", Gauge, float64(runtime.NumCPU())},
		{"go_heap_alloc_bytes", Gauge, float64(ms.HeapAlloc)},
		{"go_heap_inuse_bytes", Gauge, float64(ms.HeapInuse)},
		{"go_sys_bytes", Gauge, float64(ms.Sys)},
		{"go_gc_runs_total", Counter, float64(ms.NumGC)},
		{"go_gc_pause_total_ns", Counter, float64(ms.PauseTotalNs)},
	}
	if rss := processRSS(); rss > 0 {
		samples = append(samples, struct {
			name string
			typ  MetricType
			v    float64
		}{"process_rss_bytes", Gauge, float64(rss)})
	}

	metrics := make([]Metric, 0, len(samples))
	for _, s := range samples {
		metrics = append(metrics, Metric{
			Name:       s.name,
			Value:      s.v,
			Labels:     map[string]string{},
			MetricType: s.typ,
			Timestamp:  now,
		})
	}
	return metrics
}

// processRSS reads VmRSS from /proc on Linux and returns 0 elsewhere.
func processRSS() uint64 {
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}
