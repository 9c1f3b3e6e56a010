// Package export publishes counter values and benchmark results to a
// Prometheus Remote Write endpoint.
//
// Counters registered here are sampled on every write. Sharded counters
// are read with Estimate, so publishing never flushes them and never
// takes more than one shard lock at a time.
//
// Basic usage:
//
//	config := export.DefaultConfig()
//	config.RemoteWriteURL = "http://prometheus:9090/api/v1/write"
//
//	if err := export.Init(config); err != nil {
//	  log.Fatal(err)
//	}
//	defer export.Shutdown()
//
//	c, _ := counter.NewShardedCounter(8, 8)
//	export.Register("requests_total", c, "path", "/")
package export
