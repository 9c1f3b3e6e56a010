// Package counter provides interchangeable counters that trade read
// consistency for write throughput under concurrent increments.
//
// Three variants share the same lifecycle (Init, update, Get, Destroy):
//   - BaselineCounter: a bare int64, exact only with a single writer
//   - LockedCounter: one mutex around one int64, exact and linearizable
//   - ShardedCounter: one locked partial per shard plus a flushed total;
//     Get is approximate until Flush runs after writers stop
//
// Basic usage:
//
//	c, err := counter.NewShardedCounter(runtime.NumCPU(), runtime.NumCPU())
//	if err != nil {
//	  log.Fatal(err)
//	}
//	defer c.Destroy()
//
//	var wg sync.WaitGroup
//	for id := 0; id < runtime.NumCPU(); id++ {
//	  wg.Add(1)
//	  go func(id int) {
//	    defer wg.Done()
//	    for i := 0; i < 1000; i++ {
//	      c.Update(id, 1)
//	    }
//	  }(id)
//	}
//	wg.Wait()
//
//	c.Flush()
//	total, _ := c.Get()
//
// Build with -tags deadlock to run every counter lock through go-deadlock.
package counter
