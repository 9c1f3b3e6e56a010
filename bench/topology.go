package bench

import "runtime"

// Parallelism reports how many goroutines can run at once: GOMAXPROCS,
// capped by the number of online CPUs.
func Parallelism() int {
	n := runtime.GOMAXPROCS(0)
	if cpus := runtime.NumCPU(); cpus < n {
		n = cpus
	}
	if n < 1 {
		n = 1
	}
	return n
}
