//go:build !deadlock

package syncutils

import "sync"

// Mutex is the lock used by every counter. Build with -tags deadlock to
// swap in go-deadlock's lock-order checking mutex.
type Mutex struct {
	sync.Mutex
}
