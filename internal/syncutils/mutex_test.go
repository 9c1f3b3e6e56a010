package syncutils

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMutexTryLock(t *testing.T) {
	var mu Mutex
	assert.True(t, mu.TryLock())
	mu.Unlock()

	// Held by another goroutine. A failed TryLock from the holder itself is
	// reported as recursive locking under the deadlock tag.
	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		mu.Lock()
		close(locked)
		<-release
		mu.Unlock()
	}()
	<-locked
	assert.False(t, mu.TryLock())
	close(release)
	<-done

	assert.True(t, mu.TryLock())
	mu.Unlock()
}

func TestMutexExclusion(t *testing.T) {
	var (
		mu Mutex
		wg sync.WaitGroup
		n  int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				mu.Lock()
				n++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 16*1000, n)
}
