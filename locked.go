package counter

import (
	"fmt"

	"github.com/nikiz24/counter/internal/syncutils"
)

// LockedCounter is an exact counter guarded by a single mutex. Every
// increment and read is serialized, so reads are linearizable.
type LockedCounter struct {
	guard syncutils.Mutex
	value int64
	life  lifecycle
}

// NewLockedCounter returns an initialized locked counter.
func NewLockedCounter() (*LockedCounter, error) {
	c := &LockedCounter{}
	if err := c.Init(); err != nil {
		return nil, err
	}
	return c, nil
}

// Init zeroes the counter. A destroyed counter may be initialized again.
func (c *LockedCounter) Init() error {
	c.guard.Lock()
	defer c.guard.Unlock()

	if err := c.life.begin(); err != nil {
		return err
	}
	c.value = 0
	return nil
}

// Increment adds one.
func (c *LockedCounter) Increment() error {
	return c.add("increment", 1)
}

// Add adds delta. Overflow wraps.
func (c *LockedCounter) Add(delta int64) error {
	return c.add("add", delta)
}

func (c *LockedCounter) add(op string, delta int64) error {
	c.guard.Lock()
	defer c.guard.Unlock()

	if err := c.life.check(op); err != nil {
		return err
	}
	c.value += delta
	return nil
}

// Get returns the exact count as of the moment the lock was taken.
func (c *LockedCounter) Get() (int64, error) {
	c.guard.Lock()
	defer c.guard.Unlock()

	if err := c.life.check("get"); err != nil {
		return 0, err
	}
	return c.value, nil
}

// Destroy fails with ErrResource if another caller holds the lock.
func (c *LockedCounter) Destroy() error {
	if !c.guard.TryLock() {
		return fmt.Errorf("destroy while lock is held: %w", ErrResource)
	}
	defer c.guard.Unlock()

	if err := c.life.check("destroy"); err != nil {
		return err
	}
	c.life.end()
	return nil
}
