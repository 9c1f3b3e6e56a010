package counter

import "fmt"

// BaselineCounter is a plain int64 with no synchronization. It is exact
// only when a single goroutine owns it and serves as the performance floor
// for the other counters.
type BaselineCounter struct {
	value int64
	state state
}

// NewBaselineCounter returns an initialized baseline counter.
func NewBaselineCounter() *BaselineCounter {
	return &BaselineCounter{state: initialized}
}

// Init zeroes the counter.
func (c *BaselineCounter) Init() error {
	if c.state == initialized {
		return fmt.Errorf("init on %s counter: %w", c.state, ErrInvalidState)
	}
	c.value = 0
	c.state = initialized
	return nil
}

// Increment adds one. Concurrent calls lose updates.
func (c *BaselineCounter) Increment() error {
	if c.state != initialized {
		return fmt.Errorf("increment on %s counter: %w", c.state, ErrInvalidState)
	}
	c.value++
	return nil
}

// Get returns the current value.
func (c *BaselineCounter) Get() (int64, error) {
	if c.state != initialized {
		return 0, fmt.Errorf("get on %s counter: %w", c.state, ErrInvalidState)
	}
	return c.value, nil
}

// Destroy releases the counter. There is nothing to free.
func (c *BaselineCounter) Destroy() error {
	if c.state != initialized {
		return fmt.Errorf("destroy on %s counter: %w", c.state, ErrInvalidState)
	}
	c.state = destroyed
	return nil
}
