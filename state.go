package counter

import (
	"fmt"
	"sync/atomic"
)

type state int32

const (
	uninitialized state = iota
	initialized
	destroyed
)

func (s state) String() string {
	switch s {
	case uninitialized:
		return "uninitialized"
	case initialized:
		return "initialized"
	case destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// lifecycle tracks Uninitialized -> Initialized -> Destroyed for counters
// that may be touched from several goroutines.
type lifecycle struct {
	v atomic.Int32
}

func (l *lifecycle) load() state {
	return state(l.v.Load())
}

// begin moves to initialized from either uninitialized or destroyed.
func (l *lifecycle) begin() error {
	if l.v.CompareAndSwap(int32(uninitialized), int32(initialized)) ||
		l.v.CompareAndSwap(int32(destroyed), int32(initialized)) {
		return nil
	}
	return fmt.Errorf("init on %s counter: %w", l.load(), ErrInvalidState)
}

func (l *lifecycle) check(op string) error {
	if s := l.load(); s != initialized {
		return fmt.Errorf("%s on %s counter: %w", op, s, ErrInvalidState)
	}
	return nil
}

func (l *lifecycle) end() {
	l.v.Store(int32(destroyed))
}
