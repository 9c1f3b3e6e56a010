package counter

import "errors"

var (
	// ErrInvalidArgument reports bad construction parameters, such as zero shards.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrInvalidState reports an operation on a counter that is not initialized.
	ErrInvalidState = errors.New("invalid counter state")
	// ErrResource reports a lock that could not be allocated or released.
	ErrResource = errors.New("counter resource busy")
	// ErrLock is reserved for lock primitives that can report corruption.
	// sync.Mutex and go-deadlock abort the process instead, so no counter
	// returns it today.
	ErrLock = errors.New("counter lock corrupted")
)
