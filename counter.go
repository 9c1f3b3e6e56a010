package counter

// Reader is anything that reports a count.
type Reader interface {
	Get() (int64, error)
}

// Incrementer adds one to a count.
type Incrementer interface {
	Increment() error
}

// Counter is the lifecycle shared by BaselineCounter and LockedCounter.
type Counter interface {
	Reader
	Incrementer
	Destroy() error
}

var (
	_ Counter     = (*BaselineCounter)(nil)
	_ Counter     = (*LockedCounter)(nil)
	_ Reader      = (*ShardedCounter)(nil)
	_ Incrementer = ShardWriter{}
)
