package counter

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// ShardPolicy maps a writer identity to a shard index in [0, shards).
// Implementations must be pure: the same writer always lands on the same
// shard for a given shard count.
type ShardPolicy interface {
	ShardOf(writerID, shards int) int
}

// ModuloPolicy assigns writer i to shard i mod shards. Writers numbered
// 0..shards-1 never share a shard.
type ModuloPolicy struct{}

// ShardOf implements ShardPolicy.
func (ModuloPolicy) ShardOf(writerID, shards int) int {
	return ((writerID % shards) + shards) % shards
}

// HashPolicy spreads writer ids with xxhash. Useful when ids are sparse or
// share low bits, e.g. goroutine ids or ports.
type HashPolicy struct{}

// ShardOf implements ShardPolicy.
func (HashPolicy) ShardOf(writerID, shards int) int {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(int64(writerID)))
	return int(xxhash.Sum64(b[:]) % uint64(shards))
}
