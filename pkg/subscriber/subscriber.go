// Package subscriber defines the downstream contract the ingest engine
// drives: initialize, handleLog, and rollback. It also provides
// StatefulBase, a convenience embed for subscribers that derive a
// per-block state snapshot.
package subscriber

import (
	"sync"

	"github.com/chainwatch/chainsub/pkg/chain"
)

// Subscriber is the downstream contract described in spec section 6.
// HandleLog must not throw: any error is the subscriber's own concern
// to log. Rollback is synchronous and must not block on I/O.
type Subscriber interface {
	// Initialize is called once a subscription reaches the head of the
	// chain and may be retried if it fails.
	Initialize(anchor chain.Block) error

	// HandleLog delivers a single log, called serially per subscriber
	// in ascending (blockNumber, logIndex) order.
	HandleLog(log chain.Log)

	// Rollback informs the subscriber that the chain has forked at or
	// before target; any state derived from blocks after target must
	// be discarded.
	Rollback(target chain.Block)
}

// StateHandleLogFunc is the user-supplied pure state transition applied
// by StatefulBase on each log.
type StateHandleLogFunc[T any] func(state T, log chain.Log) T

// CloneFunc deep-copies a state snapshot so two block numbers never
// alias the same mutable value.
type CloneFunc[T any] func(state T) T

// StatefulBase is an optional embeddable helper for subscribers that
// maintain a per-block state snapshot. It keeps a map of blockNumber to
// T, copying the previous snapshot forward on first touch of a new
// block and discarding snapshots above the rollback target.
type StatefulBase[T any] struct {
	mu sync.Mutex

	snapshots     map[uint64]T
	lastSeenBlock chain.Block
	haveLastSeen  bool
	initialState  T
	handleLog     StateHandleLogFunc[T]
	clone         CloneFunc[T]
}

// NewStatefulBase constructs a StatefulBase seeded with initialState,
// the pure transition function handleLog, and a clone function used to
// copy a snapshot forward to a new block number.
func NewStatefulBase[T any](initialState T, handleLog StateHandleLogFunc[T], clone CloneFunc[T]) *StatefulBase[T] {
	return &StatefulBase[T]{
		snapshots:    make(map[uint64]T),
		initialState: initialState,
		handleLog:    handleLog,
		clone:        clone,
	}
}

// Initialize seeds the base with the anchor block as the last-seen
// block and installs the initial state snapshot at that number.
func (b *StatefulBase[T]) Initialize(anchor chain.Block) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.snapshots = map[uint64]T{anchor.Number: b.initialState}
	b.lastSeenBlock = anchor
	b.haveLastSeen = true
	return nil
}

// HandleLog advances the per-block snapshot map and delegates the
// transition to the user-supplied pure function.
func (b *StatefulBase[T]) HandleLog(log chain.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.snapshots[log.BlockNumber]; !ok {
		prev := b.initialState
		if b.haveLastSeen {
			if s, ok := b.snapshots[b.lastSeenBlock.Number]; ok {
				prev = s
			}
		}
		b.snapshots[log.BlockNumber] = b.clone(prev)
	}

	b.snapshots[log.BlockNumber] = b.handleLog(b.snapshots[log.BlockNumber], log)
	b.lastSeenBlock = chain.Block{Number: log.BlockNumber, Hash: log.BlockHash}
	b.haveLastSeen = true
}

// Rollback deletes every snapshot strictly above target.Number and
// resets the last-seen pointer to target.
func (b *StatefulBase[T]) Rollback(target chain.Block) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for n := range b.snapshots {
		if n > target.Number {
			delete(b.snapshots, n)
		}
	}
	b.lastSeenBlock = target
	b.haveLastSeen = true
}

// StateAt returns the snapshot at the given block number, if present.
func (b *StatefulBase[T]) StateAt(blockNumber uint64) (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.snapshots[blockNumber]
	return s, ok
}

// LastSeenBlock returns the most recently observed block.
func (b *StatefulBase[T]) LastSeenBlock() (chain.Block, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lastSeenBlock, b.haveLastSeen
}
