// Package registry implements the subscription registry: it maps
// addresses to subscribers, tracks each subscription's lifecycle, and
// performs concurrent batched initialization against the chain head.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	chaincommon "github.com/chainwatch/chainsub/internal/common"
	"github.com/chainwatch/chainsub/internal/logger"
	"github.com/chainwatch/chainsub/internal/metrics"
	"github.com/chainwatch/chainsub/pkg/chain"
	"github.com/chainwatch/chainsub/pkg/subscriber"
)

type entry struct {
	addressAndTopics   chain.AddressAndTopics
	subscriber         subscriber.Subscriber
	initializedAt      *chain.Block
	lastSeenEventBlock *chain.Block
}

// Registry holds every subscription and drives its waiting-init /
// initialized lifecycle.
type Registry struct {
	mu      sync.Mutex
	entries map[common.Address]*entry
	waiting map[common.Address]struct{}
	log     *logger.Logger
}

// New constructs an empty Registry.
func New(log *logger.Logger) *Registry {
	metrics.ComponentHealthSet(chaincommon.ComponentRegistry, true)
	return &Registry{
		entries: make(map[common.Address]*entry),
		waiting: make(map[common.Address]struct{}),
		log:     log.WithComponent(chaincommon.ComponentRegistry),
	}
}

// SubscribeToLogs implements spec section 4.F: it registers sub for
// addressAndTopics, replacing any prior subscriber for the same
// address, and marks it waiting-init. Callers must follow up with
// HandleSubscribersInitialize against the current head to attempt
// initialization; engine.Engine.Subscribe does both atomically under
// its own mutex.
func (r *Registry) SubscribeToLogs(addressAndTopics chain.AddressAndTopics, sub subscriber.Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[addressAndTopics.Address] = &entry{
		addressAndTopics: addressAndTopics,
		subscriber:       sub,
	}
	r.waiting[addressAndTopics.Address] = struct{}{}
	metrics.SetSubscribersRegistered(len(r.entries))
	r.log.Infow("subscriber registered", "address", chain.CanonicalizeAddress(addressAndTopics.Address))
}

// Addresses returns the set of addresses with a live subscription, for
// use as the log fetcher's filter.
func (r *Registry) Addresses() []common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]common.Address, 0, len(r.entries))
	for addr := range r.entries {
		out = append(out, addr)
	}
	return out
}

// HandleSubscribersInitialize drains the waiting-init set, calling
// Initialize concurrently per spec section 4.E's "Subscriber
// orchestration" subsection. Addresses whose Initialize call fails are
// reinserted into the waiting set for a later retry.
func (r *Registry) HandleSubscribersInitialize(ctx context.Context, block chain.Block) error {
	r.mu.Lock()
	pending := make([]*entry, 0, len(r.waiting))
	for addr := range r.waiting {
		e, ok := r.entries[addr]
		if !ok {
			continue
		}
		pending = append(pending, e)
	}
	r.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	var g errgroup.Group
	var mu sync.Mutex
	failed := make(map[common.Address]error)

	for _, e := range pending {
		e := e
		g.Go(func() error {
			if err := e.subscriber.Initialize(block); err != nil {
				mu.Lock()
				failed[e.addressAndTopics.Address] = err
				mu.Unlock()
				metrics.SubscriberInitErrorInc(chain.CanonicalizeAddress(e.addressAndTopics.Address))
				return nil
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range pending {
		addr := e.addressAndTopics.Address
		if err, ok := failed[addr]; ok {
			r.log.Warnw("subscriber initialization failed, rescheduling", "address", chain.CanonicalizeAddress(addr), "error", err)
			r.waiting[addr] = struct{}{}
			continue
		}
		b := block
		e.initializedAt = &b
		e.lastSeenEventBlock = &b
		delete(r.waiting, addr)
	}

	return nil
}

// ApplyLogs dispatches each log to its subscriber in order, one at a
// time per spec section 4.E: causality inside a single subscriber's
// view must be preserved.
func (r *Registry) ApplyLogs(logs []chain.Log) {
	for _, l := range logs {
		r.mu.Lock()
		e, ok := r.entries[l.Address]
		r.mu.Unlock()
		if !ok {
			continue
		}

		e.subscriber.HandleLog(l)

		r.mu.Lock()
		b := chain.Block{Number: l.BlockNumber, Hash: l.BlockHash}
		e.lastSeenEventBlock = &b
		r.mu.Unlock()
	}
	if len(logs) > 0 {
		metrics.LogsDispatchedInc(len(logs))
	}
}

// RollbackSubscribers implements spec section 4.E's rollback dispatch
// rules: a subscriber whose own anchor was reorged away is
// rescheduled for re-initialization; one that merely saw now-invalid
// events is rolled back to targetBlock; one untouched by the fork is
// left alone.
func (r *Registry) RollbackSubscribers(targetBlock chain.Block) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for addr, e := range r.entries {
		switch {
		case e.initializedAt != nil && e.initializedAt.Number > targetBlock.Number:
			e.initializedAt = nil
			e.lastSeenEventBlock = nil
			r.waiting[addr] = struct{}{}
			r.log.Debugw("subscriber anchor reorged away, rescheduling init", "address", chain.CanonicalizeAddress(addr))
		case e.lastSeenEventBlock != nil && e.lastSeenEventBlock.Number > targetBlock.Number:
			e.subscriber.Rollback(targetBlock)
			b := targetBlock
			e.lastSeenEventBlock = &b
		default:
			// no-op
		}
	}
}

// String is used for diagnostic logging of a registry's size.
func (r *Registry) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("registry{subscribers=%d waiting=%d}", len(r.entries), len(r.waiting))
}
