// Package cache implements the chain cache: a bounded, append-only
// window of recent canonical blocks keyed by ascending block number.
package cache

import (
	"fmt"
	"sync"

	"github.com/chainwatch/chainsub/internal/common"
	"github.com/chainwatch/chainsub/internal/logger"
	"github.com/chainwatch/chainsub/internal/metrics"
	"github.com/chainwatch/chainsub/pkg/chain"
)

// ChainCache holds a contiguous suffix of the canonical chain, bounded
// to maxBlockCached entries. Each method locks internally, but a
// sequence of calls is not atomic; callers (the ingest engine)
// serialize whole passes via their own mutex.
type ChainCache struct {
	mu sync.RWMutex

	maxBlockCached uint64
	batchSize      uint64
	blocks         []chain.Block // ascending by Number, contiguous parent-hash chain

	log *logger.Logger
}

// NewChainCache constructs a cache anchored at anchor. It rejects
// maxBlockCached > batchSize per invariant C3's constructor
// requirement: the reorg resolver fetches one full batch per pass and
// must be able to scan the entire cache against it.
func NewChainCache(maxBlockCached, batchSize uint64, anchor chain.Block, log *logger.Logger) (*ChainCache, error) {
	if maxBlockCached < 1 {
		return nil, fmt.Errorf("maxBlockCached must be >= 1")
	}
	if maxBlockCached > batchSize {
		return nil, fmt.Errorf("maxBlockCached (%d) must be <= batchSize (%d)", maxBlockCached, batchSize)
	}

	c := &ChainCache{
		maxBlockCached: maxBlockCached,
		batchSize:      batchSize,
		blocks:         []chain.Block{anchor},
		log:            log.WithComponent(common.ComponentCache),
	}
	metrics.ComponentHealthSet(common.ComponentCache, true)
	c.reportMetrics()
	return c, nil
}

// Anchor resets the cache to a single entry, used on (re-)initialize.
func (c *ChainCache) Anchor(block chain.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks = []chain.Block{block}
	c.log.Debugw("cache anchored", "number", block.Number, "hash", block.Hash.Hex())
	c.reportMetricsLocked()
}

// Append adds block onto the head of the cache. It requires
// block.ParentHash == head.Hash; violating this is a programmer error
// that must fail loudly — here, a returned ErrParentMismatch rather
// than a panic, since the cache must not crash a long-running process.
func (c *ChainCache) Append(block chain.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	head := c.blocks[len(c.blocks)-1]
	if block.ParentHash != head.Hash {
		err := &chain.ErrParentMismatch{
			HeadHash:       head.Hash.Hex(),
			GotParentHash:  block.ParentHash.Hex(),
			IncomingNumber: block.Number,
		}
		c.log.Errorw("parent hash mismatch appending to chain cache", "error", err)
		return err
	}

	c.blocks = append(c.blocks, block)

	if uint64(len(c.blocks)) > c.maxBlockCached {
		evicted := c.blocks[0]
		c.blocks = c.blocks[1:]
		c.log.Debugw("evicted block from chain cache", "number", evicted.Number)
	}

	c.reportMetricsLocked()
	return nil
}

// TruncateAbove drops every cached entry with Number > n.
func (c *ChainCache) TruncateAbove(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cut := len(c.blocks)
	for i, b := range c.blocks {
		if b.Number > n {
			cut = i
			break
		}
	}
	c.blocks = c.blocks[:cut]
	c.reportMetricsLocked()
}

// Get returns the cached block at number n, if present.
func (c *ChainCache) Get(n uint64) (chain.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, b := range c.blocks {
		if b.Number == n {
			return b, true
		}
	}
	return chain.Block{}, false
}

// Head returns the cache's current head: the entry with maximum number.
func (c *ChainCache) Head() chain.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.blocks[len(c.blocks)-1]
}

// Size returns the number of entries currently cached.
func (c *ChainCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.blocks)
}

// MaxBlockCached returns the cache's configured retention depth.
func (c *ChainCache) MaxBlockCached() uint64 {
	return c.maxBlockCached
}

// BatchSize returns the cache's configured RPC batch width.
func (c *ChainCache) BatchSize() uint64 {
	return c.batchSize
}

// Blocks returns a snapshot copy of the cached blocks in ascending
// order, for callers (the reorg resolver) that need to walk the full
// window.
func (c *ChainCache) Blocks() []chain.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]chain.Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

func (c *ChainCache) reportMetrics() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.reportMetricsLocked()
}

func (c *ChainCache) reportMetricsLocked() {
	metrics.SetCacheDepth(uint64(len(c.blocks)))
	metrics.SetCacheHead(c.blocks[len(c.blocks)-1].Number)
}
