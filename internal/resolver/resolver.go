// Package resolver implements the reorg resolver: given a suspected
// fork, it finds the deepest common ancestor between the chain cache
// and the remote canonical chain via a single batched lookup.
package resolver

import (
	"context"
	"time"

	"github.com/chainwatch/chainsub/internal/cache"
	"github.com/chainwatch/chainsub/internal/common"
	"github.com/chainwatch/chainsub/internal/logger"
	"github.com/chainwatch/chainsub/internal/metrics"
	"github.com/chainwatch/chainsub/pkg/chain"
	"github.com/chainwatch/chainsub/pkg/config"
	"github.com/chainwatch/chainsub/pkg/rpcclient"
)

// Resolver finds the deepest common ancestor between a chain cache and
// the remote canonical chain.
type Resolver struct {
	rpc   rpcclient.EthClient
	retry config.RetryPolicy
	log   *logger.Logger
}

// New constructs a Resolver bound to the given RPC backend and block
// retry policy.
func New(rpc rpcclient.EthClient, retry config.RetryPolicy, log *logger.Logger) *Resolver {
	metrics.ComponentHealthSet(common.ComponentResolver, true)
	return &Resolver{rpc: rpc, retry: retry, log: log.WithComponent(common.ComponentResolver)}
}

// FindCommonAncestor implements spec section 4.B. It returns
// chain.ErrNoCommonAncestor when the cache holds only a single entry or
// no hash match is found within the cache's depth, and
// chain.ErrMaxRetryReached (wrapping the last BatchGetBlocks error) when
// the batched block fetch exhausts its retry budget.
func (r *Resolver) FindCommonAncestor(ctx context.Context, c *cache.ChainCache) (chain.Block, error) {
	if c.Size() == 1 {
		return chain.Block{}, &chain.ErrNoCommonAncestor{CacheDepth: uint64(c.Size())}
	}

	blocks := c.Blocks()
	head := blocks[len(blocks)-1]

	batchSize := c.BatchSize()
	from := uint64(0)
	if head.Number > batchSize {
		from = head.Number - batchSize
	}

	remote, err := r.fetchBatchWithRetry(ctx, from, head.Number)
	if err != nil {
		return chain.Block{}, err
	}

	remoteByNumber := make(map[uint64]chain.Block, len(remote))
	for _, b := range remote {
		remoteByNumber[b.Number] = b
	}

	for i := len(blocks) - 1; i >= 0; i-- {
		local := blocks[i]
		remoteBlock, ok := remoteByNumber[local.Number]
		if !ok {
			continue
		}
		if remoteBlock.Hash == local.Hash {
			depth := head.Number - local.Number
			if depth > 0 {
				metrics.ReorgDetectedLog(depth)
			}
			return local, nil
		}
	}

	return chain.Block{}, &chain.ErrNoCommonAncestor{CacheDepth: uint64(c.Size())}
}

func (r *Resolver) fetchBatchWithRetry(ctx context.Context, from, to uint64) ([]chain.Block, error) {
	var result []chain.Block
	attempts := r.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Duration(r.retry.DelayMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		blocks, err := r.rpc.BatchGetBlocks(ctx, from, to)
		if err == nil {
			return blocks, nil
		}
		lastErr = err
		r.log.Warnw("batch block fetch failed during reorg resolution", "attempt", attempt, "error", err)

		if attempt >= attempts {
			break
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	metrics.ErrorsInc(common.ComponentResolver, "max_retry")
	return nil, &chain.ErrMaxRetryReached{Operation: "FindCommonAncestor.batchGetBlocks", Attempts: attempts, Cause: lastErr}
}
