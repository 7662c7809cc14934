// Package repair implements the chain repairer: it fetches and chains
// blocks between the cache's current head and a new target, verifying
// parent-hash continuity at every step.
package repair

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	chaincommon "github.com/chainwatch/chainsub/internal/common"

	"github.com/chainwatch/chainsub/internal/cache"
	"github.com/chainwatch/chainsub/internal/logger"
	"github.com/chainwatch/chainsub/internal/metrics"
	"github.com/chainwatch/chainsub/pkg/chain"
	"github.com/chainwatch/chainsub/pkg/config"
	"github.com/chainwatch/chainsub/pkg/rpcclient"
)

// Repairer fetches and chains blocks between a cache's head and a new
// target, retrying on transient failure and parent-hash mismatch.
type Repairer struct {
	rpc   rpcclient.EthClient
	retry config.RetryPolicy
	log   *logger.Logger
}

// New constructs a Repairer bound to the given RPC backend and block
// retry policy.
func New(rpc rpcclient.EthClient, retry config.RetryPolicy, log *logger.Logger) *Repairer {
	metrics.ComponentHealthSet(chaincommon.ComponentRepairer, true)
	return &Repairer{rpc: rpc, retry: retry, log: log.WithComponent(chaincommon.ComponentRepairer)}
}

// PopulateUntil implements spec section 4.C. It fetches [head+1,
// target.Number] and appends each block to c in order, verifying
// parent-hash continuity. announcedHash is substituted for the final
// batch entry's hash when the RPC returns a zero hash for it (the
// ZERO_HASH edge case): some batched block fetchers omit the hash of
// the absolute latest block.
func (r *Repairer) PopulateUntil(ctx context.Context, c *cache.ChainCache, target chain.Block, announcedHash common.Hash) error {
	attempts := r.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Duration(r.retry.DelayMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := r.populatePass(ctx, c, target, announcedHash)
		if err == nil {
			return nil
		}
		lastErr = err
		r.log.Warnw("chain repair pass failed", "attempt", attempt, "target", target.Number, "error", err)

		if attempt >= attempts {
			break
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	metrics.ErrorsInc(chaincommon.ComponentRepairer, "max_retry")
	return &chain.ErrMaxRetryReached{Operation: "PopulateUntil", Attempts: attempts, Cause: lastErr}
}

// FetchChunk retrieves [from, to] with the repairer's block retry
// policy, without touching any cache. Used by the ingest engine's
// batch path, which needs the raw chunk (including the from-1 parent
// lookup) before deciding how to reconcile it against the cache.
func (r *Repairer) FetchChunk(ctx context.Context, from, to uint64) ([]chain.Block, error) {
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
		r.log.Warnw("batch block fetch failed", "attempt", attempt, "from", from, "to", to, "error", err)

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

	metrics.ErrorsInc(chaincommon.ComponentRepairer, "max_retry")
	return nil, &chain.ErrMaxRetryReached{Operation: "FetchChunk", Attempts: attempts, Cause: lastErr}
}

func (r *Repairer) populatePass(ctx context.Context, c *cache.ChainCache, target chain.Block, announcedHash common.Hash) error {
	head := c.Head()
	if target.Number <= head.Number {
		return nil
	}

	blocks, err := r.rpc.BatchGetBlocks(ctx, head.Number+1, target.Number)
	if err != nil {
		return err
	}

	for i := range blocks {
		if blocks[i].Number == target.Number && blocks[i].Hash == (common.Hash{}) && announcedHash != (common.Hash{}) {
			blocks[i].Hash = announcedHash
		}
	}

	for _, b := range blocks {
		if err := c.Append(b); err != nil {
			return err
		}
	}
	return nil
}
