// Package logfetch implements the log fetcher: it retrieves logs for
// a block range against the currently subscribed address set, and
// detects mid-query reorgs by cross-checking each log's block hash
// against the chain cache.
package logfetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	chaincommon "github.com/chainwatch/chainsub/internal/common"

	"github.com/chainwatch/chainsub/internal/cache"
	"github.com/chainwatch/chainsub/internal/logger"
	"github.com/chainwatch/chainsub/internal/metrics"
	"github.com/chainwatch/chainsub/internal/repair"
	"github.com/chainwatch/chainsub/internal/resolver"
	"github.com/chainwatch/chainsub/pkg/chain"
	"github.com/chainwatch/chainsub/pkg/config"
	"github.com/chainwatch/chainsub/pkg/rpcclient"
)

// suppressedSubstrings are error substrings expected during reorgs;
// errors matching one are logged at debug rather than warn level.
var suppressedSubstrings = []string{
	"not processed yet",
	"cannot be found",
}

// Result is the outcome of a log query: the logs found, and, when a
// mid-query reorg was detected and resolved, the common ancestor
// subscribers must be rolled back to.
type Result struct {
	Logs           []chain.Log
	CommonAncestor *chain.Block
}

// Fetcher retrieves logs for a block range, verifying each log's
// block hash against the chain cache and re-resolving on mismatch.
type Fetcher struct {
	rpc      rpcclient.EthClient
	resolver *resolver.Resolver
	repairer *repair.Repairer
	retry    config.RetryPolicy
	timeout  time.Duration
	log      *logger.Logger
}

// New constructs a Fetcher bound to the given RPC backend, log retry
// policy, per-attempt timeout, and the resolver/repairer pair used to
// re-establish continuity on a mid-query reorg.
func New(rpc rpcclient.EthClient, retry config.RetryPolicy, timeout time.Duration, res *resolver.Resolver, rep *repair.Repairer, log *logger.Logger) *Fetcher {
	metrics.ComponentHealthSet(chaincommon.ComponentLogFetcher, true)
	return &Fetcher{
		rpc:      rpc,
		resolver: res,
		repairer: rep,
		retry:    retry,
		timeout:  timeout,
		log:      log.WithComponent(chaincommon.ComponentLogFetcher),
	}
}

// QueryLogs implements spec section 4.D. It requests logs in
// (from.Number, to.Number] for addresses, verifies each returned log's
// BlockHash against c, and on a mismatch re-resolves the common
// ancestor, re-chains the cache up to to, and retries from there.
func (f *Fetcher) QueryLogs(ctx context.Context, c *cache.ChainCache, addresses []common.Address, from, to chain.Block) (Result, error) {
	if len(addresses) == 0 {
		return Result{}, nil
	}

	fromInclusive := from.Number + 1
	toInclusive := to.Number
	if fromInclusive > toInclusive {
		return Result{}, nil
	}

	logs, err := f.fetchWithRetry(ctx, fromInclusive, toInclusive, addresses)
	if err != nil {
		return Result{}, err
	}

	for _, l := range logs {
		if l.BlockNumber < fromInclusive || l.BlockNumber > toInclusive {
			return Result{}, &chain.ErrFailedFetchingLogs{FromBlock: fromInclusive, ToBlock: toInclusive,
				Cause: fmt.Errorf("log references block %d outside the queried range", l.BlockNumber)}
		}
		cached, ok := c.Get(l.BlockNumber)
		if !ok || cached.Hash == l.BlockHash {
			continue
		}

		f.log.Warnw("log block hash mismatch against cache, resolving mid-query reorg",
			"block", l.BlockNumber, "cached_hash", cached.Hash.Hex(), "log_hash", l.BlockHash.Hex())

		ancestor, err := f.resolver.FindCommonAncestor(ctx, c)
		if err != nil {
			return Result{}, err
		}
		c.TruncateAbove(ancestor.Number)

		if err := f.repairer.PopulateUntil(ctx, c, to, common.Hash{}); err != nil {
			return Result{}, err
		}

		sub, err := f.QueryLogs(ctx, c, addresses, ancestor, to)
		if err != nil {
			return Result{}, err
		}
		if sub.CommonAncestor == nil {
			sub.CommonAncestor = &ancestor
		}
		return sub, nil
	}

	return Result{Logs: logs}, nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, fromInclusive, toInclusive uint64, addresses []common.Address) ([]chain.Log, error) {
	attempts := f.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Duration(f.retry.DelayMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if f.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, f.timeout)
		}
		logs, err := f.rpc.GetLogs(callCtx, fromInclusive, toInclusive, addresses)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return logs, nil
		}

		lastErr = err
		if suppressed(err) {
			f.log.Debugw("log fetch failed (suppressed, expected during reorg)", "attempt", attempt, "error", err)
		} else {
			f.log.Warnw("log fetch failed", "attempt", attempt, "error", err)
		}

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

	metrics.ErrorsInc(chaincommon.ComponentLogFetcher, "max_retry")
	return nil, &chain.ErrFailedFetchingLogs{FromBlock: fromInclusive, ToBlock: toInclusive, Cause: lastErr}
}

func suppressed(err error) bool {
	msg := err.Error()
	for _, s := range suppressedSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
