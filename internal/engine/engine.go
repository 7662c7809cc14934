// Package engine implements the block ingest engine: the top-level
// state machine that classifies incoming headers, orchestrates the
// reorg resolver, chain repairer and log fetcher, and drives the
// subscription registry.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	chaincommon "github.com/chainwatch/chainsub/internal/common"

	"github.com/chainwatch/chainsub/internal/cache"
	"github.com/chainwatch/chainsub/internal/logfetch"
	"github.com/chainwatch/chainsub/internal/logger"
	"github.com/chainwatch/chainsub/internal/metrics"
	"github.com/chainwatch/chainsub/internal/registry"
	"github.com/chainwatch/chainsub/internal/repair"
	"github.com/chainwatch/chainsub/internal/resolver"
	"github.com/chainwatch/chainsub/pkg/chain"
	"github.com/chainwatch/chainsub/pkg/config"
	"github.com/chainwatch/chainsub/pkg/subscriber"
)

// Outcome reports the effect of handling a single incoming block: the
// logs dispatched to subscribers and, when a fork was encountered, the
// block subscribers were rolled back to.
type Outcome struct {
	Logs     []chain.Log
	Rollback *chain.Block
}

// Engine is the ingest state machine. A single mutex around HandleBlock
// guarantees total ordering of block handling per spec section 5, even
// though the underlying RPC calls suspend the goroutine mid-pass.
type Engine struct {
	mu sync.Mutex

	cache    *cache.ChainCache
	resolver *resolver.Resolver
	repairer *repair.Repairer
	fetcher  *logfetch.Fetcher
	registry *registry.Registry
	cfg      *config.Config
	log      *logger.Logger

	queue *Queue
}

// New constructs an Engine over c, which already holds its anchor block.
func New(c *cache.ChainCache, res *resolver.Resolver, rep *repair.Repairer, fetcher *logfetch.Fetcher, reg *registry.Registry, cfg *config.Config, log *logger.Logger) *Engine {
	e := &Engine{
		cache:    c,
		resolver: res,
		repairer: rep,
		fetcher:  fetcher,
		registry: reg,
		cfg:      cfg,
		log:      log.WithComponent(chaincommon.ComponentEngine),
	}
	metrics.ComponentHealthSet(chaincommon.ComponentEngine, true)
	e.queue = NewQueue(func(ctx context.Context, b chain.Block) {
		if _, err := e.HandleBlock(ctx, b); err != nil {
			e.log.Errorw("failed handling queued block", "number", b.Number, "error", err)
			metrics.ErrorsInc(chaincommon.ComponentEngine, "handle_block")
		}
	})
	return e
}

// Enqueue hands a newly observed header to the ingest queue. Safe to
// call concurrently with HandleBlock and with itself; ordering of
// delivery to HandleBlock is preserved by the queue's single drainer.
func (e *Engine) Enqueue(ctx context.Context, b chain.Block) {
	e.queue.Push(ctx, b)
}

// Subscribe implements spec section 4.F: it registers sub for
// addressAndTopics and immediately attempts initialization against the
// current head. The registry is mutated exclusively under e.mu, the
// same lock HandleBlock holds, so a subscription can never race a
// concurrent block ingest.
func (e *Engine) Subscribe(ctx context.Context, addressAndTopics chain.AddressAndTopics, sub subscriber.Subscriber) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.registry.SubscribeToLogs(addressAndTopics, sub)
	return e.registry.HandleSubscribersInitialize(ctx, e.cache.Head())
}

// QueueLength reports the number of headers currently waiting to be
// drained, for diagnostics.
func (e *Engine) QueueLength() int {
	return e.queue.Len()
}

// HandleBlock implements spec section 4.E: it classifies newBlock
// against the current cache head and dispatches to the matching path.
func (e *Engine) HandleBlock(ctx context.Context, newBlock chain.Block) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	defer func() { metrics.IngestBatchDurationLog(time.Since(start)) }()

	head := e.cache.Head()

	if cached, ok := e.cache.Get(newBlock.Number); ok && cached.Hash == newBlock.Hash {
		metrics.BlockIngestedInc("duplicate")
		return Outcome{}, nil
	}

	switch {
	case newBlock.Number > head.Number+1:
		metrics.BlockIngestedInc("gap")
		return e.batchPath(ctx, newBlock)
	case newBlock.Number == head.Number+1 && newBlock.ParentHash != head.Hash:
		metrics.BlockIngestedInc("reorg")
		return e.reorgPath(ctx, newBlock)
	default:
		metrics.BlockIngestedInc("successor")
		return e.normalPath(ctx, newBlock)
	}
}

// normalPath implements spec section 4.E.3.
func (e *Engine) normalPath(ctx context.Context, newBlock chain.Block) (Outcome, error) {
	head := e.cache.Head()

	result, err := e.fetcher.QueryLogs(ctx, e.cache, e.registry.Addresses(), head, newBlock)
	if err != nil {
		return Outcome{}, err
	}

	var rollback *chain.Block
	if result.CommonAncestor != nil {
		rollback = result.CommonAncestor
		e.cache.TruncateAbove(rollback.Number)
		e.registry.RollbackSubscribers(*rollback)
	} else if err := e.cache.Append(newBlock); err != nil {
		return Outcome{}, err
	}

	e.registry.ApplyLogs(result.Logs)
	if err := e.registry.HandleSubscribersInitialize(ctx, e.cache.Head()); err != nil {
		return Outcome{}, err
	}

	return Outcome{Logs: result.Logs, Rollback: rollback}, nil
}

// reorgPath implements spec section 4.E.2.
func (e *Engine) reorgPath(ctx context.Context, newBlock chain.Block) (Outcome, error) {
	ancestor, err := e.resolver.FindCommonAncestor(ctx, e.cache)
	if err != nil {
		var noAncestor *chain.ErrNoCommonAncestor
		if errors.As(err, &noAncestor) {
			e.cache.Anchor(newBlock)
			e.registry.RollbackSubscribers(newBlock)
			if ierr := e.registry.HandleSubscribersInitialize(ctx, newBlock); ierr != nil {
				return Outcome{}, ierr
			}
			return Outcome{Rollback: &newBlock}, nil
		}
		return Outcome{}, err
	}

	e.cache.TruncateAbove(ancestor.Number)
	if err := e.repairer.PopulateUntil(ctx, e.cache, newBlock, newBlock.Hash); err != nil {
		return Outcome{}, err
	}

	result, err := e.fetcher.QueryLogs(ctx, e.cache, e.registry.Addresses(), ancestor, newBlock)
	if err != nil {
		return Outcome{}, err
	}

	deepest := ancestor
	if result.CommonAncestor != nil && result.CommonAncestor.Number < deepest.Number {
		deepest = *result.CommonAncestor
		e.cache.TruncateAbove(deepest.Number)
	}

	e.registry.RollbackSubscribers(deepest)
	e.registry.ApplyLogs(result.Logs)
	if err := e.registry.HandleSubscribersInitialize(ctx, e.cache.Head()); err != nil {
		return Outcome{}, err
	}

	metrics.ChainRepairInc()
	return Outcome{Logs: result.Logs, Rollback: &deepest}, nil
}

// batchPath implements spec section 4.E.1: it walks from head+1 toward
// newBlock.Number in chunks of at most batchSize.
func (e *Engine) batchPath(ctx context.Context, newBlock chain.Block) (Outcome, error) {
	var allLogs []chain.Log
	var rollback *chain.Block
	batchSize := e.cache.BatchSize()
	delay := time.Duration(e.cfg.Engine.RetryDelayGetBlockMs) * time.Millisecond

	for {
		head := e.cache.Head()
		if head.Number >= newBlock.Number {
			break
		}

		from := head.Number + 1
		to := from + batchSize - 1
		if to > newBlock.Number {
			to = newBlock.Number
		}

		raw, err := e.repairer.FetchChunk(ctx, from-1, to)
		if err != nil {
			return Outcome{}, err
		}

		var chunkBlocks []chain.Block
		for _, b := range raw {
			if b.Number >= from {
				chunkBlocks = append(chunkBlocks, b)
			}
		}
		if len(chunkBlocks) == 0 {
			return Outcome{}, &chain.ErrBlockNotFound{Number: from}
		}
		if chunkBlocks[len(chunkBlocks)-1].Number == newBlock.Number && chunkBlocks[len(chunkBlocks)-1].Hash == (common.Hash{}) {
			chunkBlocks[len(chunkBlocks)-1].Hash = newBlock.Hash
		}

		if head.Hash != chunkBlocks[0].ParentHash {
			ancestor, err := e.resolver.FindCommonAncestor(ctx, e.cache)
			if err != nil {
				var noAncestor *chain.ErrNoCommonAncestor
				if errors.As(err, &noAncestor) {
					e.cache.Anchor(newBlock)
					e.registry.RollbackSubscribers(newBlock)
					rollback = &newBlock
					break
				}
				return Outcome{}, err
			}
			e.cache.TruncateAbove(ancestor.Number)
			toBlock := chunkBlocks[len(chunkBlocks)-1]
			if err := e.repairer.PopulateUntil(ctx, e.cache, toBlock, newBlock.Hash); err != nil {
				return Outcome{}, err
			}

			result, err := e.fetcher.QueryLogs(ctx, e.cache, e.registry.Addresses(), ancestor, toBlock)
			if err != nil {
				return Outcome{}, err
			}
			deepest := ancestor
			if result.CommonAncestor != nil && result.CommonAncestor.Number < deepest.Number {
				deepest = *result.CommonAncestor
				e.cache.TruncateAbove(deepest.Number)
			}
			e.registry.RollbackSubscribers(deepest)
			rollback = &deepest
			e.registry.ApplyLogs(result.Logs)
			allLogs = append(allLogs, result.Logs...)
		} else {
			toBlock := chunkBlocks[len(chunkBlocks)-1]
			result, err := e.fetcher.QueryLogs(ctx, e.cache, e.registry.Addresses(), head, toBlock)
			if err != nil {
				return Outcome{}, err
			}
			if result.CommonAncestor != nil {
				e.cache.TruncateAbove(result.CommonAncestor.Number)
				e.registry.RollbackSubscribers(*result.CommonAncestor)
				rollback = result.CommonAncestor
			} else {
				for _, b := range chunkBlocks {
					if err := e.cache.Append(b); err != nil {
						return Outcome{}, err
					}
				}
			}
			e.registry.ApplyLogs(result.Logs)
			allLogs = append(allLogs, result.Logs...)
		}

		if err := e.registry.HandleSubscribersInitialize(ctx, e.cache.Head()); err != nil {
			return Outcome{}, err
		}

		if e.cache.Head().Number < newBlock.Number && delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Outcome{}, ctx.Err()
			}
		}
	}

	return Outcome{Logs: allLogs, Rollback: rollback}, nil
}
