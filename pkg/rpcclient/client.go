// Package rpcclient defines the upstream RPC contract the core engine
// depends on: block lookups (single and batched) and log queries.
package rpcclient

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/chainwatch/chainsub/pkg/chain"
)

// EthClient is the RPC backend contract described in spec section 6.
// Implementations are free to add retry, batching, and metrics
// instrumentation; the engine only ever calls through this interface.
type EthClient interface {
	// Close releases any underlying connection resources.
	Close()

	// GetBlock retrieves a single block by number.
	GetBlock(ctx context.Context, number uint64) (chain.Block, error)

	// BatchGetBlocks retrieves an ordered, inclusive range of blocks
	// using batched round-trips.
	BatchGetBlocks(ctx context.Context, from, to uint64) ([]chain.Block, error)

	// GetLogs retrieves logs in the inclusive range [fromInclusive,
	// toInclusive] for the given addresses, in ascending
	// (blockNumber, logIndex) order. An empty address set must return
	// an empty slice without making a network call.
	GetLogs(ctx context.Context, fromInclusive, toInclusive uint64, addresses []common.Address) ([]chain.Log, error)

	// GetLatestBlockHeader retrieves the chain head as announced by
	// the node. Used by block sources, not by the core engine itself.
	GetLatestBlockHeader(ctx context.Context) (chain.Block, error)
}
