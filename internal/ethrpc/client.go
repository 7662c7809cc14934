// Package ethrpc implements the upstream RPC contract against a live
// go-ethereum JSON-RPC endpoint, with batching and retry instrumentation.
package ethrpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/chainwatch/chainsub/pkg/chain"
	"github.com/chainwatch/chainsub/pkg/config"
	"github.com/chainwatch/chainsub/pkg/rpcclient"
)

// Compile-time check to ensure Client implements rpcclient.EthClient.
var _ rpcclient.EthClient = (*Client)(nil)

// Client wraps the go-ethereum RPC client with the retry and batching
// behavior the engine's two retry budgets require.
type Client struct {
	eth         *ethclient.Client
	rpc         *rpc.Client
	blockRetry  config.RetryPolicy
	logRetry    config.RetryPolicy
	logsTimeout time.Duration
}

// NewClient creates a new RPC client connected to the given endpoint.
func NewClient(ctx context.Context, endpoint string, cfg *config.Config) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &Client{
		eth:         ethclient.NewClient(rpcClient),
		rpc:         rpcClient,
		blockRetry:  cfg.BlockRetryPolicy(),
		logRetry:    cfg.LogRetryPolicy(),
		logsTimeout: time.Duration(cfg.Engine.GetLogsTimeoutMs) * time.Millisecond,
	}, nil
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// GetBlock retrieves a single block header by number.
func (c *Client) GetBlock(ctx context.Context, number uint64) (chain.Block, error) {
	start := time.Now()
	RPCMethodInc("eth_getBlockByNumber")
	defer func() { RPCMethodDuration("eth_getBlockByNumber", time.Since(start)) }()

	var header *types.Header
	err := retryWithBackoff(ctx, c.blockRetry, "eth_getBlockByNumber", func() error {
		var fetchErr error
		header, fetchErr = c.eth.HeaderByNumber(ctx, big.NewInt(int64(number)))
		return fetchErr
	})
	if err != nil {
		RPCMethodError("eth_getBlockByNumber", "error")
		return chain.Block{}, &chain.ErrBlockNotFound{Number: number}
	}

	return headerToBlock(header), nil
}

// BatchGetBlocks retrieves an inclusive range of blocks in chunked batch
// calls, ordered ascending by number.
func (c *Client) BatchGetBlocks(ctx context.Context, from, to uint64) ([]chain.Block, error) {
	if to < from {
		return nil, fmt.Errorf("invalid range: from=%d > to=%d", from, to)
	}

	numbers := make([]uint64, 0, to-from+1)
	for n := from; n <= to; n++ {
		numbers = append(numbers, n)
	}

	const maxBatch = 100
	blocks := make([]chain.Block, 0, len(numbers))

	start := time.Now()
	RPCMethodInc("eth_getBlockByNumber_batch")
	defer func() { RPCMethodDuration("eth_getBlockByNumber_batch", time.Since(start)) }()

	for i := 0; i < len(numbers); i += maxBatch {
		end := min(i+maxBatch, len(numbers))
		chunk := numbers[i:end]

		var chunkResults []*types.Header
		err := retryWithBackoff(ctx, c.blockRetry, "eth_getBlockByNumber_batch", func() error {
			batch := make([]rpc.BatchElem, len(chunk))
			chunkResults = make([]*types.Header, len(chunk))

			for j, n := range chunk {
				batch[j] = rpc.BatchElem{
					Method: "eth_getBlockByNumber",
					Args:   []any{toBlockNumArg(n), false},
					Result: &chunkResults[j],
				}
			}

			if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
				return err
			}
			for _, elem := range batch {
				if elem.Error != nil {
					return elem.Error
				}
			}
			return nil
		})
		if err != nil {
			RPCMethodError("eth_getBlockByNumber_batch", "error")
			return nil, &chain.ErrMaxRetryReached{Operation: "BatchGetBlocks", Attempts: c.blockRetry.MaxAttempts, Cause: err}
		}

		for _, h := range chunkResults {
			if h == nil {
				return nil, &chain.ErrBlockNotFound{}
			}
			blocks = append(blocks, headerToBlock(h))
		}
	}

	return blocks, nil
}

// GetLogs retrieves logs in the inclusive range for the given addresses.
// An empty address set returns an empty slice without a network call.
func (c *Client) GetLogs(ctx context.Context, fromInclusive, toInclusive uint64, addresses []common.Address) ([]chain.Log, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	if c.logsTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.logsTimeout)
		defer cancel()
	}

	start := time.Now()
	RPCMethodInc("eth_getLogs")
	defer func() { RPCMethodDuration("eth_getLogs", time.Since(start)) }()

	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(int64(fromInclusive)),
		ToBlock:   big.NewInt(int64(toInclusive)),
		Addresses: addresses,
	}

	var logs []types.Log
	err := retryWithBackoff(ctx, c.logRetry, "eth_getLogs", func() error {
		var fetchErr error
		logs, fetchErr = c.eth.FilterLogs(ctx, query)
		return fetchErr
	})
	if err != nil {
		RPCMethodError("eth_getLogs", "error")
		return nil, &chain.ErrFailedFetchingLogs{FromBlock: fromInclusive, ToBlock: toInclusive, Cause: err}
	}

	result := make([]chain.Log, 0, len(logs))
	for _, l := range logs {
		result = append(result, logToChainLog(l))
	}
	return result, nil
}

// GetLatestBlockHeader retrieves the chain head as announced by the node.
func (c *Client) GetLatestBlockHeader(ctx context.Context) (chain.Block, error) {
	start := time.Now()
	RPCMethodInc("eth_getBlockByNumber")
	defer func() { RPCMethodDuration("eth_getBlockByNumber", time.Since(start)) }()

	var header *types.Header
	err := retryWithBackoff(ctx, c.blockRetry, "eth_getBlockByNumber", func() error {
		var fetchErr error
		header, fetchErr = c.eth.HeaderByNumber(ctx, nil)
		return fetchErr
	})
	if err != nil {
		RPCMethodError("eth_getBlockByNumber", "error")
		return chain.Block{}, &chain.ErrMaxRetryReached{Operation: "GetLatestBlockHeader", Attempts: c.blockRetry.MaxAttempts, Cause: err}
	}

	return headerToBlock(header), nil
}

func headerToBlock(h *types.Header) chain.Block {
	return chain.Block{
		Number:     h.Number.Uint64(),
		Hash:       h.Hash(),
		ParentHash: h.ParentHash,
	}
}

func logToChainLog(l types.Log) chain.Log {
	return chain.Log{
		BlockNumber:      l.BlockNumber,
		BlockHash:        l.BlockHash,
		TransactionHash:  l.TxHash,
		TransactionIndex: l.TxIndex,
		LogIndex:         l.Index,
		Address:          l.Address,
		Topics:           l.Topics,
		Data:             l.Data,
		Removed:          l.Removed,
	}
}

// toBlockNumArg converts a block number to hex format.
func toBlockNumArg(blockNum uint64) string {
	return fmt.Sprintf("0x%x", blockNum)
}
