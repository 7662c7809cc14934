// Package rpctest provides a hand-written fake implementing
// rpcclient.EthClient for unit tests across the engine's packages, in
// place of the generated mocks the teacher's test suite relies on.
package rpctest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainwatch/chainsub/pkg/chain"
)

// FakeClient is an in-memory EthClient keyed by block number, with
// optional per-call error injection and call counting.
type FakeClient struct {
	mu sync.Mutex

	Blocks map[uint64]chain.Block
	Logs   []chain.Log

	GetBlockErr       error
	BatchGetBlocksErr error
	GetLogsErr        error

	GetBlockCalls       int
	BatchGetBlocksCalls int
	GetLogsCalls        int

	// FailBatchGetBlocksTimes causes the first N calls to
	// BatchGetBlocks to fail with BatchGetBlocksErr (or a default
	// error), then succeed.
	FailBatchGetBlocksTimes int
}

// NewFakeClient constructs an empty fake client.
func NewFakeClient() *FakeClient {
	return &FakeClient{Blocks: make(map[uint64]chain.Block)}
}

func (f *FakeClient) Close() {}

func (f *FakeClient) GetBlock(ctx context.Context, number uint64) (chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetBlockCalls++

	if f.GetBlockErr != nil {
		return chain.Block{}, f.GetBlockErr
	}
	b, ok := f.Blocks[number]
	if !ok {
		return chain.Block{}, &chain.ErrBlockNotFound{Number: number}
	}
	return b, nil
}

func (f *FakeClient) BatchGetBlocks(ctx context.Context, from, to uint64) ([]chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BatchGetBlocksCalls++

	if f.BatchGetBlocksCalls <= f.FailBatchGetBlocksTimes {
		if f.BatchGetBlocksErr != nil {
			return nil, f.BatchGetBlocksErr
		}
		return nil, fmt.Errorf("injected batch failure")
	}
	if f.BatchGetBlocksErr != nil {
		return nil, f.BatchGetBlocksErr
	}

	var out []chain.Block
	for n := from; n <= to; n++ {
		if b, ok := f.Blocks[n]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *FakeClient) GetLogs(ctx context.Context, fromInclusive, toInclusive uint64, addresses []common.Address) ([]chain.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetLogsCalls++

	if len(addresses) == 0 {
		return nil, nil
	}
	if f.GetLogsErr != nil {
		return nil, f.GetLogsErr
	}

	addrSet := make(map[common.Address]struct{}, len(addresses))
	for _, a := range addresses {
		addrSet[a] = struct{}{}
	}

	var out []chain.Log
	for _, l := range f.Logs {
		if l.BlockNumber < fromInclusive || l.BlockNumber > toInclusive {
			continue
		}
		if _, ok := addrSet[l.Address]; !ok {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *FakeClient) GetLatestBlockHeader(ctx context.Context) (chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var latest chain.Block
	found := false
	for _, b := range f.Blocks {
		if !found || b.Number > latest.Number {
			latest = b
			found = true
		}
	}
	if !found {
		return chain.Block{}, &chain.ErrBlockNotFound{}
	}
	return latest, nil
}

// SetBlock registers block b under its own number, for convenient
// chain construction in tests.
func (f *FakeClient) SetBlock(b chain.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Blocks[b.Number] = b
}
