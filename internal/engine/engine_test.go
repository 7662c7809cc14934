package engine

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/chainsub/internal/cache"
	"github.com/chainwatch/chainsub/internal/logfetch"
	"github.com/chainwatch/chainsub/internal/logger"
	"github.com/chainwatch/chainsub/internal/registry"
	"github.com/chainwatch/chainsub/internal/repair"
	"github.com/chainwatch/chainsub/internal/resolver"
	"github.com/chainwatch/chainsub/internal/rpctest"
	"github.com/chainwatch/chainsub/pkg/chain"
	"github.com/chainwatch/chainsub/pkg/config"
)

func hash(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func block(n uint64, h, parent byte) chain.Block {
	return chain.Block{Number: n, Hash: hash(h), ParentHash: hash(parent)}
}

func newTestEngine(t *testing.T, fake *rpctest.FakeClient, maxBlockCached, batchSize uint64, anchor chain.Block) *Engine {
	t.Helper()
	log := logger.NewNopLogger()
	c, err := cache.NewChainCache(maxBlockCached, batchSize, anchor, log)
	require.NoError(t, err)

	retry := config.RetryPolicy{MaxAttempts: 2, DelayMs: 1}
	res := resolver.New(fake, retry, log)
	rep := repair.New(fake, retry, log)
	fetcher := logfetch.New(fake, retry, 0, res, rep, log)
	reg := registry.New(log)

	cfg := &config.Config{Engine: config.EngineConfig{
		MaxBlockCached:       maxBlockCached,
		BatchSize:            batchSize,
		MaxRetryGetBlock:     2,
		RetryDelayGetBlockMs: 0,
	}}

	return New(c, res, rep, fetcher, reg, cfg, log)
}

func TestHandleBlock_LinearAdvance(t *testing.T) {
	fake := rpctest.NewFakeClient()
	e := newTestEngine(t, fake, 10, 10, block(100, 1, 0))

	out, err := e.HandleBlock(context.Background(), block(101, 2, 1))
	require.NoError(t, err)
	require.Nil(t, out.Rollback)
	require.Equal(t, uint64(101), e.cache.Head().Number)
}

func TestHandleBlock_DuplicateIsNoOp(t *testing.T) {
	fake := rpctest.NewFakeClient()
	e := newTestEngine(t, fake, 10, 10, block(100, 1, 0))
	require.NoError(t, must(e.HandleBlock(context.Background(), block(101, 2, 1))))

	out, err := e.HandleBlock(context.Background(), block(101, 2, 1))
	require.NoError(t, err)
	require.Nil(t, out.Logs)
	require.Nil(t, out.Rollback)
	require.Equal(t, uint64(101), e.cache.Head().Number)
}

func TestHandleBlock_OneBlockReorg(t *testing.T) {
	fake := rpctest.NewFakeClient()
	e := newTestEngine(t, fake, 10, 10, block(100, 1, 0))
	require.NoError(t, must(e.HandleBlock(context.Background(), block(101, 2, 1))))

	// The remote chain diverged at 101: the resolver must walk back to
	// the shared ancestor at 100, then the repairer re-chains forward
	// along the new branch to 102.
	fake.SetBlock(block(100, 1, 0))
	fake.SetBlock(block(101, 9, 1))
	fake.SetBlock(block(102, 10, 9))

	out, err := e.HandleBlock(context.Background(), block(102, 10, 9))
	require.NoError(t, err)
	require.NotNil(t, out.Rollback)
	require.Equal(t, uint64(100), out.Rollback.Number)
	require.Equal(t, uint64(102), e.cache.Head().Number)
	require.Equal(t, hash(10), e.cache.Head().Hash)
}

func TestHandleBlock_DeepReorgBeyondCacheReinitializes(t *testing.T) {
	fake := rpctest.NewFakeClient()
	e := newTestEngine(t, fake, 2, 2, block(100, 1, 0))
	require.NoError(t, must(e.HandleBlock(context.Background(), block(101, 2, 1))))

	// Cache now holds only [100,101]; a fork at 102 whose remote view
	// shares nothing with the cache forces a fresh anchor.
	fake.SetBlock(block(100, 77, 0))
	fake.SetBlock(block(101, 78, 77))

	out, err := e.HandleBlock(context.Background(), block(102, 9, 9))
	require.NoError(t, err)
	require.NotNil(t, out.Rollback)
	require.Equal(t, uint64(102), out.Rollback.Number)
	require.Equal(t, 1, e.cache.Size(), "cache must be reset to a single anchor")
}

func TestHandleBlock_GapFill(t *testing.T) {
	fake := rpctest.NewFakeClient()
	e := newTestEngine(t, fake, 10, 10, block(100, 1, 0))

	fake.SetBlock(block(100, 1, 0))
	fake.SetBlock(block(101, 2, 1))
	fake.SetBlock(block(102, 3, 2))
	fake.SetBlock(block(103, 4, 3))

	out, err := e.HandleBlock(context.Background(), block(103, 4, 3))
	require.NoError(t, err)
	require.Nil(t, out.Rollback)
	require.Equal(t, uint64(103), e.cache.Head().Number)
}

func TestHandleBlock_AppliesLogsToSubscriber(t *testing.T) {
	fake := rpctest.NewFakeClient()
	e := newTestEngine(t, fake, 10, 10, block(100, 1, 0))

	sub := &recordingSubscriber{}
	require.NoError(t, e.Subscribe(context.Background(), chain.AddressAndTopics{Address: addr(1)}, sub))

	fake.Logs = []chain.Log{
		{BlockNumber: 101, BlockHash: hash(2), Address: addr(1), LogIndex: 0},
	}

	out, err := e.HandleBlock(context.Background(), block(101, 2, 1))
	require.NoError(t, err)
	require.Len(t, out.Logs, 1)
	require.Len(t, sub.logs, 1)
}

func TestHandleBlock_MidQueryReorgOnAlreadyCachedLog(t *testing.T) {
	fake := rpctest.NewFakeClient()
	e := newTestEngine(t, fake, 10, 10, block(100, 1, 0))
	require.NoError(t, must(e.HandleBlock(context.Background(), block(101, 2, 1))))

	// A log for the already-cached block 101 now disagrees with the
	// cache: the chain was reorged since that block was appended.
	fake.Logs = []chain.Log{
		{BlockNumber: 101, BlockHash: hash(99), Address: addr(1), LogIndex: 0},
	}
	fake.SetBlock(block(100, 1, 0))
	fake.SetBlock(block(101, 99, 1))

	result, err := e.fetcher.QueryLogs(context.Background(), e.cache, []common.Address{addr(1)}, block(100, 1, 0), block(102, 3, 99))
	require.NoError(t, err)
	require.NotNil(t, result.CommonAncestor)
	require.Equal(t, uint64(100), result.CommonAncestor.Number)
}

type recordingSubscriber struct {
	logs []chain.Log
}

func (s *recordingSubscriber) Initialize(chain.Block) error { return nil }
func (s *recordingSubscriber) HandleLog(l chain.Log)        { s.logs = append(s.logs, l) }
func (s *recordingSubscriber) Rollback(chain.Block)         {}

func must(out Outcome, err error) error { return err }
