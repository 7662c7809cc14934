package resolver

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/chainsub/internal/cache"
	"github.com/chainwatch/chainsub/internal/logger"
	"github.com/chainwatch/chainsub/internal/rpctest"
	"github.com/chainwatch/chainsub/pkg/chain"
	"github.com/chainwatch/chainsub/pkg/config"
)

func hash(b byte) common.Hash {
	var h common.Hash
	h[31] = b
	return h
}

func block(n uint64, h, parent byte) chain.Block {
	return chain.Block{Number: n, Hash: hash(h), ParentHash: hash(parent)}
}

func buildCache(t *testing.T, blocks ...chain.Block) *cache.ChainCache {
	t.Helper()
	c, err := cache.NewChainCache(uint64(len(blocks)), uint64(len(blocks)), blocks[0], logger.NewNopLogger())
	require.NoError(t, err)
	for _, b := range blocks[1:] {
		require.NoError(t, c.Append(b))
	}
	return c
}

func TestFindCommonAncestor_SingleEntryCache(t *testing.T) {
	c := buildCache(t, block(100, 1, 0))
	r := New(rpctest.NewFakeClient(), config.RetryPolicy{MaxAttempts: 1}, logger.NewNopLogger())

	_, err := r.FindCommonAncestor(context.Background(), c)
	require.Error(t, err)
	var noAncestor *chain.ErrNoCommonAncestor
	require.ErrorAs(t, err, &noAncestor)
}

func TestFindCommonAncestor_FindsMatchAtHead(t *testing.T) {
	c := buildCache(t, block(100, 1, 0), block(101, 2, 1), block(102, 3, 2))

	fake := rpctest.NewFakeClient()
	fake.SetBlock(block(100, 1, 0))
	fake.SetBlock(block(101, 2, 1))
	fake.SetBlock(block(102, 3, 2)) // identical to cache: common ancestor is head

	r := New(fake, config.RetryPolicy{MaxAttempts: 1}, logger.NewNopLogger())
	ancestor, err := r.FindCommonAncestor(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, uint64(102), ancestor.Number)
}

func TestFindCommonAncestor_FindsDeeperMatch(t *testing.T) {
	c := buildCache(t, block(100, 1, 0), block(101, 2, 1), block(102, 3, 2))

	fake := rpctest.NewFakeClient()
	fake.SetBlock(block(100, 1, 0))
	fake.SetBlock(block(101, 99, 88))  // diverged
	fake.SetBlock(block(102, 98, 99)) // diverged

	r := New(fake, config.RetryPolicy{MaxAttempts: 1}, logger.NewNopLogger())
	ancestor, err := r.FindCommonAncestor(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, uint64(100), ancestor.Number)
}

func TestFindCommonAncestor_NoMatchFound(t *testing.T) {
	c := buildCache(t, block(100, 1, 0), block(101, 2, 1))

	fake := rpctest.NewFakeClient()
	fake.SetBlock(block(100, 11, 0))
	fake.SetBlock(block(101, 12, 11))

	r := New(fake, config.RetryPolicy{MaxAttempts: 1}, logger.NewNopLogger())
	_, err := r.FindCommonAncestor(context.Background(), c)
	require.Error(t, err)
	var noAncestor *chain.ErrNoCommonAncestor
	require.ErrorAs(t, err, &noAncestor)
}

func TestFindCommonAncestor_RetriesThenSucceeds(t *testing.T) {
	c := buildCache(t, block(100, 1, 0), block(101, 2, 1))

	fake := rpctest.NewFakeClient()
	fake.FailBatchGetBlocksTimes = 2
	fake.SetBlock(block(100, 1, 0))
	fake.SetBlock(block(101, 2, 1))

	r := New(fake, config.RetryPolicy{MaxAttempts: 3, DelayMs: 1}, logger.NewNopLogger())
	ancestor, err := r.FindCommonAncestor(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, uint64(101), ancestor.Number)
	require.Equal(t, 3, fake.BatchGetBlocksCalls)
}

func TestFindCommonAncestor_ExhaustsRetryBudget(t *testing.T) {
	c := buildCache(t, block(100, 1, 0), block(101, 2, 1))

	fake := rpctest.NewFakeClient()
	fake.FailBatchGetBlocksTimes = 10

	r := New(fake, config.RetryPolicy{MaxAttempts: 2, DelayMs: 1}, logger.NewNopLogger())
	_, err := r.FindCommonAncestor(context.Background(), c)
	require.Error(t, err)
	var maxRetry *chain.ErrMaxRetryReached
	require.ErrorAs(t, err, &maxRetry)
	require.Equal(t, 2, fake.BatchGetBlocksCalls)
}
