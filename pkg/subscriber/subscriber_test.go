package subscriber

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/chainsub/pkg/chain"
)

func cloneCounter(s int) int { return s }

func sumHandler(state int, log chain.Log) int {
	return state + len(log.Data)
}

func TestStatefulBase_InitializeAndHandleLog(t *testing.T) {
	base := NewStatefulBase(0, sumHandler, cloneCounter)

	anchor := chain.Block{Number: 100, Hash: common.HexToHash("0xa")}
	require.NoError(t, base.Initialize(anchor))

	base.HandleLog(chain.Log{BlockNumber: 101, Data: []byte{1, 2, 3}})
	state, ok := base.StateAt(101)
	require.True(t, ok)
	require.Equal(t, 3, state)

	base.HandleLog(chain.Log{BlockNumber: 101, Data: []byte{1}})
	state, ok = base.StateAt(101)
	require.True(t, ok)
	require.Equal(t, 4, state)

	base.HandleLog(chain.Log{BlockNumber: 102, Data: []byte{1, 1}})
	state, ok = base.StateAt(102)
	require.True(t, ok)
	require.Equal(t, 6, state, "snapshot at 102 should carry forward state from 101")
}

func TestStatefulBase_Rollback(t *testing.T) {
	base := NewStatefulBase(0, sumHandler, cloneCounter)
	anchor := chain.Block{Number: 100}
	require.NoError(t, base.Initialize(anchor))

	base.HandleLog(chain.Log{BlockNumber: 101, Data: []byte{1}})
	base.HandleLog(chain.Log{BlockNumber: 102, Data: []byte{1}})
	base.HandleLog(chain.Log{BlockNumber: 103, Data: []byte{1}})

	base.Rollback(chain.Block{Number: 101})

	_, ok := base.StateAt(102)
	require.False(t, ok, "snapshot above rollback target should be discarded")
	_, ok = base.StateAt(103)
	require.False(t, ok)

	_, ok = base.StateAt(101)
	require.True(t, ok, "snapshot at or below rollback target is retained")

	last, ok := base.LastSeenBlock()
	require.True(t, ok)
	require.Equal(t, uint64(101), last.Number)
}

func TestStatefulBase_HandleLogAfterRollbackCarriesForward(t *testing.T) {
	base := NewStatefulBase(0, sumHandler, cloneCounter)
	require.NoError(t, base.Initialize(chain.Block{Number: 100}))

	base.HandleLog(chain.Log{BlockNumber: 101, Data: []byte{1, 2}})
	base.Rollback(chain.Block{Number: 100})

	base.HandleLog(chain.Log{BlockNumber: 101, Data: []byte{9}})
	state, ok := base.StateAt(101)
	require.True(t, ok)
	require.Equal(t, 1, state, "post-rollback replay should start from the rollback target's state")
}
