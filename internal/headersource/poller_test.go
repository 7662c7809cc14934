package headersource

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainwatch/chainsub/internal/logger"
	"github.com/chainwatch/chainsub/internal/rpctest"
	"github.com/chainwatch/chainsub/pkg/chain"
)

type recordingSink struct {
	mu      sync.Mutex
	blocks  []chain.Block
}

func (s *recordingSink) Enqueue(_ context.Context, b chain.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, b)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}

func TestPoller_PollsAndForwardsHead(t *testing.T) {
	fake := rpctest.NewFakeClient()
	fake.SetBlock(chain.Block{Number: 100})

	sink := &recordingSink{}
	p := New(fake, sink, 5*time.Millisecond, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return sink.count() > 0 }, time.Second, time.Millisecond)

	p.Stop()
	<-done
}

func TestPoller_StopsOnContextCancel(t *testing.T) {
	fake := rpctest.NewFakeClient()
	sink := &recordingSink{}
	p := New(fake, sink, time.Millisecond, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}
}
