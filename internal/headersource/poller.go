// Package headersource provides a block source for the ingest engine:
// a poller that periodically asks the RPC backend for the chain head
// and feeds new headers into the engine's ingest queue.
package headersource

import (
	"context"
	"time"

	"github.com/chainwatch/chainsub/internal/common"
	"github.com/chainwatch/chainsub/internal/logger"
	"github.com/chainwatch/chainsub/pkg/chain"
	"github.com/chainwatch/chainsub/pkg/rpcclient"
)

// Sink is the subset of the ingest engine a Poller depends on.
type Sink interface {
	Enqueue(ctx context.Context, b chain.Block)
}

// Poller polls GetLatestBlockHeader on a fixed interval and forwards
// every newly observed head to a Sink. It does not deduplicate: the
// engine's own classification already treats a repeated head as a
// no-op duplicate.
type Poller struct {
	rpc      rpcclient.EthClient
	sink     Sink
	interval time.Duration
	log      *logger.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Poller. interval must be > 0.
func New(rpc rpcclient.EthClient, sink Sink, interval time.Duration, log *logger.Logger) *Poller {
	return &Poller{
		rpc:      rpc,
		sink:     sink,
		interval: interval,
		log:      log.WithComponent(common.ComponentHeadSource),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run blocks, polling until ctx is cancelled or Stop is called.
func (p *Poller) Run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	head, err := p.rpc.GetLatestBlockHeader(ctx)
	if err != nil {
		p.log.Warnw("failed polling chain head", "error", err)
		return
	}
	p.sink.Enqueue(ctx, head)
}

// Stop signals Run to return and waits for it to do so. Run must
// already be running in its own goroutine; Stop is safe to call once.
func (p *Poller) Stop() {
	close(p.stopCh)
	<-p.doneCh
}
