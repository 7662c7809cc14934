package engine

import (
	"context"
	"sync"

	"github.com/chainwatch/chainsub/internal/metrics"
	"github.com/chainwatch/chainsub/pkg/chain"
)

// Queue is a FIFO of inbound headers drained serially by a single
// goroutine, so that concurrent arrivals from the header source never
// interleave with each other inside handleBlock. Grounded on the
// teacher's downloader.Download "for { select { case <-ctx.Done() ...
// } }" loop shape, adapted from a polling loop into an event-drain
// loop triggered by Push.
type Queue struct {
	mu         sync.Mutex
	items      []chain.Block
	processing bool
	handle     func(ctx context.Context, b chain.Block)
}

// NewQueue constructs a Queue that invokes handle for each drained
// header, one at a time.
func NewQueue(handle func(ctx context.Context, b chain.Block)) *Queue {
	return &Queue{handle: handle}
}

// Push appends b to the queue. If no drain is currently in flight, it
// starts one; otherwise b is picked up by the drain already running.
func (q *Queue) Push(ctx context.Context, b chain.Block) {
	q.mu.Lock()
	q.items = append(q.items, b)
	metrics.SetQueueLength(len(q.items))
	alreadyDraining := q.processing
	q.processing = true
	q.mu.Unlock()

	if !alreadyDraining {
		go q.drain(ctx)
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		next := q.items[0]
		q.items = q.items[1:]
		metrics.SetQueueLength(len(q.items))
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		default:
		}

		q.handle(ctx, next)
	}
}

// Len reports the number of headers currently queued, not counting
// one possibly in flight inside handle.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
