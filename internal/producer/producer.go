// Package producer implements the demand-driven source (C4) that
// pulls work items out of the queue (C1) to feed the pipeline (C5).
// Per spec.md Design Notes §9 ("Demand-based producer"), the
// demand/timer protocol collapses cleanly onto a bounded channel: the
// channel's capacity is the aggregate demand (worker_count ×
// max_demand), and a blocking send onto it is exactly "wait for
// demand". The producer only needs its own loop for the empty-queue
// case, where it arms a poll timer instead of spinning.
package producer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/caiatech/crawlcore/internal/queue"
	"github.com/caiatech/crawlcore/pkg/logging"
)

// Producer is the sole dequeuer of the queue; this serializes the
// point at which a work item becomes in-flight (spec.md §4.4).
type Producer struct {
	queue        *queue.Queue
	out          chan queue.Item
	demand       int
	pollInterval time.Duration
	log          zerolog.Logger
}

// New builds a producer with the given channel capacity
// (conventionally worker_count × max_demand) and empty-queue poll
// interval. Each queue pop satisfies up to capacity items of demand in
// one locked section (queue.PopN), matching spec.md §4.4's "pop up to
// d items" rather than popping one item per loop iteration.
func New(q *queue.Queue, capacity int, pollInterval time.Duration) *Producer {
	demand := capacity
	if demand < 1 {
		demand = 1
	}
	return &Producer{
		queue:        q,
		out:          make(chan queue.Item, capacity),
		demand:       demand,
		pollInterval: pollInterval,
		log:          logging.GetLogger("producer"),
	}
}

// Items returns the channel workers should range over. It is closed
// when Run returns.
func (p *Producer) Items() <-chan queue.Item {
	return p.out
}

// Run drains the queue into the output channel until ctx is
// cancelled. On cancellation it stops emitting immediately and closes
// the output channel; it never panics on double-stop because it only
// ever closes the channel once, from this single goroutine.
func (p *Producer) Run(ctx context.Context) {
	defer close(p.out)

	timer := time.NewTimer(p.pollInterval)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		items := p.queue.PopN(p.demand)
		if len(items) > 0 {
			if !p.drain(ctx, items) {
				return
			}
			continue
		}

		// Empty observation: arm the poll timer exactly once and wait
		// for either it to fire or shutdown.
		timer.Reset(p.pollInterval)
		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		}
	}
}

// drain sends each item of a batch onto the output channel in order,
// returning false if ctx was cancelled before the batch was fully sent
// (the caller must then stop, since some items may still be stuck
// in-flight in the queue's processing set).
func (p *Producer) drain(ctx context.Context, items []queue.Item) bool {
	for _, item := range items {
		select {
		case p.out <- item:
		case <-ctx.Done():
			return false
		}
	}
	return true
}
