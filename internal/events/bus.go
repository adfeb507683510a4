// Package events is the crawl pipeline's lifecycle pub/sub layer,
// adapted from the teacher's internal/pipeline event bus: a buffered
// channel feeding N delivery workers, with per-subscription channels
// and basic stats. Nothing in the core depends on it for correctness;
// it exists so subscribers can observe what the pipeline is doing.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/caiatech/crawlcore/pkg/logging"
)

// Handler processes one delivered event.
type Handler func(ctx context.Context, event *Event) error

type subscription struct {
	id     string
	types  map[Type]struct{}
	handler Handler
	channel chan *Event
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	active  bool
}

// Bus manages publish/subscribe delivery of lifecycle events.
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	buffer        chan *Event
	workers       int
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	statsMu       sync.Mutex
	stats         Stats
}

// Stats tracks event bus throughput.
type Stats struct {
	Published         int64
	Delivered         int64
	Failed            int64
	ActiveSubscribers int64
	InBuffer          int64
}

// NewBus starts a bus with the given buffer capacity and delivery
// worker count.
func NewBus(bufferSize, workers int) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subscriptions: make(map[string]*subscription),
		buffer:        make(chan *Event, bufferSize),
		workers:       workers,
		ctx:           ctx,
		cancel:        cancel,
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
	return b
}

// Publish enqueues event for delivery. Returns an error if the bus is
// shutting down or its buffer is full; a full buffer drops the event
// rather than blocking the publisher (lifecycle events are
// best-effort, not part of the correctness-bearing path).
func (b *Bus) Publish(event *Event) error {
	select {
	case b.buffer <- event:
		b.statsMu.Lock()
		b.stats.Published++
		b.stats.InBuffer = int64(len(b.buffer))
		b.statsMu.Unlock()
		return nil
	case <-b.ctx.Done():
		return fmt.Errorf("events: bus is shutting down")
	default:
		logging.GetLogger("events").Warn().Str("event_id", event.ID).Str("type", string(event.Type)).Msg("event dropped, buffer full")
		return fmt.Errorf("events: buffer is full")
	}
}

// Subscribe registers handler for the given event types. bufferSize
// bounds per-subscription backpressure before delivery is skipped.
func (b *Bus) Subscribe(types []Type, handler Handler, bufferSize int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, cancel := context.WithCancel(b.ctx)
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}

	sub := &subscription{
		id:      fmt.Sprintf("sub_%d", time.Now().UnixNano()),
		types:   set,
		handler: handler,
		channel: make(chan *Event, bufferSize),
		ctx:     ctx,
		cancel:  cancel,
		active:  true,
	}
	b.subscriptions[sub.id] = sub

	b.statsMu.Lock()
	b.stats.ActiveSubscribers++
	b.statsMu.Unlock()

	return sub.id
}

// Unsubscribe cancels and removes a subscription.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscriptions[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subscriptions, id)
	b.mu.Unlock()

	sub.mu.Lock()
	sub.active = false
	sub.cancel()
	sub.mu.Unlock()

	b.statsMu.Lock()
	b.stats.ActiveSubscribers--
	b.statsMu.Unlock()
}

// Close stops all delivery workers and cancels every subscription.
func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	for _, sub := range b.subscriptions {
		sub.cancel()
	}
	b.mu.Unlock()
}

// Stats returns a snapshot of current throughput counters.
func (b *Bus) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	stats := b.stats
	stats.InBuffer = int64(len(b.buffer))
	return stats
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.buffer:
			b.deliver(event)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bus) deliver(event *Event) {
	b.mu.RLock()
	matching := make([]*subscription, 0)
	for _, sub := range b.subscriptions {
		if _, ok := sub.types[event.Type]; ok {
			matching = append(matching, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matching {
		b.deliverToSubscription(event, sub)
	}
}

func (b *Bus) deliverToSubscription(event *Event, sub *subscription) {
	sub.mu.Lock()
	active := sub.active
	sub.mu.Unlock()
	if !active {
		return
	}

	ctx, cancel := context.WithTimeout(sub.ctx, 5*time.Second)
	defer cancel()

	select {
	case sub.channel <- event:
		go func() {
			if err := sub.handler(ctx, event); err != nil {
				b.statsMu.Lock()
				b.stats.Failed++
				b.statsMu.Unlock()
				logging.GetLogger("events").Error().Err(err).Str("subscription_id", sub.id).Str("event_id", event.ID).Msg("event handler failed")
			} else {
				b.statsMu.Lock()
				b.stats.Delivered++
				b.statsMu.Unlock()
			}
		}()
	case <-ctx.Done():
		b.statsMu.Lock()
		b.stats.Failed++
		b.statsMu.Unlock()
		logging.GetLogger("events").Warn().Str("subscription_id", sub.id).Str("event_id", event.ID).Msg("event delivery timed out")
	}
}
