package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriberReceivesMatchingEvents(t *testing.T) {
	bus := NewBus(16, 2)
	defer bus.Close()

	var mu sync.Mutex
	received := make([]*Event, 0)
	done := make(chan struct{}, 1)

	bus.Subscribe([]Type{TypeItemProcessed}, func(ctx context.Context, event *Event) error {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, 4)

	require.NoError(t, bus.Publish(New(TypeItemProcessed, "https://example.com", "ex")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "https://example.com", received[0].URL)
}

func TestSubscriberIgnoresNonMatchingEvents(t *testing.T) {
	bus := NewBus(16, 2)
	defer bus.Close()

	delivered := make(chan struct{}, 1)
	bus.Subscribe([]Type{TypeItemFailed}, func(ctx context.Context, event *Event) error {
		delivered <- struct{}{}
		return nil
	}, 4)

	require.NoError(t, bus.Publish(New(TypeItemProcessed, "https://example.com", "ex")))

	select {
	case <-delivered:
		t.Fatal("handler should not have been invoked for a non-matching type")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(16, 2)
	defer bus.Close()

	delivered := make(chan struct{}, 1)
	id := bus.Subscribe([]Type{TypeItemAdmitted}, func(ctx context.Context, event *Event) error {
		delivered <- struct{}{}
		return nil
	}, 4)
	bus.Unsubscribe(id)

	require.NoError(t, bus.Publish(New(TypeItemAdmitted, "https://example.com", "ex")))

	select {
	case <-delivered:
		t.Fatal("unsubscribed handler should not fire")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStatsReflectPublishedCount(t *testing.T) {
	bus := NewBus(16, 2)
	defer bus.Close()

	require.NoError(t, bus.Publish(New(TypeJobProgress, "", "")))
	time.Sleep(50 * time.Millisecond)

	stats := bus.Stats()
	assert.Equal(t, int64(1), stats.Published)
}
