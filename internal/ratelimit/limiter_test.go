package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitEnforcesMinimumIntervalPerDomain(t *testing.T) {
	l := New(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "example.com"))
	require.NoError(t, l.Wait(ctx, "example.com"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestWaitDoesNotDelayDifferentDomains(t *testing.T) {
	l := New(time.Hour)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "a.example.com"))

	done := make(chan error, 1)
	go func() { done <- l.Wait(ctx, "b.example.com") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("wait on a different domain should not block on the first domain's interval")
	}
}

func TestRecordErrorTripsBackoffAfterThreshold(t *testing.T) {
	l := New(time.Millisecond)
	for i := 0; i < 4; i++ {
		l.RecordError("flaky.example.com")
	}

	stats := l.Stats("flaky.example.com")
	assert.True(t, stats.InBackoff)
	assert.Equal(t, int64(4), stats.ErrorCount)
}

func TestRecordSuccessClearsErrorCount(t *testing.T) {
	l := New(time.Millisecond)
	l.RecordError("flaky.example.com")
	l.RecordError("flaky.example.com")
	l.RecordSuccess("flaky.example.com")

	stats := l.Stats("flaky.example.com")
	assert.Equal(t, int64(0), stats.ErrorCount)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	l := New(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, l.Wait(context.Background(), "slow.example.com"))
	cancel()

	err := l.Wait(ctx, "slow.example.com")
	assert.ErrorIs(t, err, context.Canceled)
}
