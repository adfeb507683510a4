package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(now *time.Time) *Registry {
	return New(24*time.Hour, 0, WithClock(func() time.Time { return *now }))
}

func TestMarkCrawledThenRegisteredImmediately(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newTestRegistry(&now)

	r.MarkCrawled("https://example.com", nil)
	assert.True(t, r.Registered("https://example.com"))
}

func TestRegisteredFalseAfterExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newTestRegistry(&now)

	ttl := time.Hour
	r.MarkCrawled("https://example.com", &ttl)
	assert.True(t, r.Registered("https://example.com"))

	now = now.Add(2 * time.Hour)
	assert.False(t, r.Registered("https://example.com"))
}

func TestExpirationRaceAtExactBoundary(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newTestRegistry(&now)

	ttl := time.Hour
	r.MarkCrawled("https://example.com", &ttl)

	now = now.Add(time.Hour) // exactly at expires_at
	assert.False(t, r.Registered("https://example.com"), "registered? at exactly expires_at must be false")
}

func TestMarkFailedNeverExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newTestRegistry(&now)

	r.MarkFailed("https://example.com", "boom")
	now = now.Add(365 * 24 * time.Hour)

	status, ok := r.GetStatus("https://example.com")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, status)
}

func TestUnregisterProcessingOnlyFromProcessing(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newTestRegistry(&now)

	// no-op: no entry yet
	r.UnregisterProcessing("https://example.com")
	_, ok := r.GetStatus("https://example.com")
	assert.False(t, ok)

	r.Register("https://example.com", StatusProcessing, nil)
	r.UnregisterProcessing("https://example.com")

	status, ok := r.GetStatus("https://example.com")
	require.True(t, ok)
	assert.Equal(t, StatusCrawled, status)

	entry, _ := r.GetEntry("https://example.com")
	assert.Nil(t, entry.ExpiresAt, "unregister_processing must not set a TTL")

	// calling again when already crawled is a no-op
	r.UnregisterProcessing("https://example.com")
	status, _ = r.GetStatus("https://example.com")
	assert.Equal(t, StatusCrawled, status)
}

func TestAttemptsIsMonotone(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newTestRegistry(&now)

	r.Register("https://example.com", StatusProcessing, nil)
	r.MarkFailed("https://example.com", "err1")
	r.Register("https://example.com", StatusProcessing, nil)
	r.MarkCrawled("https://example.com", nil)

	entry, ok := r.GetEntry("https://example.com")
	require.True(t, ok)
	assert.Equal(t, 4, entry.Attempts)
}

func TestCleanupExpiredReclaimsMemoryOnly(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newTestRegistry(&now)

	ttl := time.Minute
	r.MarkCrawled("https://a.test", &ttl)
	r.MarkFailed("https://b.test", "nope") // never expires

	now = now.Add(time.Hour)
	n := r.CleanupExpired()

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, r.Size())
}

func TestStatsExcludeExpiredEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newTestRegistry(&now)

	ttl := time.Minute
	r.MarkCrawled("https://a.test", &ttl)
	r.MarkFailed("https://b.test", "nope")

	now = now.Add(time.Hour)
	stats := r.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Crawled)
}

func TestListByStatusRespectsLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newTestRegistry(&now)

	for i := 0; i < 5; i++ {
		r.MarkCrawled(string(rune('a'+i)), nil)
	}

	entries := r.ListByStatus(StatusCrawled, 3)
	assert.Len(t, entries, 3)
}
