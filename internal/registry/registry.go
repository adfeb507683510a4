// Package registry implements the URL registry (C2): a global
// dedup map with per-URL status and TTL-based expiration, plus a
// cooperative periodic sweep that reclaims expired entries.
package registry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/caiatech/crawlcore/pkg/logging"
)

// Status is the lifecycle state of a Registry Entry.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCrawled    Status = "crawled"
	StatusFailed     Status = "failed"
)

// Entry is a deduplication record for a URL.
type Entry struct {
	URL        string
	Status     Status
	RecordedAt time.Time
	ExpiresAt  *time.Time // nil means never expires
	Attempts   int
	LastError  string
}

// expired reports whether the entry should be treated as absent at now.
func (e Entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// Stats is a snapshot of registry counters by status.
type Stats struct {
	Processing int
	Crawled    int
	Failed     int
	Total      int
}

// Registry is the URL registry (C2).
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry

	defaultTTL time.Duration

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepOnce     sync.Once

	now func() time.Time
	log zerolog.Logger
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithClock overrides the time source; tests use this to make
// expiration deterministic.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry. defaultTTL is used by MarkCrawled when no
// explicit TTL is given (spec.md default: 24h). sweepInterval is the
// cadence of the background expiration sweep (spec.md default: 1h);
// pass 0 to disable the background sweep (tests call CleanupExpired
// directly instead).
func New(defaultTTL, sweepInterval time.Duration, opts ...Option) *Registry {
	r := &Registry{
		entries:       make(map[string]Entry),
		defaultTTL:    defaultTTL,
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
		now:           time.Now,
		log:           logging.GetLogger("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if sweepInterval > 0 {
		go r.sweepLoop()
	}
	return r
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n := r.CleanupExpired()
			if n > 0 {
				r.log.Debug().Int("reclaimed", n).Msg("registry sweep reclaimed expired entries")
			}
		case <-r.stopSweep:
			return
		}
	}
}

// Stop cancels the background sweep. Safe to call multiple times and
// safe to call even if sweepInterval was 0 (no-op).
func (r *Registry) Stop() {
	r.sweepOnce.Do(func() { close(r.stopSweep) })
}

// Register creates or replaces the entry for url, incrementing
// Attempts. ttl is only applied when non-nil; pass nil for
// processing/failed transitions, which never expire on their own.
func (r *Registry) Register(url string, status Status, ttl *time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[url]
	attempts := 1
	if ok {
		attempts = existing.Attempts + 1
	}

	entry := Entry{
		URL:        url,
		Status:     status,
		RecordedAt: r.now(),
		Attempts:   attempts,
	}
	if ttl != nil {
		expires := r.now().Add(*ttl)
		entry.ExpiresAt = &expires
	}

	r.entries[url] = entry
}

// MarkCrawled is shorthand for Register(url, StatusCrawled, ttl). If
// ttl is nil, the registry's default TTL is used.
func (r *Registry) MarkCrawled(url string, ttl *time.Duration) {
	effective := r.defaultTTL
	if ttl != nil {
		effective = *ttl
	}
	r.Register(url, StatusCrawled, &effective)
}

// MarkFailed replaces the entry with status=failed, no TTL, recording
// lastError.
func (r *Registry) MarkFailed(url string, lastError string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[url]
	attempts := 1
	if ok {
		attempts = existing.Attempts + 1
	}

	r.entries[url] = Entry{
		URL:        url,
		Status:     StatusFailed,
		RecordedAt: r.now(),
		Attempts:   attempts,
		LastError:  lastError,
	}
}

// UnregisterProcessing transitions url from processing to crawled
// without setting a TTL, if and only if its current status is
// processing. No-op otherwise.
func (r *Registry) UnregisterProcessing(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[url]
	if !ok || entry.Status != StatusProcessing {
		return
	}
	entry.Status = StatusCrawled
	entry.RecordedAt = r.now()
	entry.ExpiresAt = nil
	r.entries[url] = entry
}

// Registered reports whether an entry exists for url that has not
// expired. The expiration check happens as part of the read: a call
// at exactly ExpiresAt returns false.
func (r *Registry) Registered(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[url]
	if !ok {
		return false
	}
	return !entry.expired(r.now())
}

// GetStatus returns the entry's status and whether it is present
// (and unexpired).
func (r *Registry) GetStatus(url string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[url]
	if !ok || entry.expired(r.now()) {
		return "", false
	}
	return entry.Status, true
}

// GetEntry returns a copy of the entry for url, regardless of
// expiration (callers that need raw bookkeeping, e.g. admin tooling,
// use this; admission checks use Registered/GetStatus instead).
func (r *Registry) GetEntry(url string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[url]
	return entry, ok
}

// Stats returns counts by status, excluding expired entries from the
// Total and per-status counts just like Registered does.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Stats
	now := r.now()
	for _, entry := range r.entries {
		if entry.expired(now) {
			continue
		}
		s.Total++
		switch entry.Status {
		case StatusProcessing:
			s.Processing++
		case StatusCrawled:
			s.Crawled++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Size returns the number of entries, including expired-but-not-yet-swept ones.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Clear removes all entries.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Entry)
}

// ListByStatus returns up to limit unexpired entries with the given
// status. limit <= 0 means unlimited.
func (r *Registry) ListByStatus(status Status, limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var out []Entry
	for _, entry := range r.entries {
		if entry.expired(now) || entry.Status != status {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// CleanupExpired removes all entries with ExpiresAt <= now. Returns
// the number reclaimed. This only reclaims memory — readers never
// depend on its timeliness because Registered/GetStatus already treat
// an expired entry as absent.
func (r *Registry) CleanupExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for url, entry := range r.entries {
		if entry.expired(now) {
			delete(r.entries, url)
			n++
		}
	}
	return n
}
