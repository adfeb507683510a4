package htmlcrawler

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caiatech/crawlcore/internal/crawler"
	"github.com/caiatech/crawlcore/internal/persistence"
	"github.com/caiatech/crawlcore/internal/queue"
	"github.com/caiatech/crawlcore/internal/registry"
)

type fakeStore struct {
	persistence.Store
	upserted []persistence.Page
}

func (f *fakeStore) UpsertPage(ctx context.Context, attrs persistence.Page) (*persistence.Page, error) {
	f.upserted = append(f.upserted, attrs)
	stored := attrs
	return &stored, nil
}

type fakeFetcher struct {
	result *FetchResult
	err    error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	return f.result, f.err
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

var _ net.Error = fakeTimeoutErr{}

func newHarness(t *testing.T, fetcher Fetcher) (*Crawler, *queue.Queue, *registry.Registry, *fakeStore) {
	t.Helper()
	q := queue.New(3)
	reg := registry.New(24*time.Hour, 0)
	store := &fakeStore{}
	c := New(Config{
		SiteID:         "site-1",
		CrawlerID:      "ex",
		SeedURLs:       []string{"https://example.com/seed"},
		AllowedDomains: []string{"example.com"},
	}, fetcher, q, reg, store)
	return c, q, reg, store
}

func TestInitSeedsQueueWithNormalizedURLs(t *testing.T) {
	c, q, _, _ := newHarness(t, &fakeFetcher{})
	require.NoError(t, c.Init(context.Background()))
	assert.Equal(t, 1, q.Size())

	item, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/seed", item.URL)
	assert.Equal(t, "ex", item.CrawlerID)
}

func TestShouldCrawlURLEnforcesDomainAllowList(t *testing.T) {
	c, _, _, _ := newHarness(t, &fakeFetcher{})
	assert.True(t, c.ShouldCrawlURL("https://example.com/page"))
	assert.False(t, c.ShouldCrawlURL("https://other.test/page"))
}

func TestShouldCrawlURLRejectsNonHTTPScheme(t *testing.T) {
	c, _, _, _ := newHarness(t, &fakeFetcher{})
	assert.False(t, c.ShouldCrawlURL("ftp://example.com/file"))
}

func TestShouldCrawlURLHonorsDenyPatterns(t *testing.T) {
	q := queue.New(3)
	reg := registry.New(24*time.Hour, 0)
	c := New(Config{
		CrawlerID:      "ex",
		AllowedDomains: []string{"example.com"},
		DenyPatterns:   []string{`/admin/`},
	}, &fakeFetcher{}, q, reg, &fakeStore{})

	assert.False(t, c.ShouldCrawlURL("https://example.com/admin/settings"))
	assert.True(t, c.ShouldCrawlURL("https://example.com/articles/1"))
}

func TestCrawlExtractsPersistsAndEnqueuesLinks(t *testing.T) {
	html := `<html><head><title>Hi</title></head><body><a href="/next">next</a>hello world</body></html>`
	fetcher := &fakeFetcher{result: &FetchResult{
		Body:        []byte(html),
		ContentType: "text/html; charset=utf-8",
		StatusCode:  200,
	}}
	c, q, _, store := newHarness(t, fetcher)

	err := c.Crawl(context.Background(), "https://example.com/seed")
	require.NoError(t, err)

	require.Len(t, store.upserted, 1)
	assert.Equal(t, "Hi", *store.upserted[0].Title)

	assert.Equal(t, 1, q.Size())
	item, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "https://example.com/next", item.URL)
}

func TestCrawlReturnsHTTPErrorReasonOnServerError(t *testing.T) {
	fetcher := &fakeFetcher{result: &FetchResult{Body: []byte("boom"), ContentType: "text/plain", StatusCode: 503}}
	c, _, _, _ := newHarness(t, fetcher)

	err := c.Crawl(context.Background(), "https://example.com/seed")
	require.Error(t, err)
	reason := crawler.AsReason(err)
	assert.Equal(t, crawler.KindHTTPError, reason.Kind)
	assert.Equal(t, 503, reason.Status)
	assert.True(t, reason.ShouldRetry())
}

func TestCrawlClassifiesTimeoutAsRetryable(t *testing.T) {
	fetcher := &fakeFetcher{err: fakeTimeoutErr{}}
	c, _, _, _ := newHarness(t, fetcher)

	err := c.Crawl(context.Background(), "https://example.com/seed")
	require.Error(t, err)
	reason := crawler.AsReason(err)
	assert.Equal(t, crawler.KindTimeout, reason.Kind)
	assert.True(t, reason.ShouldRetry())
}

func TestCrawlClassifiesContextDeadlineAsTimeout(t *testing.T) {
	fetcher := &fakeFetcher{err: context.DeadlineExceeded}
	c, _, _, _ := newHarness(t, fetcher)

	err := c.Crawl(context.Background(), "https://example.com/seed")
	require.Error(t, err)
	assert.Equal(t, crawler.KindTimeout, crawler.AsReason(err).Kind)
}

func TestCrawlClassifiesGenericNetworkFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection reset")}
	c, _, _, _ := newHarness(t, fetcher)

	err := c.Crawl(context.Background(), "https://example.com/seed")
	require.Error(t, err)
	reason := crawler.AsReason(err)
	assert.Equal(t, crawler.KindNetworkError, reason.Kind)
	assert.True(t, reason.ShouldRetry())
}

func TestCrawlDoesNotFollowLinksForNonHTMLContent(t *testing.T) {
	fetcher := &fakeFetcher{result: &FetchResult{Body: []byte("plain text body"), ContentType: "text/plain", StatusCode: 200}}
	c, q, _, store := newHarness(t, fetcher)

	err := c.Crawl(context.Background(), "https://example.com/seed")
	require.NoError(t, err)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, 0, q.Size())
}

func TestGetConfigReflectsConstructorInput(t *testing.T) {
	c, _, _, _ := newHarness(t, &fakeFetcher{})
	cfg := c.GetConfig()
	assert.Equal(t, "ex", cfg["crawler_id"])
	assert.Equal(t, "site-1", cfg["site_id"])
}
