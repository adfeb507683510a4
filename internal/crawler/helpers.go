package crawler

import (
	"context"

	"github.com/caiatech/crawlcore/internal/persistence"
	"github.com/caiatech/crawlcore/internal/queue"
	"github.com/caiatech/crawlcore/internal/registry"
	"github.com/caiatech/crawlcore/pkg/content"
)

// FilterAndEnqueueLinks is the link-store helper shared by every
// crawler implementation (spec.md §4.3): given discovered links, it
// filters by shouldCrawl, rejects any URL already registered in the
// registry, wraps each survivor as a work item bound to crawlerID,
// and pushes the batch into the queue. Returns the number admitted.
//
// The registry check here is the admission filter; the queue's own
// dedup against its processing/processed sets is the second line of
// defense described in spec.md §5 ("Ordering guarantees").
func FilterAndEnqueueLinks(q *queue.Queue, reg *registry.Registry, crawlerID string, links []string, shouldCrawl func(string) bool) int {
	items := make([]queue.Item, 0, len(links))
	for _, link := range links {
		if !shouldCrawl(link) {
			continue
		}
		if reg.Registered(link) {
			continue
		}
		items = append(items, queue.Item{URL: link, CrawlerID: crawlerID})
	}
	return q.PushBatch(items)
}

// UpsertPageFromExtraction is the content-store helper shared by
// every crawler implementation (spec.md §4.3): given a URL, extracted
// content, and site id, it builds a Page and upserts it via the
// persistence adapter.
func UpsertPageFromExtraction(ctx context.Context, store persistence.Store, siteID, url string, extracted *ExtractedContent) (*persistence.Page, error) {
	page := persistence.Page{
		SiteID:      siteID,
		URL:         url,
		Metadata:    extracted.Metadata,
		ContentType: nonEmptyPtr(extracted.ContentType),
		StatusCode:  positiveIntPtr(extracted.StatusCode),
		ContentSize: nonNegativeIntPtr(extracted.ContentSize),
	}
	if extracted.Title != "" {
		title := extracted.Title
		page.Title = &title
	}
	if extracted.Content != "" {
		body := extracted.Content
		page.Content = &body
		hash := content.Hash(body)
		page.ContentHash = &hash
	}

	if err := persistence.ValidatePage(page); err != nil {
		return nil, NewError(Reason{Kind: KindStorageError, Msg: err.Error()})
	}

	stored, err := store.UpsertPage(ctx, page)
	if err != nil {
		return nil, NewError(Reason{Kind: KindStorageError, Msg: err.Error()})
	}
	return stored, nil
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func positiveIntPtr(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}

func nonNegativeIntPtr(n int) *int {
	if n < 0 {
		return nil
	}
	return &n
}
