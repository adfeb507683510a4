package crawler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caiatech/crawlcore/internal/persistence"
	"github.com/caiatech/crawlcore/internal/queue"
	"github.com/caiatech/crawlcore/internal/registry"
)

type fakeStore struct {
	persistence.Store
	pages map[string]persistence.Page
}

func newFakeStore() *fakeStore { return &fakeStore{pages: make(map[string]persistence.Page)} }

func (f *fakeStore) UpsertPage(ctx context.Context, attrs persistence.Page) (*persistence.Page, error) {
	f.pages[attrs.URL] = attrs
	stored := attrs
	return &stored, nil
}

func TestFilterAndEnqueueLinksAppliesAllowListAndRegistry(t *testing.T) {
	q := queue.New(3)
	reg := registry.New(24*time.Hour, 0)
	reg.MarkCrawled("https://example.com/already", nil)

	allow := func(u string) bool { return strings.Contains(u, "example.com") }

	links := []string{
		"https://example.com/a",
		"https://other.test/x",
		"https://example.com/already",
	}

	admitted := FilterAndEnqueueLinks(q, reg, "ex", links, allow)

	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, q.Size())
}

func TestUpsertPageFromExtractionComputesHash(t *testing.T) {
	store := newFakeStore()
	extracted := &ExtractedContent{
		Title:       "Example",
		Content:     "Hello",
		ContentType: "text/html",
		StatusCode:  200,
		ContentSize: 5,
	}

	page, err := UpsertPageFromExtraction(context.Background(), store, "site-1", "https://example.com", extracted)
	require.NoError(t, err)
	require.NotNil(t, page.ContentHash)
	assert.Equal(t, "185f8db32271fe25f561a6fc938b2e264306ec304eda518007d1764826381969", *page.ContentHash)
}

func TestUpsertPageFromExtractionRejectsInvalidURL(t *testing.T) {
	store := newFakeStore()
	_, err := UpsertPageFromExtraction(context.Background(), store, "site-1", "not-a-url", &ExtractedContent{})
	require.Error(t, err)
	reason := AsReason(err)
	assert.Equal(t, KindStorageError, reason.Kind)
}
