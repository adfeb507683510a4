package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caiatech/crawlcore/internal/persistence"
)

func TestUpsertPageInsertsThenReplaces(t *testing.T) {
	store := New()
	ctx := context.Background()

	body := "Hello"
	page, err := store.UpsertPage(ctx, persistence.Page{URL: "https://example.com", Content: &body})
	require.NoError(t, err)
	require.NotNil(t, page.ContentHash)
	assert.Equal(t, "185f8db32271fe25f561a6fc938b2e264306ec304eda518007d1764826381969", *page.ContentHash)

	updated := "Hello again"
	page2, err := store.UpsertPage(ctx, persistence.Page{URL: "https://example.com", Content: &updated})
	require.NoError(t, err)
	assert.Equal(t, page.ID, page2.ID)
	assert.NotEqual(t, *page.ContentHash, *page2.ContentHash)

	fetched, err := store.GetPageByURL(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "Hello again", *fetched.Content)
}

func TestUpsertPageRejectsInvalidURL(t *testing.T) {
	store := New()
	_, err := store.UpsertPage(context.Background(), persistence.Page{URL: "not-a-url"})
	require.Error(t, err)
}

func TestCreateSiteRejectsDuplicateBaseURL(t *testing.T) {
	store := New()
	ctx := context.Background()
	attrs := persistence.Site{Name: "Example", BaseURL: "https://example.com", CrawlerID: "ex"}

	_, err := store.CreateSite(ctx, attrs)
	require.NoError(t, err)

	_, err = store.CreateSite(ctx, attrs)
	assert.Error(t, err)
}

func TestJobLifecycleTracksProgressAndErrors(t *testing.T) {
	store := New()
	ctx := context.Background()

	job, err := store.CreateJob(ctx, persistence.Job{SiteID: "site-1"})
	require.NoError(t, err)

	started, err := store.StartJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, persistence.JobRunning, started.Status)

	crawled := 3
	require.NoError(t, store.UpdateJobProgress(ctx, job.ID, persistence.JobProgressDelta{PagesCrawled: &crawled}))
	require.NoError(t, store.AddJobError(ctx, job.ID, "boom"))
	require.NoError(t, store.AddJobError(ctx, job.ID, "boom again"))

	completed, err := store.CompleteJob(ctx, job.ID, persistence.JobCompleted)
	require.NoError(t, err)
	assert.Equal(t, 3, completed.PagesCrawled)
	assert.Equal(t, 2, completed.ErrorsCount)
	require.NotNil(t, completed.ErrorDetails)
	assert.Equal(t, "boom\nboom again", *completed.ErrorDetails)
}

func TestGetCrawlingStatsAggregatesAcrossSites(t *testing.T) {
	store := New()
	ctx := context.Background()

	site, err := store.CreateSite(ctx, persistence.Site{Name: "Example", BaseURL: "https://example.com", CrawlerID: "ex"})
	require.NoError(t, err)

	body := "hi"
	_, err = store.UpsertPage(ctx, persistence.Page{SiteID: site.ID, URL: "https://example.com/a", Content: &body})
	require.NoError(t, err)

	stats, err := store.GetCrawlingStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalSites)
	assert.Equal(t, 1, stats.TotalPages)
}

func TestListPagesForSitePaginatedRespectsPageSize(t *testing.T) {
	store := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		body := "x"
		_, err := store.UpsertPage(ctx, persistence.Page{SiteID: "site-1", URL: urlFor(i), Content: &body})
		require.NoError(t, err)
	}

	pageOne, total, err := store.ListPagesForSitePaginated(ctx, "site-1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, pageOne, 2)
}

func urlFor(i int) string {
	return "https://example.com/" + string(rune('a'+i))
}
