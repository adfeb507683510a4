// Package memory is an in-process persistence adapter (C6): a
// mutex-guarded set of maps, grounded on the teacher's
// internal/storage.DocumentIndex (same "one lock, several maps, O(1)
// lookup" shape). It exists for tests and for running the pipeline
// without a database; internal/persistence/postgres is the adapter
// meant for production use.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caiatech/crawlcore/internal/persistence"
	"github.com/caiatech/crawlcore/pkg/content"
)

// Store is an in-memory persistence.Store.
type Store struct {
	mu sync.RWMutex

	sites      map[string]persistence.Site
	sitesByURL map[string]string // base_url -> site id
	pages      map[string]persistence.Page
	pagesByURL map[string]string // url -> page id
	jobs       map[string]persistence.Job
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sites:      make(map[string]persistence.Site),
		sitesByURL: make(map[string]string),
		pages:      make(map[string]persistence.Page),
		pagesByURL: make(map[string]string),
		jobs:       make(map[string]persistence.Job),
	}
}

func (s *Store) GetSiteByURL(ctx context.Context, baseURL string) (*persistence.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sitesByURL[baseURL]
	if !ok {
		return nil, nil
	}
	site := s.sites[id]
	return &site, nil
}

func (s *Store) CreateSite(ctx context.Context, attrs persistence.Site) (*persistence.Site, error) {
	if err := persistence.ValidateSite(attrs); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sitesByURL[attrs.BaseURL]; exists {
		return nil, fmt.Errorf("site with base_url %q already exists", attrs.BaseURL)
	}

	now := time.Now()
	attrs.ID = uuid.NewString()
	attrs.CreatedAt = now
	attrs.UpdatedAt = now
	if attrs.Status == "" {
		attrs.Status = persistence.SiteActive
	}

	s.sites[attrs.ID] = attrs
	s.sitesByURL[attrs.BaseURL] = attrs.ID
	return copySite(attrs), nil
}

func (s *Store) UpsertPage(ctx context.Context, attrs persistence.Page) (*persistence.Page, error) {
	if err := persistence.ValidatePage(attrs); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if attrs.Content != nil {
		hash := content.Hash(*attrs.Content)
		attrs.ContentHash = &hash
	}

	if existingID, ok := s.pagesByURL[attrs.URL]; ok {
		existing := s.pages[existingID]
		attrs.ID = existing.ID
		attrs.CreatedAt = existing.CreatedAt
		attrs.UpdatedAt = now
		attrs.CrawledAt = now
		s.pages[attrs.ID] = attrs
		return copyPage(attrs), nil
	}

	attrs.ID = uuid.NewString()
	attrs.CreatedAt = now
	attrs.UpdatedAt = now
	attrs.CrawledAt = now
	s.pages[attrs.ID] = attrs
	s.pagesByURL[attrs.URL] = attrs.ID

	if site, ok := s.sites[attrs.SiteID]; ok {
		site.PagesCount++
		now := now
		site.LastCrawledAt = &now
		s.sites[attrs.SiteID] = site
	}

	return copyPage(attrs), nil
}

func (s *Store) GetPageByURL(ctx context.Context, url string) (*persistence.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.pagesByURL[url]
	if !ok {
		return nil, nil
	}
	page := s.pages[id]
	return &page, nil
}

func (s *Store) CreateJob(ctx context.Context, attrs persistence.Job) (*persistence.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	attrs.ID = uuid.NewString()
	attrs.CreatedAt = now
	attrs.UpdatedAt = now
	if attrs.Status == "" {
		attrs.Status = persistence.JobPending
	}

	s.jobs[attrs.ID] = attrs
	return copyJob(attrs), nil
}

func (s *Store) StartJob(ctx context.Context, jobID string) (*persistence.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %q not found", jobID)
	}
	now := time.Now()
	job.Status = persistence.JobRunning
	job.StartedAt = &now
	job.PagesCrawled = 0
	job.PagesFound = 0
	job.ErrorsCount = 0
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return copyJob(job), nil
}

func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, delta persistence.JobProgressDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %q not found", jobID)
	}
	if delta.PagesCrawled != nil {
		job.PagesCrawled += *delta.PagesCrawled
	}
	if delta.PagesFound != nil {
		job.PagesFound += *delta.PagesFound
	}
	if delta.ErrorsCount != nil {
		job.ErrorsCount += *delta.ErrorsCount
	}
	job.UpdatedAt = time.Now()
	s.jobs[jobID] = job
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID string, final persistence.JobStatus) (*persistence.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %q not found", jobID)
	}
	now := time.Now()
	job.Status = final
	job.CompletedAt = &now
	job.UpdatedAt = now
	s.jobs[jobID] = job
	return copyJob(job), nil
}

func (s *Store) AddJobError(ctx context.Context, jobID string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %q not found", jobID)
	}
	job.ErrorsCount++
	if job.ErrorDetails == nil || *job.ErrorDetails == "" {
		job.ErrorDetails = &msg
	} else {
		joined := *job.ErrorDetails + "\n" + msg
		job.ErrorDetails = &joined
	}
	job.UpdatedAt = time.Now()
	s.jobs[jobID] = job
	return nil
}

func (s *Store) ListPagesForSitePaginated(ctx context.Context, siteID string, page, perPage int) ([]persistence.Page, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []persistence.Page
	for _, p := range s.pages {
		if p.SiteID == siteID {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CrawledAt.After(matched[j].CrawledAt) })

	return paginate(matched, page, perPage), len(matched), nil
}

func (s *Store) SearchPages(ctx context.Context, query string, opts persistence.SearchOptions) ([]persistence.Page, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var matched []persistence.Page
	for _, p := range s.pages {
		if opts.SiteID != "" && p.SiteID != opts.SiteID {
			continue
		}
		if q != "" {
			title := ""
			if p.Title != nil {
				title = strings.ToLower(*p.Title)
			}
			body := ""
			if p.Content != nil {
				body = strings.ToLower(*p.Content)
			}
			if !strings.Contains(title, q) && !strings.Contains(body, q) && !strings.Contains(strings.ToLower(p.URL), q) {
				continue
			}
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CrawledAt.After(matched[j].CrawledAt) })

	return paginate(matched, opts.Page, opts.PerPage), len(matched), nil
}

func (s *Store) GetCrawlingStats(ctx context.Context) (persistence.CrawlingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := persistence.CrawlingStats{
		TotalSites: len(s.sites),
		TotalPages: len(s.pages),
		TotalJobs:  len(s.jobs),
	}
	for _, j := range s.jobs {
		if j.Status == persistence.JobRunning {
			stats.ActiveJobs++
		}
		stats.TotalErrors += j.ErrorsCount
	}
	return stats, nil
}

func (s *Store) GetSiteStats(ctx context.Context, siteID string) (persistence.SiteStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	site, ok := s.sites[siteID]
	if !ok {
		return persistence.SiteStats{}, fmt.Errorf("site %q not found", siteID)
	}

	stats := persistence.SiteStats{
		SiteID:        siteID,
		PagesCount:    site.PagesCount,
		ErrorsCount:   site.ErrorsCount,
		LastCrawledAt: site.LastCrawledAt,
	}
	var latest persistence.Job
	var found bool
	for _, j := range s.jobs {
		if j.SiteID != siteID {
			continue
		}
		if !found || j.UpdatedAt.After(latest.UpdatedAt) {
			latest = j
			found = true
		}
	}
	if found {
		stats.LastJobStatus = latest.Status
	}
	return stats, nil
}

func (s *Store) GetRecentActivity(ctx context.Context, limit int) ([]persistence.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []persistence.Page
	for _, p := range s.pages {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CrawledAt.After(all[j].CrawledAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) Health(ctx context.Context) error { return nil }

func paginate(items []persistence.Page, page, perPage int) []persistence.Page {
	if perPage <= 0 {
		return items
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return nil
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func copySite(s persistence.Site) *persistence.Site { return &s }
func copyPage(p persistence.Page) *persistence.Page { return &p }
func copyJob(j persistence.Job) *persistence.Job    { return &j }
