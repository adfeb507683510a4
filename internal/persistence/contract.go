// Package persistence defines the narrow contract the crawl pipeline
// core consumes from the relational store (C6). The store itself is
// an external collaborator (spec.md §1); this package only fixes the
// shape every implementation must honor, plus the validation rules
// from spec.md §4.6/§6.
package persistence

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// SiteStatus is the lifecycle state of a Site.
type SiteStatus string

const (
	SiteActive   SiteStatus = "active"
	SiteInactive SiteStatus = "inactive"
	SitePaused   SiteStatus = "paused"
)

// JobStatus is the lifecycle state of a Crawl Job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Site is the crawler configuration root.
type Site struct {
	ID            string
	Name          string
	BaseURL       string // globally unique
	CrawlerID     string
	Config        map[string]interface{}
	Status        SiteStatus
	LastCrawledAt *time.Time
	PagesCount    int
	ErrorsCount   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Page is a persisted crawl result.
type Page struct {
	ID            string
	SiteID        string
	URL           string // globally unique
	Title         *string
	Content       *string
	ContentHash   *string // recomputed on every upsert when Content is present
	Metadata      map[string]string
	StatusCode    *int
	ContentType   *string
	ContentSize   *int
	CrawledAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Job is a per-site audit/progress record.
type Job struct {
	ID           string
	SiteID       string
	Status       JobStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	PagesCrawled int
	PagesFound   int
	ErrorsCount  int
	ErrorDetails *string
	Config       map[string]interface{}
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JobProgressDelta carries the optional counters UpdateJobProgress may bump.
type JobProgressDelta struct {
	PagesCrawled *int
	PagesFound   *int
	ErrorsCount  *int
}

// SearchOptions narrows SearchPages.
type SearchOptions struct {
	SiteID  string // empty means all sites
	Page    int
	PerPage int
}

// CrawlingStats is a global rollup used by the dashboard.
type CrawlingStats struct {
	TotalSites   int
	TotalPages   int
	TotalJobs    int
	ActiveJobs   int
	TotalErrors  int
}

// SiteStats is a per-site rollup used by the dashboard.
type SiteStats struct {
	SiteID         string
	PagesCount     int
	ErrorsCount    int
	LastCrawledAt  *time.Time
	LastJobStatus  JobStatus
}

// Store is the contract the crawl pipeline core consumes. All
// operations are expected to be safe for concurrent use by multiple
// pipeline workers.
type Store interface {
	GetSiteByURL(ctx context.Context, baseURL string) (*Site, error)
	CreateSite(ctx context.Context, attrs Site) (*Site, error)

	// UpsertPage inserts or replaces the page with attrs.URL,
	// recomputing ContentHash from Content when Content is present.
	UpsertPage(ctx context.Context, attrs Page) (*Page, error)
	GetPageByURL(ctx context.Context, url string) (*Page, error)

	CreateJob(ctx context.Context, attrs Job) (*Job, error)
	StartJob(ctx context.Context, jobID string) (*Job, error)
	UpdateJobProgress(ctx context.Context, jobID string, delta JobProgressDelta) error
	CompleteJob(ctx context.Context, jobID string, final JobStatus) (*Job, error)
	AddJobError(ctx context.Context, jobID string, msg string) error

	ListPagesForSitePaginated(ctx context.Context, siteID string, page, perPage int) ([]Page, int, error)
	SearchPages(ctx context.Context, query string, opts SearchOptions) ([]Page, int, error)
	GetCrawlingStats(ctx context.Context) (CrawlingStats, error)
	GetSiteStats(ctx context.Context, siteID string) (SiteStats, error)
	GetRecentActivity(ctx context.Context, limit int) ([]Page, error)

	Health(ctx context.Context) error
}

// ValidatePage applies the adapter-level validation rules from
// spec.md §4.6: url must be an http(s) URL with a host, status_code
// (when present) must fall in (0, 600), and content_size (when
// present) must be >= 0. Implementations call this before writing.
func ValidatePage(p Page) error {
	u, err := url.Parse(p.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid page url %q: must be an http(s) URL with a host", p.URL)
	}
	if p.StatusCode != nil && (*p.StatusCode <= 0 || *p.StatusCode >= 600) {
		return fmt.Errorf("invalid status_code %d: must be in (0, 600)", *p.StatusCode)
	}
	if p.ContentSize != nil && *p.ContentSize < 0 {
		return fmt.Errorf("invalid content_size %d: must be >= 0", *p.ContentSize)
	}
	return nil
}

// ValidateSite checks that a Site's base URL is well-formed.
func ValidateSite(s Site) error {
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid site base_url %q: must be an http(s) URL with a host", s.BaseURL)
	}
	if strings.TrimSpace(s.CrawlerID) == "" {
		return fmt.Errorf("site must reference a crawler_id")
	}
	return nil
}
