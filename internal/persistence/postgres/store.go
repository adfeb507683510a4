// Package postgres is the production persistence adapter (C6):
// jmoiron/sqlx over database/sql with lib/pq, honoring the schema and
// cascade semantics from spec.md §6. It mirrors the teacher's
// StorageBackend shape (internal/storage.StorageBackend) — one
// interface, one concrete backend — but backed by relational tables
// instead of a git object store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/caiatech/crawlcore/internal/persistence"
	"github.com/caiatech/crawlcore/pkg/content"
	"github.com/caiatech/crawlcore/pkg/logging"
)

// marshalJSONB encodes v for a JSONB parameter, defaulting nil to an
// empty object so the column never stores SQL NULL.
func marshalJSONB(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

// unmarshalStringMap decodes a JSONB column into a map[string]string,
// treating an empty/NULL column as an empty map.
func unmarshalStringMap(data []byte) (map[string]string, error) {
	out := make(map[string]string)
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// unmarshalAnyMap decodes a JSONB column into a map[string]interface{},
// treating an empty/NULL column as an empty map.
func unmarshalAnyMap(data []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Schema is the DDL the adapter expects. Migrations are out of scope
// for the core (spec.md §1 Out of scope); this is provided so
// cmd/crawld can bootstrap a local database without a separate
// migration tool.
const Schema = `
CREATE TABLE IF NOT EXISTS sites (
	id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name            TEXT NOT NULL,
	base_url        TEXT NOT NULL UNIQUE,
	crawler_id      TEXT NOT NULL,
	config          JSONB NOT NULL DEFAULT '{}',
	status          TEXT NOT NULL DEFAULT 'active',
	last_crawled_at TIMESTAMPTZ,
	pages_count     INTEGER NOT NULL DEFAULT 0,
	errors_count    INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pages (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	site_id       UUID NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	url           TEXT NOT NULL UNIQUE,
	title         TEXT,
	content       TEXT,
	content_hash  TEXT,
	metadata      JSONB NOT NULL DEFAULT '{}',
	status_code   INTEGER,
	content_type  TEXT,
	content_size  INTEGER,
	crawled_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_pages_site_id ON pages(site_id);
CREATE INDEX IF NOT EXISTS idx_pages_crawled_at ON pages(crawled_at);
CREATE INDEX IF NOT EXISTS idx_pages_content_hash ON pages(content_hash);
CREATE INDEX IF NOT EXISTS idx_pages_status_code ON pages(status_code);

CREATE TABLE IF NOT EXISTS jobs (
	id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	site_id        UUID NOT NULL REFERENCES sites(id) ON DELETE CASCADE,
	status         TEXT NOT NULL DEFAULT 'pending',
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ,
	pages_crawled  INTEGER NOT NULL DEFAULT 0,
	pages_found    INTEGER NOT NULL DEFAULT 0,
	errors_count   INTEGER NOT NULL DEFAULT 0,
	error_details  TEXT,
	config         JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_jobs_site_id ON jobs(site_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_started_at ON jobs(started_at);
CREATE INDEX IF NOT EXISTS idx_jobs_completed_at ON jobs(completed_at);
`

// Store is a postgres-backed persistence.Store.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn, pings it, and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logging.GetStorageLogger("open", "postgres").Info().Msg("connected to postgres")
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

const siteColumns = "id, name, base_url, crawler_id, config, status, last_crawled_at, pages_count, errors_count, created_at, updated_at"

type siteRow struct {
	ID            string     `db:"id"`
	Name          string     `db:"name"`
	BaseURL       string     `db:"base_url"`
	CrawlerID     string     `db:"crawler_id"`
	Config        []byte     `db:"config"`
	Status        string     `db:"status"`
	LastCrawledAt *time.Time `db:"last_crawled_at"`
	PagesCount    int        `db:"pages_count"`
	ErrorsCount   int        `db:"errors_count"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

func (r siteRow) toSite() (persistence.Site, error) {
	config, err := unmarshalAnyMap(r.Config)
	if err != nil {
		return persistence.Site{}, fmt.Errorf("decoding site config: %w", err)
	}
	return persistence.Site{
		ID: r.ID, Name: r.Name, BaseURL: r.BaseURL, CrawlerID: r.CrawlerID, Config: config,
		Status: persistence.SiteStatus(r.Status), LastCrawledAt: r.LastCrawledAt,
		PagesCount: r.PagesCount, ErrorsCount: r.ErrorsCount,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}, nil
}

func (s *Store) GetSiteByURL(ctx context.Context, baseURL string) (*persistence.Site, error) {
	var row siteRow
	err := s.db.GetContext(ctx, &row, `SELECT `+siteColumns+` FROM sites WHERE base_url = $1`, baseURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_site_by_url: %w", err)
	}
	site, err := row.toSite()
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *Store) CreateSite(ctx context.Context, attrs persistence.Site) (*persistence.Site, error) {
	if err := persistence.ValidateSite(attrs); err != nil {
		return nil, err
	}
	if attrs.Status == "" {
		attrs.Status = persistence.SiteActive
	}
	config, err := marshalJSONB(attrs.Config)
	if err != nil {
		return nil, fmt.Errorf("encoding site config: %w", err)
	}

	var row siteRow
	err = s.db.GetContext(ctx, &row, `
		INSERT INTO sites (name, base_url, crawler_id, config, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+siteColumns+`
	`, attrs.Name, attrs.BaseURL, attrs.CrawlerID, config, string(attrs.Status))
	if err != nil {
		return nil, fmt.Errorf("create_site: %w", err)
	}
	site, err := row.toSite()
	if err != nil {
		return nil, err
	}
	return &site, nil
}

const pageColumns = "id, site_id, url, title, content, content_hash, metadata, status_code, content_type, content_size, crawled_at, created_at, updated_at"

type pageRow struct {
	ID          string    `db:"id"`
	SiteID      string    `db:"site_id"`
	URL         string    `db:"url"`
	Title       *string   `db:"title"`
	Content     *string   `db:"content"`
	ContentHash *string   `db:"content_hash"`
	Metadata    []byte    `db:"metadata"`
	StatusCode  *int      `db:"status_code"`
	ContentType *string   `db:"content_type"`
	ContentSize *int      `db:"content_size"`
	CrawledAt   time.Time `db:"crawled_at"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r pageRow) toPage() (persistence.Page, error) {
	metadata, err := unmarshalStringMap(r.Metadata)
	if err != nil {
		return persistence.Page{}, fmt.Errorf("decoding page metadata: %w", err)
	}
	return persistence.Page{
		ID: r.ID, SiteID: r.SiteID, URL: r.URL, Title: r.Title, Content: r.Content,
		ContentHash: r.ContentHash, Metadata: metadata, StatusCode: r.StatusCode, ContentType: r.ContentType,
		ContentSize: r.ContentSize, CrawledAt: r.CrawledAt, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}, nil
}

// UpsertPage inserts or replaces the page at attrs.URL, recomputing
// ContentHash from Content whenever Content is present (spec.md §4.6).
// Content, Metadata, ContentHash, and timestamps are all replaced on
// conflict, matching the memory adapter.
func (s *Store) UpsertPage(ctx context.Context, attrs persistence.Page) (*persistence.Page, error) {
	if err := persistence.ValidatePage(attrs); err != nil {
		return nil, err
	}
	if attrs.Content != nil {
		hash := content.Hash(*attrs.Content)
		attrs.ContentHash = &hash
	}
	metadata, err := marshalJSONB(attrs.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding page metadata: %w", err)
	}

	var row pageRow
	err = s.db.GetContext(ctx, &row, `
		INSERT INTO pages (site_id, url, title, content, content_hash, metadata, status_code, content_type, content_size, crawled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (url) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			content_hash = EXCLUDED.content_hash,
			metadata = EXCLUDED.metadata,
			status_code = EXCLUDED.status_code,
			content_type = EXCLUDED.content_type,
			content_size = EXCLUDED.content_size,
			crawled_at = now(),
			updated_at = now()
		RETURNING `+pageColumns+`
	`, attrs.SiteID, attrs.URL, attrs.Title, attrs.Content, attrs.ContentHash, metadata, attrs.StatusCode, attrs.ContentType, attrs.ContentSize)
	if err != nil {
		return nil, fmt.Errorf("upsert_page: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE sites SET pages_count = (SELECT count(*) FROM pages WHERE site_id = $1), last_crawled_at = now()
		WHERE id = $1
	`, attrs.SiteID); err != nil {
		logging.GetStorageLogger("upsert_page", "postgres").Warn().Err(err).Msg("failed to roll up site pages_count")
	}

	page, err := row.toPage()
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *Store) GetPageByURL(ctx context.Context, url string) (*persistence.Page, error) {
	var row pageRow
	err := s.db.GetContext(ctx, &row, `SELECT `+pageColumns+` FROM pages WHERE url = $1`, url)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get_page_by_url: %w", err)
	}
	page, err := row.toPage()
	if err != nil {
		return nil, err
	}
	return &page, nil
}

type jobRow struct {
	ID           string     `db:"id"`
	SiteID       string     `db:"site_id"`
	Status       string     `db:"status"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	PagesCrawled int        `db:"pages_crawled"`
	PagesFound   int        `db:"pages_found"`
	ErrorsCount  int        `db:"errors_count"`
	ErrorDetails *string    `db:"error_details"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func (r jobRow) toJob() persistence.Job {
	return persistence.Job{
		ID: r.ID, SiteID: r.SiteID, Status: persistence.JobStatus(r.Status),
		StartedAt: r.StartedAt, CompletedAt: r.CompletedAt, PagesCrawled: r.PagesCrawled,
		PagesFound: r.PagesFound, ErrorsCount: r.ErrorsCount, ErrorDetails: r.ErrorDetails,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

const jobColumns = "id, site_id, status, started_at, completed_at, pages_crawled, pages_found, errors_count, error_details, created_at, updated_at"

func (s *Store) CreateJob(ctx context.Context, attrs persistence.Job) (*persistence.Job, error) {
	if attrs.Status == "" {
		attrs.Status = persistence.JobPending
	}
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO jobs (site_id, status) VALUES ($1, $2)
		RETURNING `+jobColumns, attrs.SiteID, string(attrs.Status))
	if err != nil {
		return nil, fmt.Errorf("create_job: %w", err)
	}
	job := row.toJob()
	return &job, nil
}

func (s *Store) StartJob(ctx context.Context, jobID string) (*persistence.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE jobs SET status = 'running', started_at = now(), pages_crawled = 0, pages_found = 0, errors_count = 0, updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns, jobID)
	if err != nil {
		return nil, fmt.Errorf("start_job: %w", err)
	}
	job := row.toJob()
	return &job, nil
}

func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, delta persistence.JobProgressDelta) error {
	sets := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)
	argIdx := 1

	if delta.PagesCrawled != nil {
		sets = append(sets, fmt.Sprintf("pages_crawled = pages_crawled + $%d", argIdx))
		args = append(args, *delta.PagesCrawled)
		argIdx++
	}
	if delta.PagesFound != nil {
		sets = append(sets, fmt.Sprintf("pages_found = pages_found + $%d", argIdx))
		args = append(args, *delta.PagesFound)
		argIdx++
	}
	if delta.ErrorsCount != nil {
		sets = append(sets, fmt.Sprintf("errors_count = errors_count + $%d", argIdx))
		args = append(args, *delta.ErrorsCount)
		argIdx++
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, jobID)

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE id = $%d", strings.Join(sets, ", "), argIdx)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update_job_progress: %w", err)
	}
	return nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID string, final persistence.JobStatus) (*persistence.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE jobs SET status = $2, completed_at = now(), updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns, jobID, string(final))
	if err != nil {
		return nil, fmt.Errorf("complete_job: %w", err)
	}
	job := row.toJob()
	return &job, nil
}

func (s *Store) AddJobError(ctx context.Context, jobID string, msg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			errors_count = errors_count + 1,
			error_details = CASE WHEN error_details IS NULL OR error_details = '' THEN $2 ELSE error_details || E'\n' || $2 END,
			updated_at = now()
		WHERE id = $1
	`, jobID, msg)
	if err != nil {
		return fmt.Errorf("add_job_error: %w", err)
	}
	return nil
}

func (s *Store) ListPagesForSitePaginated(ctx context.Context, siteID string, page, perPage int) ([]persistence.Page, int, error) {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * perPage

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT count(*) FROM pages WHERE site_id = $1`, siteID); err != nil {
		return nil, 0, fmt.Errorf("list_pages_for_site_paginated count: %w", err)
	}

	var rows []pageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+pageColumns+`
		FROM pages WHERE site_id = $1 ORDER BY crawled_at DESC LIMIT $2 OFFSET $3
	`, siteID, perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list_pages_for_site_paginated: %w", err)
	}

	pages, err := toPages(rows)
	if err != nil {
		return nil, 0, err
	}
	return pages, total, nil
}

func (s *Store) SearchPages(ctx context.Context, query string, opts persistence.SearchOptions) ([]persistence.Page, int, error) {
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * perPage

	pattern := "%" + query + "%"
	whereSite := ""
	args := []interface{}{pattern}
	if opts.SiteID != "" {
		whereSite = " AND site_id = $2"
		args = append(args, opts.SiteID)
	}
	args = append(args, perPage, offset)

	var total int
	countArgs := []interface{}{pattern}
	countQuery := `SELECT count(*) FROM pages WHERE (title ILIKE $1 OR content ILIKE $1 OR url ILIKE $1)`
	if opts.SiteID != "" {
		countQuery += " AND site_id = $2"
		countArgs = append(countArgs, opts.SiteID)
	}
	if err := s.db.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("search_pages count: %w", err)
	}

	limitPos := len(args) - 1
	offsetPos := len(args)
	selectQuery := fmt.Sprintf(`
		SELECT `+pageColumns+`
		FROM pages WHERE (title ILIKE $1 OR content ILIKE $1 OR url ILIKE $1)%s
		ORDER BY crawled_at DESC LIMIT $%d OFFSET $%d
	`, whereSite, limitPos, offsetPos)

	var rows []pageRow
	if err := s.db.SelectContext(ctx, &rows, selectQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("search_pages: %w", err)
	}

	pages, err := toPages(rows)
	if err != nil {
		return nil, 0, err
	}
	return pages, total, nil
}

func (s *Store) GetCrawlingStats(ctx context.Context) (persistence.CrawlingStats, error) {
	var stats persistence.CrawlingStats
	if err := s.db.GetContext(ctx, &stats.TotalSites, `SELECT count(*) FROM sites`); err != nil {
		return stats, fmt.Errorf("get_crawling_stats sites: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.TotalPages, `SELECT count(*) FROM pages`); err != nil {
		return stats, fmt.Errorf("get_crawling_stats pages: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.TotalJobs, `SELECT count(*) FROM jobs`); err != nil {
		return stats, fmt.Errorf("get_crawling_stats jobs: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.ActiveJobs, `SELECT count(*) FROM jobs WHERE status = 'running'`); err != nil {
		return stats, fmt.Errorf("get_crawling_stats active_jobs: %w", err)
	}
	if err := s.db.GetContext(ctx, &stats.TotalErrors, `SELECT coalesce(sum(errors_count), 0) FROM jobs`); err != nil {
		return stats, fmt.Errorf("get_crawling_stats errors: %w", err)
	}
	return stats, nil
}

func (s *Store) GetSiteStats(ctx context.Context, siteID string) (persistence.SiteStats, error) {
	var row siteRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+siteColumns+` FROM sites WHERE id = $1`, siteID); err != nil {
		return persistence.SiteStats{}, fmt.Errorf("get_site_stats: %w", err)
	}

	var lastStatus sql.NullString
	_ = s.db.GetContext(ctx, &lastStatus, `SELECT status FROM jobs WHERE site_id = $1 ORDER BY updated_at DESC LIMIT 1`, siteID)

	return persistence.SiteStats{
		SiteID: siteID, PagesCount: row.PagesCount, ErrorsCount: row.ErrorsCount,
		LastCrawledAt: row.LastCrawledAt, LastJobStatus: persistence.JobStatus(lastStatus.String),
	}, nil
}

func (s *Store) GetRecentActivity(ctx context.Context, limit int) ([]persistence.Page, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []pageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+pageColumns+`
		FROM pages ORDER BY crawled_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get_recent_activity: %w", err)
	}
	return toPages(rows)
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func toPages(rows []pageRow) ([]persistence.Page, error) {
	pages := make([]persistence.Page, 0, len(rows))
	for _, r := range rows {
		page, err := r.toPage()
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}
