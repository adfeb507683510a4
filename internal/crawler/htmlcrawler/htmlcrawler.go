// Package htmlcrawler is the reference Crawler implementation shipped
// with the core: it fetches HTML, PDF, and DOCX pages through an
// injected Fetcher (the browser automation driver is an external
// collaborator per spec.md §1 — this package only depends on its
// narrow Fetch contract), extracts content and links, and drives the
// shared link-store/content-store helpers from internal/crawler.
package htmlcrawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/caiatech/crawlcore/internal/crawler"
	"github.com/caiatech/crawlcore/internal/persistence"
	"github.com/caiatech/crawlcore/internal/queue"
	"github.com/caiatech/crawlcore/internal/ratelimit"
	"github.com/caiatech/crawlcore/internal/registry"
	"github.com/caiatech/crawlcore/pkg/logging"
)

// FetchResult is what the opaque fetcher returns for one URL. It
// doubles as the Session handed to ExtractLinks/ExtractContent.
type FetchResult struct {
	Body        []byte
	ContentType string
	StatusCode  int
}

// Fetcher is the narrow contract the browser automation driver must
// satisfy. Timeouts surface as context.DeadlineExceeded; network
// failures as any other error; HTTP failures are reported via
// StatusCode on a non-nil result with a nil error (the crawler turns
// 4xx/5xx into the appropriate Reason).
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}

// Config is the reference crawler's effective configuration. GetConfig
// returns a map view of it without SeedURLs and MaxPDFPages.
type Config struct {
	SiteID         string
	CrawlerID      string
	SeedURLs       []string
	AllowedDomains []string // empty means allow all domains
	AllowPatterns  []string // regexps; empty means allow all
	DenyPatterns   []string // regexps; checked before AllowPatterns, a match rejects
	MaxPDFPages    int      // 0 means unlimited
	RespectRobots  bool     // see note in ShouldCrawlURL

	// PolitenessInterval is the minimum spacing between requests to
	// the same domain. Zero disables politeness pacing.
	PolitenessInterval time.Duration
}

// Crawler is the reference implementation of crawler.Crawler.
type Crawler struct {
	config   Config
	fetcher  Fetcher
	queue    *queue.Queue
	registry *registry.Registry
	store    persistence.Store

	allowRe []*regexp.Regexp
	denyRe  []*regexp.Regexp

	limiter *ratelimit.Limiter
	log     zerolog.Logger
}

// New builds a reference crawler bound to the given queue, registry,
// and persistence store. Regexps in config are compiled here; invalid
// ones are skipped with a warning rather than failing construction,
// matching the teacher's tolerant-config style (see compliance.go's
// DefaultComplianceConfig handling of optional lists).
func New(config Config, fetcher Fetcher, q *queue.Queue, reg *registry.Registry, store persistence.Store) *Crawler {
	c := &Crawler{
		config:   config,
		fetcher:  fetcher,
		queue:    q,
		registry: reg,
		store:    store,
		log:      logging.GetLogger("htmlcrawler").With().Str("crawler_id", config.CrawlerID).Logger(),
	}
	c.allowRe = compilePatterns(c.log, config.AllowPatterns)
	c.denyRe = compilePatterns(c.log, config.DenyPatterns)
	if config.PolitenessInterval > 0 {
		c.limiter = ratelimit.New(config.PolitenessInterval)
	}
	return c
}

func compilePatterns(log zerolog.Logger, patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			log.Warn().Str("pattern", p).Err(err).Msg("skipping invalid url pattern")
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

// Init seeds the configured URLs into the queue. Idempotent: seeding
// relies on the queue's own push-time dedup, so calling Init twice
// simply drops the second batch.
func (c *Crawler) Init(ctx context.Context) error {
	items := make([]queue.Item, 0, len(c.config.SeedURLs))
	for _, raw := range c.config.SeedURLs {
		normalized, err := normalizeURL(raw)
		if err != nil {
			c.log.Warn().Str("url", raw).Err(err).Msg("skipping unparseable seed url")
			continue
		}
		items = append(items, queue.Item{URL: normalized, CrawlerID: c.config.CrawlerID})
	}
	admitted := c.queue.PushBatch(items)
	c.log.Info().Int("seeded", admitted).Int("configured", len(c.config.SeedURLs)).Msg("crawler initialized")
	return nil
}

// ShouldCrawlURL is the admission filter: domain allow-list, deny then
// allow regexp rules, then the http/https scheme allow-list. Robots.txt
// compliance is explicitly not implemented (spec.md Non-goals / Open
// Questions); RespectRobots is accepted for forward compatibility and,
// when set, a debug line noting that it is not enforced is logged on
// every call rather than the flag being silently ignored.
func (c *Crawler) ShouldCrawlURL(rawURL string) bool {
	normalized, err := normalizeURL(rawURL)
	if err != nil {
		return false
	}

	if c.config.RespectRobots {
		c.log.Debug().Msg("respect_robots is set but robots.txt enforcement is not implemented; treating as permissive")
	}

	host := hostOf(normalized)
	if len(c.config.AllowedDomains) > 0 && !domainAllowed(host, c.config.AllowedDomains) {
		return false
	}

	for _, re := range c.denyRe {
		if re.MatchString(normalized) {
			return false
		}
	}
	if len(c.allowRe) > 0 {
		allowed := false
		for _, re := range c.allowRe {
			if re.MatchString(normalized) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	return strings.HasPrefix(normalized, "http://") || strings.HasPrefix(normalized, "https://")
}

// GetConfig returns the crawler's effective configuration.
func (c *Crawler) GetConfig() map[string]interface{} {
	return map[string]interface{}{
		"site_id":              c.config.SiteID,
		"crawler_id":           c.config.CrawlerID,
		"allowed_domains":      c.config.AllowedDomains,
		"allow_patterns":       c.config.AllowPatterns,
		"deny_patterns":        c.config.DenyPatterns,
		"respect_robots":      c.config.RespectRobots,
		"politeness_interval": c.config.PolitenessInterval.String(),
	}
}

// Crawl fetches url, extracts content and links, persists the page,
// and enqueues newly discovered links. Implements the full per-site
// crawl() contract from spec.md §4.3.
func (c *Crawler) Crawl(ctx context.Context, url string) error {
	if c.limiter != nil {
		normalized, nerr := normalizeURL(url)
		if nerr == nil {
			if err := c.limiter.Wait(ctx, hostOf(normalized)); err != nil {
				return crawler.NewError(crawler.Reason{Kind: crawler.KindOther, Msg: err.Error()})
			}
		}
	}

	result, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		if c.limiter != nil {
			c.limiter.RecordError(hostOf(url))
		}
		return classifyFetchError(err)
	}
	if result.StatusCode >= 400 {
		if c.limiter != nil && result.StatusCode >= 500 {
			c.limiter.RecordError(hostOf(url))
		}
		return crawler.HTTPError(result.StatusCode)
	}
	if c.limiter != nil {
		c.limiter.RecordSuccess(hostOf(url))
	}

	extracted, err := c.ExtractContent(result, url)
	if err != nil {
		return crawler.NewError(crawler.Reason{Kind: crawler.KindUnexpectedReturn, Msg: err.Error()})
	}

	if _, err := crawler.UpsertPageFromExtraction(ctx, c.store, c.config.SiteID, url, extracted); err != nil {
		return err
	}

	if isHTML(result.ContentType) {
		_, _, _, links, err := extractHTML(result.Body, url)
		if err != nil {
			c.log.Warn().Str("url", url).Err(err).Msg("link extraction failed, continuing without links")
		} else if len(links) > 0 {
			admitted := crawler.FilterAndEnqueueLinks(c.queue, c.registry, c.config.CrawlerID, links, c.ShouldCrawlURL)
			c.log.Debug().Str("url", url).Int("discovered", len(links)).Int("admitted", admitted).Msg("link discovery")
		}
	}

	return nil
}

// ExtractContent dispatches to the HTML, PDF, or DOCX extractor based
// on the session's content type.
func (c *Crawler) ExtractContent(session crawler.Session, url string) (*crawler.ExtractedContent, error) {
	result, ok := session.(*FetchResult)
	if !ok {
		return nil, fmt.Errorf("htmlcrawler: unexpected session type %T", session)
	}

	metadata := map[string]string{"source_url": url}

	switch {
	case isHTML(result.ContentType):
		title, description, text, _, err := extractHTML(result.Body, url)
		if err != nil {
			return nil, err
		}
		if description != "" {
			metadata["description"] = description
		}
		return &crawler.ExtractedContent{
			Title:       title,
			Content:     text,
			Metadata:    metadata,
			ContentType: result.ContentType,
			StatusCode:  result.StatusCode,
			ContentSize: len(result.Body),
		}, nil

	case strings.Contains(result.ContentType, "application/pdf"):
		text, err := extractPDFText(result.Body, c.config.MaxPDFPages)
		if err != nil {
			return nil, err
		}
		return &crawler.ExtractedContent{
			Content:     text,
			Metadata:    metadata,
			ContentType: result.ContentType,
			StatusCode:  result.StatusCode,
			ContentSize: len(result.Body),
		}, nil

	case isDOCX(result.ContentType):
		text, err := extractDOCXText(result.Body)
		if err != nil {
			return nil, err
		}
		return &crawler.ExtractedContent{
			Content:     text,
			Metadata:    metadata,
			ContentType: result.ContentType,
			StatusCode:  result.StatusCode,
			ContentSize: len(result.Body),
		}, nil

	default:
		return &crawler.ExtractedContent{
			Content:     string(result.Body),
			Metadata:    metadata,
			ContentType: result.ContentType,
			StatusCode:  result.StatusCode,
			ContentSize: len(result.Body),
		}, nil
	}
}

// ExtractLinks returns the links found in an HTML session. The session
// does not carry the page URL, so relative hrefs cannot be resolved and
// are omitted; only absolute http(s) links are returned.
func (c *Crawler) ExtractLinks(session crawler.Session) ([]string, error) {
	result, ok := session.(*FetchResult)
	if !ok {
		return nil, fmt.Errorf("htmlcrawler: unexpected session type %T", session)
	}
	if !isHTML(result.ContentType) {
		return nil, nil
	}
	_, _, _, links, err := extractHTML(result.Body, "")
	return links, err
}

func isHTML(contentType string) bool {
	return strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml+xml")
}

func isDOCX(contentType string) bool {
	return strings.Contains(contentType, "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
}

func hostOf(normalizedURL string) string {
	if idx := strings.Index(normalizedURL, "://"); idx != -1 {
		rest := normalizedURL[idx+3:]
		if end := strings.IndexAny(rest, "/?#"); end != -1 {
			return rest[:end]
		}
		return rest
	}
	return ""
}

func domainAllowed(host string, allowed []string) bool {
	for _, domain := range allowed {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// classifyFetchError converts a raw fetcher error into a Reason,
// matching the classifier's Transient/Permanent split from spec.md §7.
func classifyFetchError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return crawler.Timeout(err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return crawler.Timeout(err.Error())
		}
		return crawler.NetworkError(err.Error())
	}
	return crawler.NetworkError(err.Error())
}
