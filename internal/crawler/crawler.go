// Package crawler defines the pluggable per-site crawler contract
// (C3) that the pipeline (C5) invokes, plus the shared link-store and
// content-store helpers every implementation uses to talk to the
// queue (C1), registry (C2), and persistence adapter (C6).
package crawler

import "context"

// Session is the opaque per-crawl handle produced by Crawl and handed
// to ExtractLinks/ExtractContent. The browser automation driver that
// actually fetches pages is an external collaborator (spec.md §1); the
// core only ever passes Session through without inspecting it.
type Session interface{}

// ExtractedContent is what ExtractContent produces for a single URL.
type ExtractedContent struct {
	Title       string
	Content     string
	Metadata    map[string]string
	ContentType string
	StatusCode  int
	ContentSize int
}

// ErrorAction is handle_error's return value.
type ErrorAction string

const (
	ActionRetry ErrorAction = "retry"
	ActionSkip  ErrorAction = "skip"
	ActionStop  ErrorAction = "stop"
)

// Crawler is the contract every site-specific implementation must
// satisfy (spec.md §4.3).
type Crawler interface {
	// Init seeds initial URLs into the queue. Must be idempotent.
	Init(ctx context.Context) error

	// Crawl fetches url, extracts content and links, persists the
	// page, and enqueues newly discovered links. Returns nil on
	// success or an *Error describing the failure reason.
	Crawl(ctx context.Context, url string) error

	// ExtractLinks produces the unordered set of absolute URLs found
	// during the session that produced this Crawl call.
	ExtractLinks(session Session) ([]string, error)

	// ExtractContent produces the extracted-content record for url
	// from the given session.
	ExtractContent(session Session, url string) (*ExtractedContent, error)

	// ShouldCrawlURL is the admission filter: domain allow-list,
	// scheme allow-list, and pattern rules. Robots.txt compliance is
	// explicitly not implemented here — see spec.md Open Questions.
	ShouldCrawlURL(url string) bool

	// GetConfig returns the crawler's effective configuration.
	GetConfig() map[string]interface{}
}

// ErrorHandler is the optional handle_error contract. A crawler that
// does not implement it falls back to DefaultHandleError.
type ErrorHandler interface {
	HandleError(url string, err error) ErrorAction
}

// DefaultHandleError implements the default handle_error policy from
// spec.md §4.3: retry for timeout/network_error/browser_error and
// http_error >= 500; skip otherwise. This is narrower than
// Reason.ShouldRetry, which also retries temporary_failure for §4.5's
// classifier; §4.3's default handle_error list does not, so it is
// special-cased to skip here rather than delegating straight through.
func DefaultHandleError(err error) ErrorAction {
	reason := AsReason(err)
	if reason.Kind == KindTemporaryFailure {
		return ActionSkip
	}
	if reason.ShouldRetry() {
		return ActionRetry
	}
	return ActionSkip
}

// HandleError dispatches to crawlerImpl.HandleError if it implements
// ErrorHandler, otherwise applies DefaultHandleError. The default
// classifier is authoritative when a crawler does not override it,
// per spec.md §4.3.
func HandleError(crawlerImpl Crawler, url string, err error) ErrorAction {
	if handler, ok := crawlerImpl.(ErrorHandler); ok {
		return handler.HandleError(url, err)
	}
	return DefaultHandleError(err)
}
