package crawler

import "fmt"

// Kind enumerates the closed set of failure reasons a crawl can
// surface, per spec.md §3/§7. It is deliberately exhaustive so the
// retry classifier (ShouldRetry) is a plain switch, not a set of
// string comparisons.
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindNetworkError      Kind = "network_error"
	KindHTTPError         Kind = "http_error"
	KindBrowserError      Kind = "browser_error"
	KindTemporaryFailure  Kind = "temporary_failure"
	KindInvalidCrawler    Kind = "invalid_crawler"
	KindUnexpectedReturn  Kind = "unexpected_return"
	KindStorageError      Kind = "storage_error"
	KindOther             Kind = "other"
)

// Reason is the sum type carried by a failed crawl outcome. Only the
// field matching Kind is meaningful: Status for KindHTTPError, ID for
// KindInvalidCrawler, Msg otherwise.
type Reason struct {
	Kind   Kind
	Status int    // populated for KindHTTPError
	ID     string // populated for KindInvalidCrawler
	Msg    string
}

func (r Reason) Error() string {
	switch r.Kind {
	case KindHTTPError:
		return fmt.Sprintf("http_error: %d", r.Status)
	case KindInvalidCrawler:
		return fmt.Sprintf("invalid_crawler: %s", r.ID)
	default:
		if r.Msg != "" {
			return fmt.Sprintf("%s: %s", r.Kind, r.Msg)
		}
		return string(r.Kind)
	}
}

// Formatted renders the reason the way C2's last_error field expects
// it (see spec.md §8 scenario S4: `"Network error: :reset"`).
func (r Reason) Formatted() string {
	switch r.Kind {
	case KindTimeout:
		return fmt.Sprintf("Timeout: %s", r.Msg)
	case KindNetworkError:
		return fmt.Sprintf("Network error: %s", r.Msg)
	case KindHTTPError:
		return fmt.Sprintf("HTTP error: %d", r.Status)
	case KindBrowserError:
		return fmt.Sprintf("Browser error: %s", r.Msg)
	case KindTemporaryFailure:
		return fmt.Sprintf("Temporary failure: %s", r.Msg)
	case KindInvalidCrawler:
		return fmt.Sprintf("Invalid crawler: %s", r.ID)
	case KindStorageError:
		return fmt.Sprintf("Storage error: %s", r.Msg)
	default:
		return r.Error()
	}
}

// ShouldRetry implements the retry classification table from spec.md
// §4.5: transient reasons (timeout, network_error, browser_error,
// temporary_failure, and http_error with status >= 500) are retried;
// everything else is not. The 3-retry ceiling enforced by the queue is
// the ultimate bound — this only decides whether re-admission is
// attempted at all.
func (r Reason) ShouldRetry() bool {
	switch r.Kind {
	case KindTimeout, KindNetworkError, KindBrowserError, KindTemporaryFailure:
		return true
	case KindHTTPError:
		return r.Status >= 500
	default:
		return false
	}
}

// Error wraps a Reason so it satisfies the standard error interface
// while remaining recoverable via As/AsReason.
type Error struct {
	Reason Reason
}

func (e *Error) Error() string { return e.Reason.Error() }

// NewError builds an *Error for reason.
func NewError(reason Reason) *Error { return &Error{Reason: reason} }

// Timeout, NetworkError, HTTPError, BrowserError, and TemporaryFailure
// are convenience constructors used by crawler implementations.
func Timeout(msg string) *Error          { return NewError(Reason{Kind: KindTimeout, Msg: msg}) }
func NetworkError(msg string) *Error     { return NewError(Reason{Kind: KindNetworkError, Msg: msg}) }
func HTTPError(status int) *Error        { return NewError(Reason{Kind: KindHTTPError, Status: status}) }
func BrowserError(msg string) *Error     { return NewError(Reason{Kind: KindBrowserError, Msg: msg}) }
func TemporaryFailure(msg string) *Error { return NewError(Reason{Kind: KindTemporaryFailure, Msg: msg}) }

// AsReason extracts the Reason carried by err, converting any other
// error into a catch-all KindOther reason. A nil err is not a valid
// input — callers only classify after confirming Crawl failed.
func AsReason(err error) Reason {
	if ce, ok := err.(*Error); ok {
		return ce.Reason
	}
	return Reason{Kind: KindOther, Msg: err.Error()}
}
