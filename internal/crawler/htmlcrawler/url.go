package htmlcrawler

import (
	"net/url"
	"strings"
)

// normalizeURL implements spec.md §3's Work Item normalization:
// lowercased scheme/host, trailing slash on an empty path. URL
// equality for dedup purposes is by exact string after this
// normalization (spec.md §6).
func normalizeURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// resolveURL resolves href against base and normalizes the result.
// Returns "" if href cannot be resolved into an absolute http(s) URL.
func resolveURL(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	resolved := baseURL.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	normalized, err := normalizeURL(resolved.String())
	if err != nil {
		return ""
	}
	return normalized
}
