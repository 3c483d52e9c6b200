package crawler

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var trackingParams = map[string]struct{}{
	"gclid":   {},
	"fbclid":  {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"mkt_tok": {},
}

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, drops tracking
// parameters, sorts the remaining query parameters and removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	// Lowercase scheme and host
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	// Remove default ports
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	// Remove fragment
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if _, tracked := trackingParams[lk]; tracked || strings.HasPrefix(lk, "utm_") {
			q.Del(k)
		}
	}
	for k := range q {
		sort.Strings(q[k])
	}
	// Encode sorts by key.
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// ResolveURL resolves ref against base and returns an absolute http(s) URL.
func ResolveURL(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty url")
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse ref: %w", err)
	}
	if !refURL.IsAbs() {
		baseURL, err := url.Parse(strings.TrimSpace(base))
		if err != nil {
			return "", fmt.Errorf("parse base: %w", err)
		}
		if !baseURL.IsAbs() {
			return "", fmt.Errorf("relative url %q without absolute base", ref)
		}
		refURL = baseURL.ResolveReference(refURL)
	}
	scheme := strings.ToLower(refURL.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", refURL.Scheme)
	}
	if refURL.Host == "" {
		return "", fmt.Errorf("url %q has no host", ref)
	}
	return refURL.String(), nil
}

// Hostname returns the lowercase host of rawURL or "unknown".
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
