package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors used to classify failures across the pipeline.
var (
	// ErrTransient marks failures worth retrying: timeouts, resets, 5xx, 429.
	ErrTransient = errors.New("transient fetch failure")
	// ErrPermanent marks failures that will not improve on retry: 4xx, malformed bodies.
	ErrPermanent = errors.New("permanent fetch failure")
	// ErrUnusableContent is returned when a 2xx body is too short to hold listings.
	ErrUnusableContent = errors.New("unusable content")
	// ErrDomainBlocked is returned when a host tripped the forbidden threshold.
	ErrDomainBlocked = errors.New("domain blocked")
	// ErrFallbackExhausted is returned when every entry URL of a board failed.
	ErrFallbackExhausted = errors.New("fallback urls exhausted")
	// ErrClientRendered is returned when a board serves a script shell with no cards.
	ErrClientRendered = errors.New("board requires client-side rendering")
	// ErrUnauthorized is returned when the ingest backend rejects the shared secret.
	ErrUnauthorized = errors.New("ingest rejected credentials")
	// ErrAllSourcesFailed is returned when a run produced nothing and every source failed.
	ErrAllSourcesFailed = errors.New("all sources failed")
	// ErrMissingConfig is returned when required configuration is absent.
	ErrMissingConfig = errors.New("missing configuration")
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRunInProgress is returned when a run is requested while another is active.
	ErrRunInProgress = errors.New("run already in progress")
)

// FetchError describes a failed fetch of a single URL.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ClassifyStatus maps an HTTP status to nil (success), ErrTransient or ErrPermanent.
func ClassifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 429 || status >= 500:
		return ErrTransient
	default:
		return ErrPermanent
	}
}

// SourceError attributes a failure to a configured source (or one company of it).
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// FailedSources lists the source labels found in err, in order, without duplicates.
func FailedSources(err error) []string {
	if err == nil {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if se, ok := e.(*SourceError); ok {
			if _, dup := seen[se.Source]; !dup {
				seen[se.Source] = struct{}{}
				out = append(out, se.Source)
			}
			return
		}
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				walk(inner)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
