// Package simple contains the configuration-driven admission policy.
package simple

import (
	"fmt"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

// Policy refuses fetches to hosts on the configured exclusion list, such as
// aggregators whose terms forbid scraping.
type Policy struct {
	excluded *crawler.HostPatterns
}

// New creates a new Policy. See crawler.NewHostPatterns for entry forms.
func New(excluded []string) *Policy {
	return &Policy{excluded: crawler.NewHostPatterns(excluded)}
}

// Admit returns nil when rawURL may be requested. A refusal wraps
// crawler.ErrDomainBlocked and names the entry that matched.
func (p *Policy) Admit(rawURL string) error {
	if p == nil {
		return nil
	}
	host := crawler.Hostname(rawURL)
	if entry, ok := p.excluded.Match(host); ok {
		return fmt.Errorf("%w: %s excluded by %q", crawler.ErrDomainBlocked, host, entry)
	}
	return nil
}
