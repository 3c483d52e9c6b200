package crawler

import (
	"net/url"
	"strings"
)

// HostPatterns matches hosts against configured exclusions. An entry is an
// exact host ("linkedin.com"), a suffix ("*.indeed.com" or ".indeed.com") or
// a URL whose host is used ("https://www.glassdoor.co.uk/Job").
type HostPatterns struct {
	exact    map[string]string
	suffixes []string
	patterns map[string]string
}

// NewHostPatterns parses entries. It returns nil when none is usable, and a
// nil *HostPatterns matches nothing.
func NewHostPatterns(entries []string) *HostPatterns {
	p := &HostPatterns{exact: make(map[string]string), patterns: make(map[string]string)}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		value := strings.ToLower(entry)
		if strings.Contains(value, "://") {
			u, err := url.Parse(value)
			if err != nil || u.Hostname() == "" {
				continue
			}
			value = u.Hostname()
		}
		switch {
		case strings.HasPrefix(value, "*."):
			p.addSuffix(strings.TrimPrefix(value, "*."), entry)
		case strings.HasPrefix(value, "."):
			p.addSuffix(strings.TrimPrefix(value, "."), entry)
		default:
			if _, dup := p.exact[value]; !dup {
				p.exact[value] = entry
			}
		}
	}
	if len(p.exact) == 0 && len(p.suffixes) == 0 {
		return nil
	}
	return p
}

func (p *HostPatterns) addSuffix(suffix, entry string) {
	if suffix == "" {
		return
	}
	if _, dup := p.patterns[suffix]; dup {
		return
	}
	p.patterns[suffix] = entry
	p.suffixes = append(p.suffixes, suffix)
}

// Match returns the configured entry that excludes host. Exact entries win
// over suffixes, and earlier suffixes over later ones.
func (p *HostPatterns) Match(host string) (string, bool) {
	if p == nil {
		return "", false
	}
	host = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(host)), ".")
	if host == "" {
		return "", false
	}
	if entry, ok := p.exact[host]; ok {
		return entry, true
	}
	for _, suffix := range p.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return p.patterns[suffix], true
		}
	}
	return "", false
}
