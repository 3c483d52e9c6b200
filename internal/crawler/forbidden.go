package crawler

import (
	"context"
	"sort"
	"strings"
	"sync"
)

const defaultForbiddenThreshold = 3

type sourceKey struct{}

// WithSource tags ctx with the label of the source whose requests it carries.
func WithSource(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, sourceKey{}, label)
}

// SourceFrom returns the source label set by WithSource, or "".
func SourceFrom(ctx context.Context) string {
	label, _ := ctx.Value(sourceKey{}).(string)
	return label
}

// HostBlock records a host that stopped being fetched during a run because
// it kept answering 401 or 403.
type HostBlock struct {
	Host string `json:"host"`
	// TrippedBy is the source whose request reached the threshold.
	TrippedBy string `json:"tripped_by,omitempty"`
	// Sources lists every source that was refused by the host, sorted.
	Sources   []string `json:"sources,omitempty"`
	Forbidden int      `json:"forbidden"`
}

type hostCount struct {
	forbidden int
	sources   map[string]struct{}
	trippedBy string
	blocked   bool
}

// ForbiddenHosts counts 401/403 answers per host and blocks a host for the
// rest of the run once it reaches the threshold. Boards on shared ATS hosts
// are refused together, so each block remembers which sources were involved.
type ForbiddenHosts struct {
	mu        sync.Mutex
	threshold int
	hosts     map[string]*hostCount
}

// NewForbiddenHosts builds a tracker. A threshold <= 0 selects the default.
func NewForbiddenHosts(threshold int) *ForbiddenHosts {
	if threshold <= 0 {
		threshold = defaultForbiddenThreshold
	}
	return &ForbiddenHosts{threshold: threshold, hosts: make(map[string]*hostCount)}
}

// Blocked reports whether host is refused for the rest of the run.
func (f *ForbiddenHosts) Blocked(host string) bool {
	key := hostKey(host)
	if key == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hosts[key]
	return ok && h.blocked
}

// Record counts one forbidden answer from host to source. It returns the
// block and true only for the answer that trips the threshold.
func (f *ForbiddenHosts) Record(host, source string) (HostBlock, bool) {
	key := hostKey(host)
	if key == "" {
		return HostBlock{}, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hosts[key]
	if !ok {
		h = &hostCount{sources: make(map[string]struct{})}
		f.hosts[key] = h
	}
	h.forbidden++
	if source != "" {
		h.sources[source] = struct{}{}
	}
	if h.blocked || h.forbidden < f.threshold {
		return HostBlock{}, false
	}
	h.blocked = true
	h.trippedBy = source
	return h.block(key), true
}

// Drain returns the blocked hosts sorted by name and forgets every count, so
// the next run starts with no host blocked.
func (f *ForbiddenHosts) Drain() []HostBlock {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []HostBlock
	for key, h := range f.hosts {
		if h.blocked {
			out = append(out, h.block(key))
		}
	}
	f.hosts = make(map[string]*hostCount)
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

func (h *hostCount) block(host string) HostBlock {
	sources := make([]string, 0, len(h.sources))
	for s := range h.sources {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return HostBlock{Host: host, TrippedBy: h.trippedBy, Sources: sources, Forbidden: h.forbidden}
}

func hostKey(host string) string {
	key := strings.TrimSpace(strings.ToLower(host))
	if key == "unknown" {
		return ""
	}
	return key
}
