// Package extract finds repeated job cards in a parsed page and turns them
// into raw postings. It works on the Element abstraction only, so it has no
// knowledge of HTML parsing or networking.
package extract

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

// Element is the read-only view of a document node the extractor needs.
type Element interface {
	// Tag is the lowercase element name.
	Tag() string
	// Attr returns the attribute value or "".
	Attr(name string) string
	// Classes lists the class tokens in document order.
	Classes() []string
	// Children lists element children in document order.
	Children() []Element
	// Text is the whitespace-collapsed text content.
	Text() string
}

// Options tunes card detection.
type Options struct {
	// MinGroupSize is the smallest sibling group treated as a listing.
	MinGroupSize int
	// MinCardText is the text length that makes a linked member card-like
	// even without a heading.
	MinCardText int
}

// DefaultOptions returns the detection thresholds used when none are configured.
func DefaultOptions() Options {
	return Options{MinGroupSize: 2, MinCardText: 40}
}

// Extractor turns pages into raw postings.
type Extractor struct {
	opts   Options
	logger *zap.Logger
}

// New builds an Extractor.
func New(opts Options, logger *zap.Logger) *Extractor {
	def := DefaultOptions()
	if opts.MinGroupSize < 2 {
		opts.MinGroupSize = def.MinGroupSize
	}
	if opts.MinCardText <= 0 {
		opts.MinCardText = def.MinCardText
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{opts: opts, logger: logger.Named("extract")}
}

// Extract returns one posting per detected card, in document order, tagged
// with source. Relative links resolve against baseURL. Members without a
// usable link are skipped; members with a link but no title are kept so the
// normalizer can account for them. When a candidate group wraps another
// candidate group, such as department sections holding job lists, only the
// inner group is used.
func (e *Extractor) Extract(root Element, source, baseURL string) []crawler.RawPosting {
	if root == nil {
		return nil
	}
	var out []crawler.RawPosting
	seen := make(map[string]struct{})
	groups, _ := e.collect(root, source)
	for _, group := range groups {
		for _, rec := range e.processGroup(group, source, baseURL) {
			if _, dup := seen[rec.ApplyURL]; dup {
				continue
			}
			seen[rec.ApplyURL] = struct{}{}
			out = append(out, rec)
		}
	}
	return out
}

// collect returns the innermost candidate groups below el in document order.
// The flag reports whether any candidate group, kept or not, sits below el.
func (e *Extractor) collect(el Element, source string) ([][]Element, bool) {
	children := el.Children()
	nested := make([][][]Element, len(children))
	wraps := make([]bool, len(children))
	found := false
	for i, child := range children {
		nested[i], wraps[i] = e.collect(child, source)
		found = found || wraps[i]
	}

	local := e.safeGroups(children)
	found = found || len(local) > 0
	startsAt := make(map[int][]Element, len(local))
	for _, idx := range local {
		if containsAny(idx, wraps) {
			e.logger.Debug("skipping outer group wrapping nested listings",
				zap.String("source", source),
				zap.String("signature", signature(children[idx[0]])),
				zap.Int("members", len(idx)),
			)
			continue
		}
		members := make([]Element, len(idx))
		for j, k := range idx {
			members[j] = children[k]
		}
		startsAt[idx[0]] = members
	}

	var out [][]Element
	for i := range children {
		if members, ok := startsAt[i]; ok {
			out = append(out, members)
		}
		out = append(out, nested[i]...)
	}
	return out, found
}

func containsAny(idx []int, flags []bool) bool {
	for _, k := range idx {
		if flags[k] {
			return true
		}
	}
	return false
}

func (e *Extractor) safeGroups(children []Element) (groups [][]int) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("skipping siblings after panic",
				zap.Int("siblings", len(children)),
				zap.String("panic", fmt.Sprint(r)),
			)
			groups = nil
		}
	}()
	return e.groups(children)
}

// groups returns the candidate sibling groups of children as index lists,
// ordered by the position of their first member.
func (e *Extractor) groups(children []Element) [][]int {
	if len(children) < e.opts.MinGroupSize {
		return nil
	}
	bySig := make(map[string][]int)
	var order []string
	for i, child := range children {
		sig := signature(child)
		if _, ok := bySig[sig]; !ok {
			order = append(order, sig)
		}
		bySig[sig] = append(bySig[sig], i)
	}
	var out [][]int
	for _, sig := range order {
		members := bySig[sig]
		if len(members) < e.opts.MinGroupSize {
			continue
		}
		cards := 0
		for _, k := range members {
			if e.cardLike(children[k]) {
				cards++
			}
		}
		if cards*2 >= len(members) && cards > 0 {
			out = append(out, members)
		}
	}
	return out
}

func (e *Extractor) cardLike(el Element) bool {
	if firstLink(el) == nil {
		return false
	}
	if find(el, isHeading) != nil {
		return true
	}
	return len(el.Text()) >= e.opts.MinCardText
}

func (e *Extractor) processGroup(group []Element, source, baseURL string) (records []crawler.RawPosting) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("skipping group after panic",
				zap.String("source", source),
				zap.Int("members", len(group)),
				zap.String("panic", fmt.Sprint(r)),
			)
			records = nil
		}
	}()
	for _, member := range group {
		rec, ok := e.member(member, source, baseURL)
		if !ok {
			e.logger.Debug("skipping member without usable link",
				zap.String("source", source),
				zap.String("signature", signature(member)),
			)
			continue
		}
		records = append(records, rec)
	}
	return records
}

func (e *Extractor) member(el Element, source, baseURL string) (crawler.RawPosting, bool) {
	titleEl := find(el, isHeading)
	if titleEl == nil {
		titleEl = find(el, classContains("title"))
	}

	var anchor Element
	if titleEl != nil {
		if isUsableAnchor(titleEl) {
			anchor = titleEl
		} else {
			anchor = firstLink(titleEl)
		}
	}
	if anchor == nil {
		anchor = firstLink(el)
	}
	if anchor == nil {
		return crawler.RawPosting{}, false
	}
	link, err := crawler.ResolveURL(baseURL, anchor.Attr("href"))
	if err != nil {
		return crawler.RawPosting{}, false
	}

	title := ""
	if titleEl != nil {
		title = titleEl.Text()
	}
	if title == "" {
		title = anchor.Text()
	}

	return crawler.RawPosting{
		Source:      source,
		SourceURL:   link,
		Title:       title,
		Company:     textOf(find(el, classContains("company", "employer"))),
		Location:    textOf(find(el, classContains("location", "city"))),
		ApplyURL:    link,
		Description: textOf(find(el, classContains("description", "summary", "snippet"))),
	}, true
}

func signature(el Element) string {
	classes := append([]string(nil), el.Classes()...)
	sort.Strings(classes)
	return el.Tag() + "." + strings.Join(classes, ".")
}

// firstLink returns el itself when it is a usable anchor, else the first
// usable anchor below it.
func firstLink(el Element) Element {
	if isUsableAnchor(el) {
		return el
	}
	return find(el, isUsableAnchor)
}

// find returns the first descendant of el, in document order, matching pred.
func find(el Element, pred func(Element) bool) Element {
	for _, child := range el.Children() {
		if pred(child) {
			return child
		}
		if found := find(child, pred); found != nil {
			return found
		}
	}
	return nil
}

func textOf(el Element) string {
	if el == nil {
		return ""
	}
	return el.Text()
}

func isHeading(el Element) bool {
	switch el.Tag() {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}

func isUsableAnchor(el Element) bool {
	if el.Tag() != "a" {
		return false
	}
	href := strings.TrimSpace(el.Attr("href"))
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	lower := strings.ToLower(href)
	for _, prefix := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return false
		}
	}
	return true
}

func classContains(needles ...string) func(Element) bool {
	return func(el Element) bool {
		for _, class := range el.Classes() {
			lc := strings.ToLower(class)
			for _, n := range needles {
				if strings.Contains(lc, n) {
					return true
				}
			}
		}
		return false
	}
}
