package htmldoc

import (
	"github.com/PuerkitoBio/goquery"
)

// mountSelectors match the empty containers single-page-app frameworks
// render into.
const mountSelectors = `#__next, #__nuxt, #root, #app, [data-reactroot], [ng-app], [ng-version], [data-v-app]`

const (
	// shellTextLimit is the visible text below which a page counts as a shell.
	shellTextLimit = 200
	// scriptHeavy is the script count that marks a shell even without a mount node.
	scriptHeavy = 3
	// inlineScriptShare is the percentage of markup taken by inline script
	// code that marks a shell.
	inlineScriptShare = 25
)

// clientRendered reports whether doc carries almost no visible text while
// being dominated by a framework mount point or scripts.
func clientRendered(doc *goquery.Document, visible string) bool {
	if len(visible) >= shellTextLimit {
		return false
	}
	if doc.Find(mountSelectors).Length() > 0 {
		return true
	}
	scripts := doc.Find("script")
	if scripts.Length() >= scriptHeavy {
		return true
	}
	markup, err := doc.Html()
	if err != nil || len(markup) == 0 {
		return false
	}
	inline := 0
	scripts.Each(func(_ int, s *goquery.Selection) {
		inline += len(s.Text())
	})
	return inline*100/len(markup) >= inlineScriptShare
}
