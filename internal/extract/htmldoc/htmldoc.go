// Package htmldoc adapts goquery documents to the extract.Element view.
package htmldoc

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
	"github.com/JakeFAU/job-ingest-crawler/internal/extract"
)

var skippedTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
	"svg":      {},
}

// Document is a parsed page.
type Document struct {
	// Root is the <body> element, or the document root when there is none.
	Root extract.Element
	// BaseURL resolves relative links: the <base href> when present, else the page URL.
	BaseURL string
	// Title is the <title> text.
	Title string
	// ClientRendered is set when the page looks like a script-driven shell
	// whose listings only appear after JavaScript runs.
	ClientRendered bool
}

// Parse reads an HTML page fetched from pageURL.
func Parse(r io.Reader, pageURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := crawler.ResolveURL(pageURL, href); err == nil {
			base = resolved
		}
	}

	texts := make(map[*html.Node]string)
	var root *html.Node
	if body := doc.Find("body").First(); body.Length() > 0 {
		root = body.Get(0)
	} else if doc.Length() > 0 {
		root = doc.Get(0)
	}
	if root == nil {
		return nil, fmt.Errorf("parse html: empty document")
	}

	rootNode := &node{n: root, texts: texts}
	return &Document{
		Root:           rootNode,
		BaseURL:        base,
		Title:          collapse(doc.Find("title").First().Text()),
		ClientRendered: clientRendered(doc, rootNode.Text()),
	}, nil
}

type node struct {
	n     *html.Node
	texts map[*html.Node]string
}

func (e *node) Tag() string {
	return strings.ToLower(e.n.Data)
}

func (e *node) Attr(name string) string {
	for _, a := range e.n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func (e *node) Classes() []string {
	return strings.Fields(e.Attr("class"))
}

func (e *node) Children() []extract.Element {
	var out []extract.Element
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if _, skip := skippedTags[strings.ToLower(c.Data)]; skip {
			continue
		}
		out = append(out, &node{n: c, texts: e.texts})
	}
	return out
}

func (e *node) Text() string {
	if t, ok := e.texts[e.n]; ok {
		return t
	}
	var b strings.Builder
	appendText(&b, e.n)
	t := collapse(b.String())
	e.texts[e.n] = t
	return t
}

func appendText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if _, skip := skippedTags[strings.ToLower(n.Data)]; skip {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		appendText(b, c)
		if c.Type == html.ElementNode {
			b.WriteByte(' ')
		}
	}
}

func collapse(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}
