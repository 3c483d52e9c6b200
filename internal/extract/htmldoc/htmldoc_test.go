package htmldoc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBaseHref(t *testing.T) {
	t.Parallel()

	page := `<html><head><title> Careers </title><base href="/jobs/"></head><body><p>x</p></body></html>`
	doc, err := Parse(strings.NewReader(page), "https://example.com/careers")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/jobs/", doc.BaseURL)
	assert.Equal(t, "Careers", doc.Title)
	assert.Equal(t, "body", doc.Root.Tag())
}

func TestParseDefaultsBaseToPageURL(t *testing.T) {
	t.Parallel()

	doc, err := Parse(strings.NewReader(`<div>hello</div>`), "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", doc.BaseURL)
}

func TestElementView(t *testing.T) {
	t.Parallel()

	page := `<body>
	  <div class="card  featured" data-id="7">
	    <h3>Graduate&nbsp;Analyst</h3>
	    <script>var tracking = "ignored";</script>
	    <style>.card{}</style>
	    <a href="/apply/7">Apply</a>
	  </div>
	</body>`
	doc, err := Parse(strings.NewReader(page), "https://example.com")
	require.NoError(t, err)

	children := doc.Root.Children()
	require.Len(t, children, 1)
	card := children[0]
	assert.Equal(t, "div", card.Tag())
	assert.Equal(t, []string{"card", "featured"}, card.Classes())
	assert.Equal(t, "7", card.Attr("data-id"))
	assert.Equal(t, "", card.Attr("missing"))
	assert.Equal(t, "Graduate Analyst Apply", card.Text())

	inner := card.Children()
	require.Len(t, inner, 2, "script and style are not children")
	assert.Equal(t, "h3", inner[0].Tag())
	assert.Equal(t, "/apply/7", inner[1].Attr("href"))
}

func TestParseFlagsClientRenderedShells(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		page string
		want bool
	}{
		{
			name: "next mount point",
			page: `<html><body><div id="__next"></div><script src="/_next/main.js"></script></body></html>`,
			want: true,
		},
		{
			name: "script heavy",
			page: `<html><body><noscript>Enable JavaScript</noscript><script src="a.js"></script><script src="b.js"></script><script src="c.js"></script></body></html>`,
			want: true,
		},
		{
			name: "inline bundle",
			page: `<html><body><div></div><script>` + strings.Repeat("window.x=1;", 40) + `</script></body></html>`,
			want: true,
		},
		{
			name: "static empty board",
			page: `<html><body><p>No vacancies right now.</p></body></html>`,
			want: false,
		},
		{
			name: "mount point with server-rendered content",
			page: `<html><body><div id="root"><p>` + strings.Repeat("Graduate Analyst, London. ", 12) + `</p></div></body></html>`,
			want: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc, err := Parse(strings.NewReader(tc.page), "https://example.com/")
			require.NoError(t, err)
			assert.Equal(t, tc.want, doc.ClientRendered)
		})
	}
}
