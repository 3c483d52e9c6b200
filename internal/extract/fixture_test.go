package extract_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/job-ingest-crawler/internal/extract"
	"github.com/JakeFAU/job-ingest-crawler/internal/extract/htmldoc"
)

const boardPage = `<!doctype html>
<html>
<head><title>Acme Careers</title></head>
<body>
  <header><a href="/">Acme</a></header>
  <section class="openings">
    <div class="job-card">
      <h2 class="job-title"><a href="/jobs/graduate-analyst?utm_source=board">Graduate Analyst</a></h2>
      <span class="company-name">Acme Ltd</span>
      <span class="job-location">Manchester</span>
      <p class="job-summary">Join our two-year graduate scheme.</p>
    </div>
    <div class="job-card">
      <h2 class="job-title"><a href="/jobs/data-intern">Intern, Data</a></h2>
      <span class="company-name">Acme Ltd</span>
      <span class="job-location">Remote</span>
    </div>
    <div class="job-card">
      <h2 class="job-title"><a href="/jobs/senior-architect">Senior Architect</a></h2>
      <span class="company-name">Acme Ltd</span>
      <span class="job-location">London</span>
    </div>
  </section>
  <footer><a href="/privacy">Privacy</a> <a href="/terms">Terms</a></footer>
</body>
</html>`

func TestExtractFromHTMLFixture(t *testing.T) {
	t.Parallel()

	doc, err := htmldoc.Parse(strings.NewReader(boardPage), "https://careers.acme.example/")
	require.NoError(t, err)

	got := extract.New(extract.DefaultOptions(), nil).Extract(doc.Root, "html:acme", doc.BaseURL)
	require.Len(t, got, 3)

	assert.Equal(t, "Graduate Analyst", got[0].Title)
	assert.Equal(t, "https://careers.acme.example/jobs/graduate-analyst?utm_source=board", got[0].ApplyURL)
	assert.Equal(t, "Acme Ltd", got[0].Company)
	assert.Equal(t, "Manchester", got[0].Location)
	assert.Equal(t, "Join our two-year graduate scheme.", got[0].Description)

	assert.Equal(t, "Intern, Data", got[1].Title)
	assert.Equal(t, "Senior Architect", got[2].Title)
}

func TestExtractTenCardsTwoWithoutLinks(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body><ul class=\"results\">")
	for i := 0; i < 10; i++ {
		if i == 2 || i == 5 {
			b.WriteString(`<li class="result"><h3>Expired posting</h3><span class="location">Leeds</span></li>`)
			continue
		}
		b.WriteString(`<li class="result"><h3><a href="/job/`)
		b.WriteString(string(rune('a' + i)))
		b.WriteString(`">Graduate Engineer</a></h3><span class="location">Leeds</span></li>`)
	}
	b.WriteString("</ul></body></html>")

	doc, err := htmldoc.Parse(strings.NewReader(b.String()), "https://jobs.example/")
	require.NoError(t, err)
	got := extract.New(extract.DefaultOptions(), nil).Extract(doc.Root, "html:example", doc.BaseURL)
	assert.Len(t, got, 8)
}

const departmentPage = `<!doctype html>
<html>
<body>
  <main>
    <section class="department">
      <h2>Engineering</h2>
      <ul class="jobs">
        <li class="job"><h3><a href="/jobs/1">Graduate Software Engineer</a></h3><span class="location">Bristol</span></li>
        <li class="job"><h3><a href="/jobs/2">Summer Internship Program</a></h3><span class="location">Bristol</span></li>
      </ul>
    </section>
    <section class="department">
      <h2>Finance</h2>
      <ul class="jobs">
        <li class="job"><h3><a href="/jobs/3">Graduate Analyst</a></h3><span class="location">Leeds</span></li>
        <li class="job"><h3><a href="/jobs/4">Placement Year Accountant</a></h3><span class="location">Leeds</span></li>
      </ul>
    </section>
  </main>
</body>
</html>`

func TestExtractPrefersJobCardsOverDepartmentSections(t *testing.T) {
	t.Parallel()

	doc, err := htmldoc.Parse(strings.NewReader(departmentPage), "https://careers.acme.example/")
	require.NoError(t, err)

	got := extract.New(extract.DefaultOptions(), nil).Extract(doc.Root, "html:acme", doc.BaseURL)
	require.Len(t, got, 4)

	titles := make([]string, len(got))
	links := make([]string, len(got))
	for i, rec := range got {
		titles[i] = rec.Title
		links[i] = rec.ApplyURL
	}
	assert.Equal(t, []string{
		"Graduate Software Engineer",
		"Summer Internship Program",
		"Graduate Analyst",
		"Placement Year Accountant",
	}, titles)
	assert.Equal(t, []string{
		"https://careers.acme.example/jobs/1",
		"https://careers.acme.example/jobs/2",
		"https://careers.acme.example/jobs/3",
		"https://careers.acme.example/jobs/4",
	}, links)
	assert.NotContains(t, titles, "Engineering")
	assert.NotContains(t, titles, "Finance")
	assert.Equal(t, "Leeds", got[2].Location)
}
