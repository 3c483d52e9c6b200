package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostPatternsMatch(t *testing.T) {
	t.Parallel()

	p := NewHostPatterns([]string{"LinkedIn.com", "*.indeed.com", ".reed.co.uk", "https://www.glassdoor.co.uk/Job/index.htm"})
	require.NotNil(t, p)

	cases := []struct {
		host  string
		entry string
		match bool
	}{
		{"linkedin.com", "LinkedIn.com", true},
		{"uk.linkedin.com", "", false},
		{"uk.indeed.com", "*.indeed.com", true},
		{"indeed.com", "*.indeed.com", true},
		{"notindeed.com", "", false},
		{"www.reed.co.uk", ".reed.co.uk", true},
		{"www.glassdoor.co.uk", "https://www.glassdoor.co.uk/Job/index.htm", true},
		{"WWW.GLASSDOOR.CO.UK.", "https://www.glassdoor.co.uk/Job/index.htm", true},
		{"boards.greenhouse.io", "", false},
	}
	for _, tc := range cases {
		entry, ok := p.Match(tc.host)
		assert.Equal(t, tc.match, ok, tc.host)
		assert.Equal(t, tc.entry, entry, tc.host)
	}
}

func TestHostPatternsExactBeatsSuffix(t *testing.T) {
	t.Parallel()

	p := NewHostPatterns([]string{"*.example.com", "jobs.example.com"})
	entry, ok := p.Match("jobs.example.com")
	require.True(t, ok)
	assert.Equal(t, "jobs.example.com", entry)
}

func TestHostPatternsEmpty(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewHostPatterns(nil))
	assert.Nil(t, NewHostPatterns([]string{"  ", "*.", "https://"}))

	var p *HostPatterns
	_, ok := p.Match("anything.example")
	assert.False(t, ok)
}
