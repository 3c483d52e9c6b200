package normalize

import (
	"regexp"
	"strings"

	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
)

// Keywords configures classification and the relevance filter. Each family
// also counts as a positive keyword.
type Keywords struct {
	Internship []string `mapstructure:"internship"`
	Placement  []string `mapstructure:"placement"`
	Graduate   []string `mapstructure:"graduate"`
	Positive   []string `mapstructure:"positive"`
	Negative   []string `mapstructure:"negative"`
}

// DefaultKeywords returns the entry-level vocabulary used when none is configured.
func DefaultKeywords() Keywords {
	return Keywords{
		Internship: []string{"intern", "interns", "internship", "internships", "co-op", "summer analyst", "work experience"},
		Placement:  []string{"placement", "placements", "year in industry", "industrial year", "sandwich year"},
		Graduate:   []string{"graduate", "graduates", "grad", "new grad", "early careers", "early career", "entry level", "trainee", "apprentice", "apprenticeship"},
		Negative:   []string{"senior", "sr", "principal", "lead", "manager", "director", "head of", "staff engineer", "vp"},
	}
}

// Classifier assigns job types and decides relevance.
type Classifier struct {
	families []family
	positive *regexp.Regexp
	negative *regexp.Regexp
}

type family struct {
	jobType crawler.JobType
	re      *regexp.Regexp
}

// NewClassifier compiles kw. Empty lists fall back to the defaults.
func NewClassifier(kw Keywords) *Classifier {
	def := DefaultKeywords()
	if len(kw.Internship) == 0 {
		kw.Internship = def.Internship
	}
	if len(kw.Placement) == 0 {
		kw.Placement = def.Placement
	}
	if len(kw.Graduate) == 0 {
		kw.Graduate = def.Graduate
	}
	if len(kw.Negative) == 0 {
		kw.Negative = def.Negative
	}

	// Order is the tie-break priority.
	families := []family{
		{jobType: crawler.JobTypeInternship, re: compileTerms(kw.Internship)},
		{jobType: crawler.JobTypePlacement, re: compileTerms(kw.Placement)},
		{jobType: crawler.JobTypeGraduate, re: compileTerms(kw.Graduate)},
	}
	positive := make([]string, 0, len(kw.Internship)+len(kw.Placement)+len(kw.Graduate)+len(kw.Positive))
	positive = append(positive, kw.Internship...)
	positive = append(positive, kw.Placement...)
	positive = append(positive, kw.Graduate...)
	positive = append(positive, kw.Positive...)

	return &Classifier{
		families: families,
		positive: compileTerms(positive),
		negative: compileTerms(kw.Negative),
	}
}

// Classify scores each family over title (weight 2) and description
// (weight 1). The highest score wins; ties go to the earlier family in
// internship, placement, graduate order. No hits yields other.
func (c *Classifier) Classify(title, description string) crawler.JobType {
	best := crawler.JobTypeOther
	bestScore := 0
	for _, f := range c.families {
		if f.re == nil {
			continue
		}
		score := 2*len(f.re.FindAllStringIndex(title, -1)) + len(f.re.FindAllStringIndex(description, -1))
		if score > bestScore {
			best, bestScore = f.jobType, score
		}
	}
	return best
}

// Relevant reports whether a posting passes the filter. The negative set is
// matched against the title only, since descriptions routinely mention
// senior colleagues. The reason is empty when the posting is relevant.
func (c *Classifier) Relevant(title, description string) (bool, DropReason) {
	if c.negative != nil && c.negative.MatchString(title) {
		return false, DropSeniority
	}
	if c.positive == nil {
		return true, ""
	}
	if c.positive.MatchString(title) || c.positive.MatchString(description) {
		return true, ""
	}
	return false, DropNotRelevant
}

// compileTerms builds a case-insensitive, word-bounded alternation. Spaces
// and hyphens inside a term match any run of either.
func compileTerms(terms []string) *regexp.Regexp {
	parts := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		words := strings.FieldsFunc(term, func(r rune) bool { return r == ' ' || r == '-' })
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		parts = append(parts, strings.Join(words, `[\s-]+`))
	}
	if len(parts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(parts, "|") + `)\b`)
}
