// Package classify assigns a posting category from one ordered keyword table.
package classify

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"opportunist/internal/models"
)

// Rule maps keywords to a category. Earlier rules win.
type Rule struct {
	Category models.Category
	Keywords []string
}

// DefaultRules is evaluated top to bottom; a posting matching none of
// them is a job.
var DefaultRules = []Rule{
	{Category: models.CategoryInternship, Keywords: []string{
		"intern", "internship", "summer program", "co-op", "coop", "student", "trainee", "apprentice",
	}},
	{Category: models.CategoryCompetition, Keywords: []string{
		"competition", "contest", "coding challenge", "hackathon", "tournament", "prize",
	}},
	{Category: models.CategoryScholarship, Keywords: []string{
		"scholarship", "fellowship", "bursary", "financial aid", "stipend", "award",
	}},
	{Category: models.CategoryGrant, Keywords: []string{
		"grant", "funding", "sponsored", "seed funding", "venture",
	}},
	{Category: models.CategoryResearch, Keywords: []string{
		"research", "phd", "postdoc", "researcher", "academic", "faculty",
	}},
}

// Classifier matches all keywords in one pass over the text. A hit only
// counts when the keyword stands as a whole word, optionally pluralised.
type Classifier struct {
	mu       sync.Mutex
	matcher  *ahocorasick.Matcher
	keywords []string
	owners   []int
	rules    []Rule
	fallback models.Category
}

func New(rules []Rule, fallback models.Category) *Classifier {
	c := &Classifier{rules: rules, fallback: fallback}

	for i, r := range rules {
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			c.keywords = append(c.keywords, kw)
			c.owners = append(c.owners, i)
		}
	}
	if len(c.keywords) > 0 {
		c.matcher = ahocorasick.NewStringMatcher(c.keywords)
	}
	return c
}

// Default returns a classifier over DefaultRules falling back to job.
func Default() *Classifier {
	return New(DefaultRules, models.CategoryJob)
}

// Classify returns the category of the highest-priority rule any of whose
// keywords occurs in title or description, case-insensitively.
func (c *Classifier) Classify(title, description string) models.Category {
	if c.matcher == nil {
		return c.fallback
	}
	text := strings.ToLower(title + " " + description)

	c.mu.Lock()
	hits := c.matcher.Match([]byte(text))
	c.mu.Unlock()

	best := len(c.rules)
	for _, h := range hits {
		if h >= len(c.owners) || c.owners[h] >= best {
			continue
		}
		if containsWord(text, c.keywords[h]) {
			best = c.owners[h]
		}
	}
	if best == len(c.rules) {
		return c.fallback
	}
	return c.rules[best].Category
}

// containsWord reports whether kw occurs in text with a word boundary on
// both sides. A trailing "s" is allowed; a trailing hyphen is not a boundary,
// so "award-winning" does not match "award".
func containsWord(text, kw string) bool {
	for off := 0; off < len(text); {
		i := strings.Index(text[off:], kw)
		if i < 0 {
			return false
		}
		start, end := off+i, off+i+len(kw)
		if boundaryBefore(text, start) && (boundaryAfter(text, end) || (strings.HasPrefix(text[end:], "s") && boundaryAfter(text, end+1))) {
			return true
		}
		off = start + 1
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r) && r != '-'
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
