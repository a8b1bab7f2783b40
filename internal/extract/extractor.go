// Package extract turns career pages into candidate postings using
// container discovery heuristics over the parsed HTML.
package extract

import (
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"opportunist/internal/classify"
	"opportunist/internal/logger"
	"opportunist/internal/models"
)

var containerSelectors = []string{
	`[class*="job"]`, `[class*="career"]`, `[class*="position"]`,
	`[class*="opening"]`, `[class*="opportunity"]`, `[class*="listing"]`,
	`[data-job]`, `[data-position]`, `[data-role]`,
	`article`, `.role`, `.position-item`, `.job-item`,
	`.lever-job`, `.greenhouse-job`, `.workday-job`,
	`.job-posting`, `.job-card`, `.career-item`,
}

var titleSelectors = []string{
	"h1", "h2", "h3", "h4", "h5", "h6",
	".title", ".job-title", ".position-title", ".role-title",
	`[class*="title"]`, `[class*="heading"]`,
	"a[href]", ".job-link", "[data-title]",
}

var descriptionSelectors = []string{
	".description", ".job-description", ".summary",
	".content", ".details", `[class*="desc"]`,
	"p", ".text",
}

var fallbackKeywords = []string{"software", "engineer", "developer", "intern", "manager", "analyst", "specialist"}

var linkSkipPatterns = []string{"privacy", "terms", "contact", "about", "home", "mailto:", "tel:"}

var linkPreferPatterns = []string{"apply", "view", "details", "job", "position", "role"}

const (
	maxFallbackContainers = 50
	minFallbackTextLen    = 20
	maxTitleFallbackLen   = 200
	maxDescriptionLen     = 2000
)

type Extractor struct {
	classifier *classify.Classifier
	log        logger.Logger
	now        func() time.Time
}

func New(classifier *classify.Classifier, log logger.Logger) *Extractor {
	if classifier == nil {
		classifier = classify.Default()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Extractor{
		classifier: classifier,
		log:        log.With(logger.String("component", "extractor")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for crawl time and date checks.
func (e *Extractor) WithClock(now func() time.Time) *Extractor {
	e.now = now
	return e
}

// Extract returns one posting per container that yields a usable title.
func (e *Extractor) Extract(rawHTML, sourceURL string) []models.Posting {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		e.log.Warn("Failed to parse page", logger.String("url", sourceURL), logger.Error(err))
		return nil
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		e.log.Warn("Invalid source URL", logger.String("url", sourceURL), logger.Error(err))
		return nil
	}

	now := e.now()
	containers := findContainers(doc)

	var postings []models.Posting
	skipped := 0
	for _, c := range containers {
		p, err := e.fromContainer(c, base, now)
		if err != nil {
			skipped++
			continue
		}
		postings = append(postings, p)
	}

	e.log.Debug("Extracted postings",
		logger.String("url", sourceURL),
		logger.Int("containers", len(containers)),
		logger.Int("postings", len(postings)),
		logger.Int("skipped", skipped),
	)
	return postings
}

func findContainers(doc *goquery.Document) []*goquery.Selection {
	seen := make(map[*html.Node]bool)
	var out []*goquery.Selection

	for _, sel := range containerSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			node := s.Get(0)
			if seen[node] {
				return
			}
			seen[node] = true
			out = append(out, s)
		})
	}
	if len(out) > 0 {
		return out
	}

	doc.Find("div, article, section, li").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		if len(text) > minFallbackTextLen && containsAny(text, fallbackKeywords) {
			out = append(out, s)
		}
		return len(out) < maxFallbackContainers
	})
	return out
}

func (e *Extractor) fromContainer(c *goquery.Selection, base *url.URL, now time.Time) (models.Posting, error) {
	title := extractTitle(c)
	if title == "" {
		return models.Posting{}, models.ErrExtraction
	}
	description := extractDescription(c)
	text := c.Text()

	return models.Posting{
		Title:       title,
		Description: description,
		Category:    e.classifier.Classify(title, description),
		Link:        extractLink(c, base),
		Source:      base.Host,
		PostedAt:    findPostedDate(text, now),
		Deadline:    findDeadline(text, now),
		CrawledAt:   now,
	}, nil
}

func extractTitle(c *goquery.Selection) string {
	for _, sel := range titleSelectors {
		el := c.Find(sel).First()
		if el.Length() == 0 {
			continue
		}
		if text := collapse(el.Text()); len(text) > 2 {
			return text
		}
	}

	text := strings.TrimSpace(c.Text())
	if text == "" || len(text) >= maxTitleFallbackLen {
		return ""
	}
	first := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	if len(first) > 2 {
		return collapse(first)
	}
	return ""
}

func extractDescription(c *goquery.Selection) string {
	var parts []string
	for _, sel := range descriptionSelectors {
		c.Find(sel).Each(func(_ int, el *goquery.Selection) {
			if text := strings.TrimSpace(el.Text()); len(text) > 10 {
				parts = append(parts, text)
			}
		})
	}
	if len(parts) > 0 {
		return truncate(strings.Join(parts, " "), maxDescriptionLen)
	}
	return truncate(strings.TrimSpace(c.Text()), maxDescriptionLen)
}

// extractLink prefers an application-looking anchor, then any usable
// anchor, then the page itself.
func extractLink(c *goquery.Selection, base *url.URL) string {
	var fallback string
	var preferred string

	c.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		lowerHref := strings.ToLower(href)
		if href == "" || containsAny(lowerHref, linkSkipPatterns) {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return true
		}

		text := strings.ToLower(a.Text())
		if containsAny(lowerHref, linkPreferPatterns) || containsAny(text, linkPreferPatterns) {
			preferred = abs.String()
			return false
		}
		if fallback == "" {
			fallback = abs.String()
		}
		return true
	})

	switch {
	case preferred != "":
		return preferred
	case fallback != "":
		return fallback
	default:
		return base.String()
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
