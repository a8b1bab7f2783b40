package app

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var skipLinkPrefixes = []string{"javascript:", "mailto:", "tel:"}

var skipLinkSuffixes = []string{".pdf", ".doc", ".docx", ".zip", ".rar"}

var skipLinkPaths = []string{
	"/privacy", "/terms", "/contact", "/about",
	"/login", "/register", "/logout",
}

// linkKeywords mark a link as leading to opportunity listings.
var linkKeywords = []string{
	"career", "job", "internship", "position", "opportunity",
	"scholarship", "fellowship", "grant", "research", "competition",
	"apply", "application", "opening", "vacancy",
}

// ExtractLinks returns the relevant same-host links of a page, resolved
// against pageURL, deduplicated and in document order.
func ExtractLinks(rawHTML, pageURL, domain string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil
	}
	baseURL, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || shouldSkipLink(href) {
			return
		}
		parsedHref, err := url.Parse(href)
		if err != nil {
			return
		}

		resolved := baseURL.ResolveReference(parsedHref)
		if resolved.Host != domain {
			return
		}
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if shouldSkipLink(strings.ToLower(resolved.Path)) {
			return
		}

		absolute := resolved.String()
		haystack := strings.ToLower(absolute + " " + s.Text())
		if !containsAny(haystack, linkKeywords) {
			return
		}
		if !seen[absolute] {
			seen[absolute] = true
			links = append(links, absolute)
		}
	})

	return links
}

func shouldSkipLink(href string) bool {
	lower := strings.ToLower(href)
	if strings.Contains(lower, "#") {
		return true
	}
	for _, p := range skipLinkPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	path := lower
	if u, err := url.Parse(lower); err == nil && u.Path != "" {
		path = u.Path
	}
	for _, s := range skipLinkSuffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	for _, p := range skipLinkPaths {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
