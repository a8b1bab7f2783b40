package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var deadlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)deadline[:\s]+([^\n]+)`),
	regexp.MustCompile(`(?i)apply by[:\s]+([^\n]+)`),
	regexp.MustCompile(`(?i)due[:\s]+([^\n]+)`),
	regexp.MustCompile(`(?i)expires?[:\s]+([^\n]+)`),
	regexp.MustCompile(`(?i)closes?[:\s]+([^\n]+)`),
}

var postedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)posted[:\s]+([^\n]+)`),
	regexp.MustCompile(`(?i)published[:\s]+([^\n]+)`),
	regexp.MustCompile(`(?i)listed[:\s]+([^\n]+)`),
	regexp.MustCompile(`(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`),
	regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`),
}

var reRelative = regexp.MustCompile(`^(\d+|an?|one)\s+(minute|hour|day|week|month|year)s?\s+ago\b`)

var reInRelative = regexp.MustCompile(`^in\s+(\d+|an?|one)\s+(day|week|month)s?\b`)

// maxDateWords bounds how much of a captured phrase is handed to the parser.
const maxDateWords = 6

// findDeadline returns the first deadline phrase whose date is after now.
func findDeadline(text string, now time.Time) *time.Time {
	for _, re := range deadlinePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if t, ok := parseDate(m[1], now); ok && t.After(now) {
			return &t
		}
	}
	return nil
}

// findPostedDate returns the first posting date not after now, or now.
func findPostedDate(text string, now time.Time) time.Time {
	for _, re := range postedPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if t, ok := parseDate(m[1], now); ok && !t.After(now) {
			return t
		}
	}
	return now
}

// parseDate understands relative phrases and anything dateparse accepts.
// Captured phrases usually carry trailing words, so successively shorter
// word prefixes are tried.
func parseDate(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, ok := parseRelative(strings.ToLower(s), now); ok {
		return t, true
	}

	words := strings.Fields(s)
	if len(words) > maxDateWords {
		words = words[:maxDateWords]
	}
	for n := len(words); n > 0; n-- {
		candidate := strings.TrimRight(strings.Join(words[:n], " "), ".,;:!)")
		if candidate == "" {
			continue
		}
		if t, err := dateparse.ParseIn(candidate, now.Location()); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseRelative(s string, now time.Time) (time.Time, bool) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case strings.HasPrefix(s, "today"), strings.HasPrefix(s, "just now"):
		return now, true
	case strings.HasPrefix(s, "yesterday"):
		return day.AddDate(0, 0, -1), true
	case strings.HasPrefix(s, "tomorrow"):
		return day.AddDate(0, 0, 1), true
	}

	if m := reRelative.FindStringSubmatch(s); m != nil {
		return shift(now, amount(m[1]), m[2], -1), true
	}
	if m := reInRelative.FindStringSubmatch(s); m != nil {
		return shift(now, amount(m[1]), m[2], 1), true
	}
	return time.Time{}, false
}

func amount(s string) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return 1
}

func shift(now time.Time, n int, unit string, sign int) time.Time {
	n *= sign
	switch unit {
	case "minute":
		return now.Add(time.Duration(n) * time.Minute)
	case "hour":
		return now.Add(time.Duration(n) * time.Hour)
	case "day":
		return now.AddDate(0, 0, n)
	case "week":
		return now.AddDate(0, 0, 7*n)
	case "month":
		return now.AddDate(0, n, 0)
	default:
		return now.AddDate(n, 0, 0)
	}
}
