package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/gocolly/colly"
	"golang.org/x/net/publicsuffix"

	"opportunist/internal/logger"
	"opportunist/internal/metrics"
	"opportunist/internal/models"
)

var reWhitespace = regexp.MustCompile(`\s+`)

// CrawlRecorder persists the crawl audit trail.
type CrawlRecorder interface {
	InsertCrawlAttempt(ctx context.Context, attempt models.CrawlAttempt) error
	InsertRawPage(ctx context.Context, page models.RawPage) error
}

// Page is a successfully fetched HTML document.
type Page struct {
	URL        string
	Body       string
	StatusCode int
	Headers    http.Header
}

type FetcherOptions struct {
	Spider     string
	Domain     string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
}

// Fetcher issues GET requests through a synchronous colly collector.
// A fetch makes at most MaxRetries+1 attempts and writes exactly one
// CrawlAttempt describing the final outcome.
type Fetcher struct {
	collector *colly.Collector
	recorder  CrawlRecorder
	log       logger.Logger
	metrics   *metrics.Metrics
	opts      FetcherOptions
	now       func() time.Time
}

func NewFetcher(opts FetcherOptions, recorder CrawlRecorder, log logger.Logger, m *metrics.Metrics) *Fetcher {
	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	if opts.Timeout > 0 {
		c.SetRequestTimeout(opts.Timeout)
	}
	if jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List}); err == nil {
		c.SetCookieJar(jar)
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Fetcher{
		collector: c,
		recorder:  recorder,
		log:       log.With(logger.String("component", "fetcher"), logger.String("domain", opts.Domain)),
		metrics:   m,
		opts:      opts,
		now:       time.Now,
	}
}

type attemptResult struct {
	status  int
	body    []byte
	headers http.Header
	err     error
}

func (f *Fetcher) attempt(urlStr string) attemptResult {
	var res attemptResult

	c := f.collector.Clone()
	c.OnResponse(func(r *colly.Response) {
		res.status = r.StatusCode
		res.body = r.Body
		if r.Headers != nil {
			res.headers = *r.Headers
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			res.status = r.StatusCode
		}
		res.err = err
	})

	if err := c.Request(http.MethodGet, urlStr, nil, colly.NewContext(), nil); err != nil && res.err == nil {
		res.err = err
	}
	return res
}

// Fetch returns the page body only for HTTP 200. Any other outcome is
// retried with a linearly growing delay.
func (f *Fetcher) Fetch(ctx context.Context, urlStr string) (*Page, error) {
	start := f.now()
	var lastErr error

	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := f.opts.BaseDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				f.record(ctx, urlStr, models.AttemptFailed, lastErr.Error(), attempt-1, start)
				return nil, lastErr
			case <-time.After(delay):
			}
		}

		res := f.attempt(urlStr)
		if res.err == nil && res.status == http.StatusOK {
			f.record(ctx, urlStr, models.AttemptSuccess, "", attempt, start)
			page := &Page{
				URL:        urlStr,
				Body:       string(res.body),
				StatusCode: res.status,
				Headers:    res.headers,
			}
			f.storeRawPage(ctx, page)
			return page, nil
		}

		switch {
		case res.status != 0:
			lastErr = fmt.Errorf("HTTP %d", res.status)
		case res.err != nil:
			lastErr = res.err
		default:
			lastErr = errors.New("empty response")
		}
		f.log.Debug("Fetch attempt failed",
			logger.String("url", urlStr),
			logger.Int("attempt", attempt+1),
			logger.Error(lastErr),
		)
	}

	f.record(ctx, urlStr, models.AttemptFailed, lastErr.Error(), f.opts.MaxRetries, start)
	f.log.Warn("Fetch failed", logger.String("url", urlStr), logger.Int("attempts", f.opts.MaxRetries+1), logger.Error(lastErr))
	return nil, fmt.Errorf("%w: %s: %v", models.ErrTransientNetwork, urlStr, lastErr)
}

func (f *Fetcher) record(ctx context.Context, urlStr string, status models.AttemptStatus, errMsg string, retries int, start time.Time) {
	elapsed := f.now().Sub(start)
	f.metrics.ObserveFetch(string(status), elapsed)
	if f.recorder == nil {
		return
	}
	attempt := models.CrawlAttempt{
		URL:        urlStr,
		Status:     status,
		Error:      errMsg,
		RetryCount: retries,
		Latency:    elapsed,
		Spider:     f.opts.Spider,
		Timestamp:  f.now().UTC(),
	}
	if err := f.recorder.InsertCrawlAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		f.log.Warn("Failed to record crawl attempt", logger.String("url", urlStr), logger.Error(err))
	}
}

func (f *Fetcher) storeRawPage(ctx context.Context, page *Page) {
	if f.recorder == nil {
		return
	}
	raw := models.RawPage{
		URL:          page.URL,
		HTML:         page.Body,
		StatusCode:   page.StatusCode,
		SourceDomain: f.opts.Domain,
		Headers:      flattenHeaders(page.Headers),
		CrawledAt:    f.now().UTC(),
	}
	if title, text, err := readableText(page.Body, page.URL); err == nil {
		raw.Title = title
		raw.Text = text
	}
	if err := f.recorder.InsertRawPage(context.WithoutCancel(ctx), raw); err != nil {
		f.log.Warn("Failed to store raw page", logger.String("url", page.URL), logger.Error(err))
	}
}

func readableText(rawHTML, pageURL string) (string, string, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", "", err
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		return "", "", err
	}
	return article.Title, normalizeText(article.TextContent), nil
}

func normalizeText(text string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(text, " "))
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
