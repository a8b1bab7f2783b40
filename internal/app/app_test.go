package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opportunist/internal/config"
	"opportunist/internal/models"
)

// pageTitleExtractor yields one posting per page titled after the page path.
type pageTitleExtractor struct{}

func (pageTitleExtractor) Extract(_ string, sourceURL string) []models.Posting {
	u, _ := url.Parse(sourceURL)
	return []models.Posting{{Title: u.Path, Link: sourceURL, Source: u.Host, Category: models.CategoryJob}}
}

type requestLog struct {
	mu    sync.Mutex
	paths []string
}

func (l *requestLog) add(p string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths = append(l.paths, p)
}

func (l *requestLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.paths...)
}

func crawlConfig(domain string, maxPages int, entryPaths ...string) *config.SpiderConfig {
	cfg := &config.SpiderConfig{}
	cfg.Logic.DelayMS = 1
	cfg.Logic.RetryBaseDelayMS = 1
	cfg.Logic.MaxRetries = 1
	cfg.Logic.TimeoutSec = 5
	cfg.Sources = map[string]config.SourceConfig{
		"site": {Domain: domain, Scheme: "http", EntryPaths: entryPaths, MaxPages: maxPages},
	}
	cfg.SetDefaults()
	return cfg
}

func TestSpiderApp_BreadthFirstWithinDomain(t *testing.T) {
	log := &requestLog{}
	site := map[string]string{
		"/":        `<a href="/careers">Careers</a><a href="/blog">Blog</a>`,
		"/careers": `<a href="/jobs/1">Engineer</a><a href="/jobs/2">Analyst</a><a href="/privacy">Privacy</a>`,
		"/jobs/1":  `<a href="/jobs/3">Next job</a><a href="https://elsewhere.test/jobs">Elsewhere</a>`,
		"/jobs/2":  `<a href="/careers">Back to careers</a>`,
		"/jobs/3":  `no links`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.URL.Path)
		body, ok := site[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprintf(w, "<html><body>%s</body></html>", body)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	rec := &fakeRecorder{}
	spiders := NewSpiderApp(crawlConfig(host, 50, "/careers"), rec, pageTitleExtractor{}, nil, nil)

	results, err := spiders.Crawl(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, []string{"/", "/careers", "/jobs/1", "/jobs/2", "/jobs/3"}, log.all())

	var titles []string
	for _, p := range Postings(results) {
		titles = append(titles, p.Title)
	}
	assert.Equal(t, []string{"/", "/careers", "/jobs/1", "/jobs/2", "/jobs/3"}, titles)
	assert.Equal(t, 5, results[0].PagesFetched)
	assert.Equal(t, 0, results[0].PagesFailed)
	assert.Len(t, rec.Attempts(), 5)
}

func TestSourceSpider_PageCapOnInfiniteGraph(t *testing.T) {
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.URL.Path)
		n, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/jobs/"))
		_, _ = fmt.Fprintf(w, `<html><body><a href="/jobs/%d">job</a><a href="/jobs/%d">job</a></body></html>`, n+1, n+2)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	spiders := NewSpiderApp(crawlConfig(host, 5, "/jobs/0"), &fakeRecorder{}, pageTitleExtractor{}, nil, nil)

	results, err := spiders.Crawl(context.Background())
	require.NoError(t, err)
	assert.Len(t, log.all(), 5)
	assert.Equal(t, 5, results[0].PagesFetched)
}

func TestSourceSpider_FailedPagesCountTowardCap(t *testing.T) {
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	rec := &fakeRecorder{}
	spiders := NewSpiderApp(crawlConfig(host, 3), rec, pageTitleExtractor{}, nil, nil)

	results, err := spiders.Crawl(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, results[0].PagesFailed)
	assert.Empty(t, results[0].Postings)
	// MaxRetries=1 gives two requests per page.
	assert.Len(t, log.all(), 6)
	assert.Len(t, rec.Attempts(), 3)
}

func TestSpiderApp_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<a href="/jobs/x">job</a>`))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	cfg := crawlConfig(host, 50)
	cfg.Logic.DelayMS = int(time.Hour / time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSpiderApp(cfg, &fakeRecorder{}, pageTitleExtractor{}, nil, nil).Crawl(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSourceSpider_Seeds(t *testing.T) {
	ss := &SourceSpider{sourceConfig: config.SourceConfig{Domain: "example.org", Scheme: "https"}}
	seeds := ss.seeds()
	require.Len(t, seeds, 1+len(DefaultEntryPaths))
	assert.Equal(t, "https://example.org/", seeds[0])
	assert.Equal(t, "https://example.org/careers", seeds[1])

	ss.sourceConfig.StartURLs = []string{"https://example.org/students"}
	assert.Equal(t, []string{"https://example.org/students"}, ss.seeds())
}
