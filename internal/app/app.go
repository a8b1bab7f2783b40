package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"opportunist/internal/config"
	"opportunist/internal/logger"
	"opportunist/internal/metrics"
	"opportunist/internal/models"
	urlqueue "opportunist/internal/url_queue"
)

// DefaultEntryPaths are appended to the domain root when a source lists
// no start URLs or entry paths.
var DefaultEntryPaths = []string{
	"/careers",
	"/jobs",
	"/positions",
	"/opportunities",
	"/work-with-us",
	"/join-us",
	"/hiring",
}

// PageExtractor turns one fetched page into candidate postings.
type PageExtractor interface {
	Extract(rawHTML, sourceURL string) []models.Posting
}

type SpiderApp struct {
	config    *config.SpiderConfig
	recorder  CrawlRecorder
	extractor PageExtractor
	log       logger.Logger
	metrics   *metrics.Metrics
}

// SourceSpider crawls one domain breadth-first. Fetches are sequential.
type SourceSpider struct {
	source       string
	sourceConfig config.SourceConfig
	fetcher      *Fetcher
	extractor    PageExtractor
	queue        *urlqueue.URLQueue
	delay        time.Duration
	log          logger.Logger
	metrics      *metrics.Metrics
}

// DomainResult is the outcome of one domain crawl.
type DomainResult struct {
	Source       string
	Domain       string
	Postings     []models.Posting
	PagesFetched int
	PagesFailed  int
	LinksQueued  int
	Duration     time.Duration
}

func NewSpiderApp(cfg *config.SpiderConfig, recorder CrawlRecorder, extractor PageExtractor, log logger.Logger, m *metrics.Metrics) *SpiderApp {
	if log == nil {
		log = logger.NewNop()
	}
	return &SpiderApp{
		config:    cfg,
		recorder:  recorder,
		extractor: extractor,
		log:       log.With(logger.String("component", "spider")),
		metrics:   m,
	}
}

func (s *SpiderApp) newSourceSpider(name string, sc config.SourceConfig) *SourceSpider {
	logic := s.config.Logic
	fetcher := NewFetcher(FetcherOptions{
		Spider:     "opportunist-" + name,
		Domain:     sc.Domain,
		UserAgent:  logic.UserAgent,
		Timeout:    logic.Timeout(),
		MaxRetries: logic.MaxRetries,
		BaseDelay:  logic.RetryBaseDelay(),
	}, s.recorder, s.log, s.metrics)

	return &SourceSpider{
		source:       name,
		sourceConfig: sc,
		fetcher:      fetcher,
		extractor:    s.extractor,
		queue:        urlqueue.NewURLQueue(name),
		delay:        logic.Delay(),
		log:          s.log.With(logger.String("source", name), logger.String("domain", sc.Domain)),
		metrics:      s.metrics,
	}
}

// Crawl runs every configured source with at most MaxConcurrentWorkers
// domains in flight. Results follow the sorted source order. Only
// cancellation is returned as an error.
func (s *SpiderApp) Crawl(ctx context.Context) ([]DomainResult, error) {
	names := s.config.SourceNames()
	results := make([]DomainResult, len(names))

	s.log.Info("Starting spiders",
		logger.Int("sources", len(names)),
		logger.Int("concurrency", s.config.Logic.MaxConcurrentWorkers),
		logger.Int("delay_ms", s.config.Logic.DelayMS),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Logic.MaxConcurrentWorkers)

	for i, name := range names {
		i := i
		spider := s.newSourceSpider(name, s.config.Sources[name])
		g.Go(func() error {
			results[i] = spider.Crawl(gctx)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// Postings concatenates the postings of every domain result.
func Postings(results []DomainResult) []models.Posting {
	var out []models.Posting
	for _, r := range results {
		out = append(out, r.Postings...)
	}
	return out
}

func (ss *SourceSpider) seeds() []string {
	sc := ss.sourceConfig
	if len(sc.StartURLs) > 0 {
		return sc.StartURLs
	}
	root := fmt.Sprintf("%s://%s", sc.Scheme, sc.Domain)
	paths := sc.EntryPaths
	if len(paths) == 0 {
		paths = DefaultEntryPaths
	}
	seeds := []string{root + "/"}
	for _, p := range paths {
		seeds = append(seeds, root+"/"+strings.TrimPrefix(p, "/"))
	}
	return seeds
}

// Crawl pops the frontier until it is empty or MaxPages URLs have been
// attempted, sleeping the politeness delay between fetches.
func (ss *SourceSpider) Crawl(ctx context.Context) DomainResult {
	start := time.Now()
	res := DomainResult{Source: ss.source, Domain: ss.sourceConfig.Domain}
	maxPages := ss.sourceConfig.MaxPages

	for _, seed := range ss.seeds() {
		ss.queue.Add(seed)
	}
	ss.log.Info("Crawling domain", logger.Int("seeds", ss.queue.Size()), logger.Int("max_pages", maxPages))

	pages := 0
	for pages < maxPages {
		if ctx.Err() != nil {
			ss.log.Warn("Crawl cancelled", logger.Int("pages", pages))
			break
		}

		urlStr, ok := ss.queue.Get()
		if !ok {
			break
		}
		if ss.queue.Visited(urlStr) {
			continue
		}

		pages++
		ss.metrics.IncPages(ss.sourceConfig.Domain)

		page, err := ss.fetcher.Fetch(ctx, urlStr)
		if err != nil {
			res.PagesFailed++
		} else {
			res.PagesFetched++
			postings := ss.extractor.Extract(page.Body, urlStr)
			res.Postings = append(res.Postings, postings...)
			ss.metrics.AddExtracted(ss.sourceConfig.Domain, len(postings))

			for _, link := range ExtractLinks(page.Body, urlStr, ss.sourceConfig.Domain) {
				if ss.queue.Add(link) {
					res.LinksQueued++
				}
			}
			ss.log.Debug("Page processed",
				logger.String("url", urlStr),
				logger.Int("postings", len(postings)),
				logger.Int("frontier", ss.queue.Size()),
			)
		}
		ss.queue.MarkVisited(urlStr)

		if pages >= maxPages || ss.queue.Size() == 0 {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(ss.delay):
		}
	}

	res.Duration = time.Since(start)
	ss.log.Info("Domain crawl finished",
		logger.Int("pages", pages),
		logger.Int("fetched", res.PagesFetched),
		logger.Int("failed", res.PagesFailed),
		logger.Int("postings", len(res.Postings)),
		logger.Duration("duration", res.Duration),
	)
	return res
}
