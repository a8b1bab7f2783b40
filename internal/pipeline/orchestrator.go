// Package pipeline sequences crawl, scoring, storage, digest assembly and
// delivery into one run and reports on it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"opportunist/internal/app"
	"opportunist/internal/db"
	"opportunist/internal/dedup"
	"opportunist/internal/delivery"
	"opportunist/internal/digest"
	"opportunist/internal/logger"
	"opportunist/internal/metrics"
	"opportunist/internal/models"
)

// Store is everything the orchestrator and its tasks need from storage.
type Store interface {
	app.CrawlRecorder
	dedup.Repository
	digest.PostingQuerier
	Ping(ctx context.Context) error
	EnsureIndexes(ctx context.Context) error
	CategoryCounts(ctx context.Context, minScore float64, since time.Time) (map[models.Category]int, error)
	CrawlStats(ctx context.Context, since time.Time) ([]db.StatusStat, error)
	LastCrawlAt(ctx context.Context) (time.Time, error)
	CreateUser(ctx context.Context, u models.UserProfile) error
	ActiveUsers(ctx context.Context) ([]models.UserProfile, error)
	MarkDigestSent(ctx context.Context, email string, at time.Time) error
	Cleanup(ctx context.Context, maxAge time.Duration) (db.CleanupResult, error)
}

type Crawler interface {
	Crawl(ctx context.Context) ([]app.DomainResult, error)
}

type Scorer interface {
	Init(ctx context.Context) error
	Ping(ctx context.Context) error
	ScoreAndFilter(ctx context.Context, postings []models.Posting) ([]models.ScoredPosting, int, error)
	Threshold() float64
	Backend() string
}

// Deliverer sends one rendered email.
type Deliverer interface {
	Deliver(ctx context.Context, html, recipient, subject string) error
}

type Deps struct {
	Store     Store
	Crawler   Crawler
	Scorer    Scorer
	Assembler *digest.Assembler
	Deliverer Deliverer
	Log       logger.Logger
	Metrics   *metrics.Metrics
}

type Orchestrator struct {
	store     Store
	crawler   Crawler
	scorer    Scorer
	dedup     *dedup.Deduplicator
	assembler *digest.Assembler
	deliverer Deliverer
	log       logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu    sync.Mutex
	state State
	runMu sync.Mutex
}

func New(d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{
		store:     d.Store,
		crawler:   d.Crawler,
		scorer:    d.Scorer,
		dedup:     dedup.New(d.Store, log),
		assembler: d.Assembler,
		deliverer: d.Deliverer,
		log:       log.With(logger.String("component", "pipeline")),
		metrics:   d.Metrics,
		now:       time.Now,
		state:     StateIdle,
	}
}

// State reports where the current or last run is.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// run carries data between stages of a single run.
type run struct {
	report   *Report
	postings []models.Posting
	accepted []models.ScoredPosting
	digests  []*models.Digest
}

// Run executes task and always returns a report. A stage that fails as a
// whole moves the run to StateFailed; per-item failures are counted in
// the stage stats.
func (o *Orchestrator) Run(ctx context.Context, task Task) *Report {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	r := &run{report: &Report{
		RunID:     uuid.NewString(),
		Task:      task,
		StartedAt: o.now(),
		State:     StateIdle,
	}}
	log := o.log.With(logger.String("run_id", r.report.RunID), logger.String("task", string(task)))
	log.Info("Pipeline run started")
	o.setState(StateIdle)

	for _, stage := range task.stages() {
		if err := ctx.Err(); err != nil {
			o.fail(r.report, stage, fmt.Errorf("run cancelled: %w", err))
			break
		}

		o.setState(stage)
		r.report.State = stage
		stats := newStageStats(stage)
		start := time.Now()

		err := o.runStage(ctx, stage, r, stats)

		stats.Duration = time.Since(start)
		r.report.Stages = append(r.report.Stages, *stats)
		if err != nil {
			o.fail(r.report, stage, err)
			break
		}
		log.Info("Stage finished",
			logger.String("stage", string(stage)),
			logger.Any("counts", stats.Counts),
			logger.Duration("duration", stats.Duration),
		)
	}

	if r.report.Status == "" {
		r.report.Status = StatusCompleted
		r.report.State = StateCompleted
		o.setState(StateCompleted)
	}
	r.report.FinishedAt = o.now()
	r.report.Duration = r.report.FinishedAt.Sub(r.report.StartedAt)
	o.metrics.ObserveRun(string(task), string(r.report.Status), r.report.Duration)

	if r.report.Failed() {
		log.Error("Pipeline run failed",
			logger.String("failed_at", string(r.report.FailedAt)),
			logger.Strings("errors", r.report.Errors),
		)
	} else {
		log.Info("Pipeline run completed", logger.Duration("duration", r.report.Duration))
	}
	return r.report
}

func (o *Orchestrator) fail(report *Report, stage State, err error) {
	report.Status = StatusFailed
	report.State = StateFailed
	report.FailedAt = stage
	report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", stage, err))
	o.setState(StateFailed)
}

// runStage turns a panicking stage into a stage failure.
func (o *Orchestrator) runStage(ctx context.Context, stage State, r *run, stats *StageStats) (err error) {
	defer func() {
		if p := recover(); p != nil {
			o.log.Error("Stage panicked",
				logger.String("stage", string(stage)),
				logger.Any("panic", p),
				logger.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("stage panicked: %v", p)
		}
	}()

	switch stage {
	case StateCrawling:
		return o.crawl(ctx, r, stats)
	case StateScoring:
		return o.score(ctx, r, stats)
	case StateStoring:
		return o.persist(ctx, r, stats)
	case StateDigesting:
		return o.assemble(ctx, r, stats)
	case StateDelivering:
		return o.deliver(ctx, r, stats)
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

func (o *Orchestrator) crawl(ctx context.Context, r *run, stats *StageStats) error {
	results, err := o.crawler.Crawl(ctx)
	if err != nil {
		return err
	}
	for _, res := range results {
		stats.Counts["domains"]++
		stats.Counts["pages_fetched"] += res.PagesFetched
		stats.Counts["pages_failed"] += res.PagesFailed
		stats.Counts["links_queued"] += res.LinksQueued
		if res.PagesFetched == 0 && res.PagesFailed > 0 {
			stats.errorf("%s: no page could be fetched", res.Domain)
		}
	}
	r.postings = app.Postings(results)
	stats.Counts["postings_extracted"] = len(r.postings)
	return nil
}

func (o *Orchestrator) score(ctx context.Context, r *run, stats *StageStats) error {
	if err := o.scorer.Init(ctx); err != nil {
		return err
	}
	accepted, total, err := o.scorer.ScoreAndFilter(ctx, r.postings)
	if err != nil {
		return err
	}
	r.accepted = accepted
	stats.Counts["scored"] = total
	stats.Counts["accepted"] = len(accepted)
	stats.Counts["rejected"] = total - len(accepted)
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, r *run, stats *StageStats) error {
	res, err := o.dedup.Store(ctx, r.accepted)
	stats.Counts["stored"] = res.Stored
	stats.Counts["duplicates"] = res.Duplicates
	stats.Counts["failed"] = res.Failed
	o.metrics.AddStored(res.Stored, res.Duplicates)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		stats.errorf("%d postings could not be stored", res.Failed)
	}
	return nil
}

func (o *Orchestrator) assemble(ctx context.Context, r *run, stats *StageStats) error {
	users, err := o.store.ActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("list active users: %w", err)
	}
	stats.Counts["users"] = len(users)

	for _, u := range users {
		d, err := o.assembler.Assemble(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, models.ErrStorageUnavailable) {
				return fmt.Errorf("assemble digest for %s: %w", u.Email, err)
			}
			stats.Counts["failed"]++
			stats.errorf("assemble digest for %s: %v", u.Email, err)
			continue
		}
		r.digests = append(r.digests, d)
		stats.Counts["postings"] += d.TotalCount
	}
	stats.Counts["digests"] = len(r.digests)
	return nil
}

func (o *Orchestrator) deliver(ctx context.Context, r *run, stats *StageStats) error {
	if o.deliverer == nil {
		return fmt.Errorf("%w: no email transport configured", models.ErrConfiguration)
	}

	for _, d := range r.digests {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.send(ctx, d, ""); err != nil {
			stats.Counts["failed"]++
			stats.errorf("%v", err)
			o.metrics.IncDigest(string(models.DeliveryFailed))
			continue
		}
		o.metrics.IncDigest(string(models.DeliverySent))
		stats.Counts["sent"]++

		if err := o.store.MarkDigestSent(ctx, d.UserEmail, *d.SentAt); err != nil {
			if errors.Is(err, models.ErrStorageUnavailable) {
				return err
			}
			stats.errorf("record delivery for %s: %v", d.UserEmail, err)
		}
	}
	return nil
}

// send renders and delivers d, updating its delivery status. An empty
// subject is replaced with the standard digest subject.
func (o *Orchestrator) send(ctx context.Context, d *models.Digest, subject string) error {
	now := o.now()
	html, err := delivery.Render(d, now)
	if err != nil {
		d.Status = models.DeliveryFailed
		return err
	}
	if subject == "" {
		subject = delivery.Subject(d, now)
	}
	if err := o.deliverer.Deliver(ctx, html, d.UserEmail, subject); err != nil {
		d.Status = models.DeliveryFailed
		return fmt.Errorf("deliver digest to %s: %w", d.UserEmail, err)
	}
	sent := o.now()
	d.SentAt = &sent
	d.Status = models.DeliverySent
	return nil
}
