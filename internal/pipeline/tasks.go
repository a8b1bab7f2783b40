package pipeline

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"opportunist/internal/db"
	"opportunist/internal/logger"
	"opportunist/internal/models"
)

const (
	statusWindow   = 24 * time.Hour
	activityWindow = 2 * time.Hour
)

// StatusReport summarizes the last day of pipeline activity.
type StatusReport struct {
	GeneratedAt    time.Time               `json:"generated_at"`
	State          State                   `json:"state"`
	CrawlStats     []db.StatusStat         `json:"crawl_stats_24h"`
	CategoryCounts map[models.Category]int `json:"opportunity_counts_24h"`
	TotalPostings  int                     `json:"total_opportunities_24h"`
	LastCrawlAt    time.Time               `json:"last_crawl_at"`
	Threshold      float64                 `json:"relevance_threshold"`
	Backend        string                  `json:"embedding_backend"`
}

func (o *Orchestrator) Status(ctx context.Context) (*StatusReport, error) {
	now := o.now()
	since := now.Add(-statusWindow)

	stats, err := o.store.CrawlStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("crawl stats: %w", err)
	}
	counts, err := o.store.CategoryCounts(ctx, o.scorer.Threshold(), since)
	if err != nil {
		return nil, fmt.Errorf("category counts: %w", err)
	}
	last, err := o.store.LastCrawlAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("last crawl: %w", err)
	}

	rep := &StatusReport{
		GeneratedAt:    now,
		State:          o.State(),
		CrawlStats:     stats,
		CategoryCounts: make(map[models.Category]int, len(models.Categories)),
		LastCrawlAt:    last,
		Threshold:      o.scorer.Threshold(),
		Backend:        o.scorer.Backend(),
	}
	for _, c := range models.Categories {
		rep.CategoryCounts[c] = counts[c]
		rep.TotalPostings += counts[c]
	}
	return rep, nil
}

type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

type HealthReport struct {
	Status     HealthStatus      `json:"overall_status"`
	Components map[string]string `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// Health checks each collaborator. Storage or embedding trouble makes the
// system unhealthy; a missing email transport only degrades it. Lack of
// recent crawl activity is reported but does not change the status.
func (o *Orchestrator) Health(ctx context.Context) *HealthReport {
	h := &HealthReport{Status: Healthy, Components: make(map[string]string), CheckedAt: o.now()}
	worsen := func(s HealthStatus) {
		if s == Unhealthy || h.Status == Healthy {
			h.Status = s
		}
	}

	if err := o.store.Ping(ctx); err != nil {
		h.Components["database"] = "unhealthy: " + err.Error()
		worsen(Unhealthy)
	} else {
		h.Components["database"] = string(Healthy)
	}

	if o.scorer == nil {
		h.Components["embedding_service"] = "unhealthy: no embedding backend"
		worsen(Unhealthy)
	} else if err := o.scorer.Ping(ctx); err != nil {
		h.Components["embedding_service"] = "unhealthy: " + err.Error()
		worsen(Unhealthy)
	} else {
		h.Components["embedding_service"] = string(Healthy)
	}

	if o.deliverer == nil {
		h.Components["email_service"] = "unhealthy: SendGrid not configured"
		worsen(Degraded)
	} else {
		h.Components["email_service"] = string(Healthy)
	}

	last, err := o.store.LastCrawlAt(ctx)
	switch {
	case err != nil:
		h.Components["crawl_activity"] = "error: " + err.Error()
	case last.IsZero() || o.now().Sub(last) > activityWindow:
		h.Components["crawl_activity"] = "warning: no recent crawl activity"
	default:
		h.Components["crawl_activity"] = string(Healthy)
	}
	return h
}

// Init prepares storage: connectivity and indexes.
func (o *Orchestrator) Init(ctx context.Context) error {
	if err := o.store.Ping(ctx); err != nil {
		return err
	}
	if err := o.store.EnsureIndexes(ctx); err != nil {
		return err
	}
	o.log.Info("Storage initialized")
	return nil
}

// Cleanup removes raw pages and crawl attempts older than days.
func (o *Orchestrator) Cleanup(ctx context.Context, days int) (db.CleanupResult, error) {
	if days <= 0 {
		return db.CleanupResult{}, fmt.Errorf("%w: cleanup days must be positive, got %d", models.ErrConfiguration, days)
	}
	res, err := o.store.Cleanup(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return res, err
	}
	o.log.Info("Old data removed",
		logger.Int("days", days),
		logger.Int("raw_pages", int(res.RawPages)),
		logger.Int("crawl_attempts", int(res.CrawlAttempts)),
	)
	return res, nil
}

// AddUser registers an active user with the default category limits.
func (o *Orchestrator) AddUser(ctx context.Context, email string) (models.UserProfile, error) {
	addr, err := parseEmail(email)
	if err != nil {
		return models.UserProfile{}, err
	}
	u := models.NewUserProfile(addr, o.now())
	if err := o.store.CreateUser(ctx, u); err != nil {
		return models.UserProfile{}, err
	}
	o.log.Info("User added", logger.String("email", addr))
	return u, nil
}

// TestEmail sends a digest built from current postings to an arbitrary
// address. When nothing qualifies a sample posting is used so the
// transport is still exercised. User records are left untouched.
func (o *Orchestrator) TestEmail(ctx context.Context, email string) error {
	addr, err := parseEmail(email)
	if err != nil {
		return err
	}
	if o.deliverer == nil {
		return fmt.Errorf("%w: no email transport configured", models.ErrConfiguration)
	}

	d, err := o.assembler.Assemble(ctx, models.NewUserProfile(addr, o.now()))
	if err != nil {
		return err
	}
	if d.TotalCount == 0 {
		d.ByCategory[models.CategoryJob] = []models.StoredPosting{samplePosting(o.now())}
		d.TotalCount = 1
	}
	return o.send(ctx, d, "Test Email - Opportunist")
}

func samplePosting(now time.Time) models.StoredPosting {
	return models.StoredPosting{ID: "sample", ScoredPosting: models.ScoredPosting{
		Posting: models.Posting{
			Title:       "Test Software Engineer Position",
			Description: "This is a test opportunity to verify email functionality.",
			Category:    models.CategoryJob,
			Link:        "https://example.com/job",
			Source:      "example.com",
			PostedAt:    now,
			CrawledAt:   now,
		},
		Score: 0.85,
	}}
}

func parseEmail(s string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: invalid email %q: %v", models.ErrConfiguration, s, err)
	}
	return strings.ToLower(addr.Address), nil
}
