// Package digest selects the postings each user receives.
package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"opportunist/internal/logger"
	"opportunist/internal/models"
)

// PostingQuerier is the read side of the store used by the assembler.
type PostingQuerier interface {
	QueryPostings(ctx context.Context, category models.Category, minScore float64, since time.Time, limit int) ([]models.StoredPosting, error)
}

type Assembler struct {
	store     PostingQuerier
	threshold float64
	lookback  time.Duration
	now       func() time.Time
	log       logger.Logger
}

func NewAssembler(store PostingQuerier, threshold float64, lookback time.Duration, log logger.Logger) *Assembler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Assembler{
		store:     store,
		threshold: threshold,
		lookback:  lookback,
		now:       time.Now,
		log:       log.With(logger.String("component", "digest")),
	}
}

// WithClock overrides the time source. Used in tests.
func (a *Assembler) WithClock(now func() time.Time) *Assembler {
	a.now = now
	return a
}

// Assemble builds a fresh pending digest for user. Each category present in
// the user's limits gets at most that many postings, best score first.
// A failed category query is logged and the category left out, unless
// storage is unavailable, which fails the whole digest.
func (a *Assembler) Assemble(ctx context.Context, user models.UserProfile) (*models.Digest, error) {
	now := a.now()
	since := now.Add(-a.lookback)
	d := &models.Digest{
		UserEmail:   user.Email,
		ByCategory:  make(map[models.Category][]models.StoredPosting),
		GeneratedAt: now,
		Status:      models.DeliveryPending,
	}

	for _, cat := range models.Categories {
		limit, ok := user.CategoryLimits[cat]
		if !ok || limit <= 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		postings, err := a.store.QueryPostings(ctx, cat, a.threshold, since, limit)
		if errors.Is(err, models.ErrStorageUnavailable) {
			return nil, fmt.Errorf("query %s postings: %w", cat, err)
		}
		if err != nil {
			a.log.Warn("Category query failed",
				logger.String("user", user.Email),
				logger.String("category", string(cat)),
				logger.Error(err),
			)
			continue
		}
		if len(postings) > limit {
			postings = postings[:limit]
		}
		if len(postings) == 0 {
			continue
		}
		d.ByCategory[cat] = postings
		d.TotalCount += len(postings)
	}

	a.log.Debug("Digest assembled",
		logger.String("user", user.Email),
		logger.Int("total", d.TotalCount),
		logger.Int("categories", len(d.ByCategory)),
	)
	return d, nil
}
