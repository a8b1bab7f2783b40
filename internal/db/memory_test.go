package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opportunist/internal/models"
)

func scored(title string, cat models.Category, score float64, posted time.Time, hash string) models.ScoredPosting {
	return models.ScoredPosting{
		Posting: models.Posting{Title: title, Category: cat, PostedAt: posted},
		Score:   score,
		Hash:    hash,
	}
}

func TestMemoryStore_UniqueHash(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	_, err := s.InsertPosting(ctx, scored("A", models.CategoryJob, 0.8, now, "h1"))
	require.NoError(t, err)

	_, err = s.InsertPosting(ctx, scored("A again", models.CategoryJob, 0.9, now, "h1"))
	require.ErrorIs(t, err, models.ErrDuplicate)

	ok, err := s.ExistsByHash(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, s.Postings(), 1)
}

func TestMemoryStore_QueryPostings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	for i, p := range []models.ScoredPosting{
		scored("low", models.CategoryJob, 0.5, now, "a"),
		scored("mid", models.CategoryJob, 0.75, now, "b"),
		scored("top", models.CategoryJob, 0.95, now, "c"),
		scored("old", models.CategoryJob, 0.99, now.Add(-48*time.Hour), "d"),
		scored("intern", models.CategoryInternship, 0.9, now, "e"),
	} {
		_, err := s.InsertPosting(ctx, p)
		require.NoError(t, err, "posting %d", i)
	}

	got, err := s.QueryPostings(ctx, models.CategoryJob, 0.7, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "top", got[0].Title)
	assert.Equal(t, "mid", got[1].Title)

	got, err = s.QueryPostings(ctx, models.CategoryJob, 0.7, now.Add(-24*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	counts, err := s.CategoryCounts(ctx, 0.7, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[models.Category]int{models.CategoryJob: 2, models.CategoryInternship: 1}, counts)
}

func TestMemoryStore_CrawlStatsAndCleanup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.InsertCrawlAttempt(ctx, models.CrawlAttempt{Status: models.AttemptSuccess, Latency: 100 * time.Millisecond, Timestamp: now}))
	require.NoError(t, s.InsertCrawlAttempt(ctx, models.CrawlAttempt{Status: models.AttemptSuccess, Latency: 300 * time.Millisecond, Timestamp: now}))
	require.NoError(t, s.InsertCrawlAttempt(ctx, models.CrawlAttempt{Status: models.AttemptFailed, Timestamp: now.Add(-40 * 24 * time.Hour)}))
	require.NoError(t, s.InsertRawPage(ctx, models.RawPage{URL: "https://a", CrawledAt: now.Add(-40 * 24 * time.Hour)}))

	stats, err := s.CrawlStats(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, models.AttemptSuccess, stats[0].Status)
	assert.Equal(t, 2, stats[0].Count)
	assert.Equal(t, 200*time.Millisecond, stats[0].AvgLatency)

	last, err := s.LastCrawlAt(ctx)
	require.NoError(t, err)
	assert.True(t, last.Equal(now))

	res, err := s.Cleanup(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, CleanupResult{RawPages: 1, CrawlAttempts: 1}, res)
	assert.Len(t, s.CrawlAttempts(), 2)
	assert.Empty(t, s.RawPages())
}

func TestMemoryStore_Users(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	require.NoError(t, s.CreateUser(ctx, models.NewUserProfile("b@example.org", now)))
	require.NoError(t, s.CreateUser(ctx, models.NewUserProfile("a@example.org", now)))
	inactive := models.NewUserProfile("c@example.org", now)
	inactive.Active = false
	require.NoError(t, s.CreateUser(ctx, inactive))
	assert.ErrorIs(t, s.CreateUser(ctx, models.NewUserProfile("a@example.org", now)), models.ErrDuplicate)

	users, err := s.ActiveUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a@example.org", users[0].Email)

	require.NoError(t, s.MarkDigestSent(ctx, "a@example.org", now))
	u, ok := s.User("a@example.org")
	require.True(t, ok)
	require.NotNil(t, u.LastDigestAt)
	assert.True(t, u.LastDigestAt.Equal(now))

	assert.Error(t, s.MarkDigestSent(ctx, "missing@example.org", now))
}

func TestMemoryStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SetUnavailable(true)

	_, err := s.InsertPosting(ctx, scored("A", models.CategoryJob, 0.8, time.Now(), "h1"))
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
	_, err = s.ExistsByHash(ctx, "h1")
	assert.ErrorIs(t, err, models.ErrStorageUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), models.ErrStorageUnavailable)

	s.SetUnavailable(false)
	assert.NoError(t, s.Ping(ctx))
}
