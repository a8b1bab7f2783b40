package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"opportunist/internal/models"
)

// MemoryStore keeps everything in process. It enforces the same unique
// keys as the Mongo store and is used for dry runs and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	postings    []models.StoredPosting
	hashes      map[string]bool
	attempts    []models.CrawlAttempt
	rawPages    []models.RawPage
	users       map[string]models.UserProfile
	unavailable error
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes: make(map[string]bool),
		users:  make(map[string]models.UserProfile),
		now:    time.Now,
	}
}

// SetUnavailable makes every subsequent call fail with ErrStorageUnavailable
// when down is true.
func (m *MemoryStore) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if down {
		m.unavailable = fmt.Errorf("%w: memory store offline", models.ErrStorageUnavailable)
	} else {
		m.unavailable = nil
	}
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unavailable
}

func (m *MemoryStore) EnsureIndexes(context.Context) error { return m.Ping(context.Background()) }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) InsertPosting(_ context.Context, p models.ScoredPosting) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable != nil {
		return "", m.unavailable
	}
	if m.hashes[p.Hash] {
		return "", fmt.Errorf("insert posting: %w", models.ErrDuplicate)
	}
	id := uuid.NewString()
	m.hashes[p.Hash] = true
	m.postings = append(m.postings, models.StoredPosting{ID: id, ScoredPosting: p})
	return id, nil
}

func (m *MemoryStore) ExistsByHash(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable != nil {
		return false, m.unavailable
	}
	return m.hashes[hash], nil
}

func (m *MemoryStore) QueryPostings(_ context.Context, category models.Category, minScore float64, since time.Time, limit int) ([]models.StoredPosting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable != nil {
		return nil, m.unavailable
	}

	var out []models.StoredPosting
	for _, p := range m.postings {
		if p.Category == category && p.Score >= minScore && !p.PostedAt.Before(since) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PostedAt.After(out[j].PostedAt)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CategoryCounts(_ context.Context, minScore float64, since time.Time) (map[models.Category]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable != nil {
		return nil, m.unavailable
	}
	out := make(map[models.Category]int)
	for _, p := range m.postings {
		if p.Score >= minScore && !p.PostedAt.Before(since) {
			out[p.Category]++
		}
	}
	return out, nil
}

func (m *MemoryStore) InsertCrawlAttempt(_ context.Context, a models.CrawlAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable != nil {
		return m.unavailable
	}
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *MemoryStore) InsertRawPage(_ context.Context, p models.RawPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable != nil {
		return m.unavailable
	}
	m.rawPages = append(m.rawPages, p)
	return nil
}

func (m *MemoryStore) CrawlStats(_ context.Context, since time.Time) ([]StatusStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable != nil {
		return nil, m.unavailable
	}

	type acc struct {
		count int
		total time.Duration
	}
	byStatus := make(map[models.AttemptStatus]*acc)
	for _, a := range m.attempts {
		if a.Timestamp.Before(since) {
			continue
		}
		s, ok := byStatus[a.Status]
		if !ok {
			s = &acc{}
			byStatus[a.Status] = s
		}
		s.count++
		s.total += a.Latency
	}

	out := make([]StatusStat, 0, len(byStatus))
	for status, s := range byStatus {
		out = append(out, StatusStat{Status: status, Count: s.count, AvgLatency: s.total / time.Duration(s.count)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}

func (m *MemoryStore) LastCrawlAt(context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable != nil {
		return time.Time{}, m.unavailable
	}
	var last time.Time
	for _, a := range m.attempts {
		if a.Timestamp.After(last) {
			last = a.Timestamp
		}
	}
	return last, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, u models.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable != nil {
		return m.unavailable
	}
	if _, ok := m.users[u.Email]; ok {
		return fmt.Errorf("create user %s: %w", u.Email, models.ErrDuplicate)
	}
	m.users[u.Email] = u
	return nil
}

func (m *MemoryStore) ActiveUsers(context.Context) ([]models.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable != nil {
		return nil, m.unavailable
	}
	var out []models.UserProfile
	for _, u := range m.users {
		if u.Active {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *MemoryStore) User(email string) (models.UserProfile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[email]
	return u, ok
}

func (m *MemoryStore) MarkDigestSent(_ context.Context, email string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable != nil {
		return m.unavailable
	}
	u, ok := m.users[email]
	if !ok {
		return fmt.Errorf("mark digest sent: user %s not found", email)
	}
	u.LastDigestAt = &at
	m.users[email] = u
	return nil
}

func (m *MemoryStore) Cleanup(_ context.Context, maxAge time.Duration) (CleanupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unavailable != nil {
		return CleanupResult{}, m.unavailable
	}
	cutoff := m.now().Add(-maxAge)
	var res CleanupResult

	pages := m.rawPages[:0]
	for _, p := range m.rawPages {
		if p.CrawledAt.Before(cutoff) {
			res.RawPages++
			continue
		}
		pages = append(pages, p)
	}
	m.rawPages = pages

	attempts := m.attempts[:0]
	for _, a := range m.attempts {
		if a.Timestamp.Before(cutoff) {
			res.CrawlAttempts++
			continue
		}
		attempts = append(attempts, a)
	}
	m.attempts = attempts
	return res, nil
}

// Postings returns a copy of every stored posting in insertion order.
func (m *MemoryStore) Postings() []models.StoredPosting {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.StoredPosting(nil), m.postings...)
}

func (m *MemoryStore) CrawlAttempts() []models.CrawlAttempt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.CrawlAttempt(nil), m.attempts...)
}

func (m *MemoryStore) RawPages() []models.RawPage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.RawPage(nil), m.rawPages...)
}
