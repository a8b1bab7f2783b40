package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opportunist/internal/models"
)

type fakeRecorder struct {
	mu       sync.Mutex
	attempts []models.CrawlAttempt
	pages    []models.RawPage
}

func (r *fakeRecorder) InsertCrawlAttempt(_ context.Context, a models.CrawlAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
	return nil
}

func (r *fakeRecorder) InsertRawPage(_ context.Context, p models.RawPage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages = append(r.pages, p)
	return nil
}

func (r *fakeRecorder) Attempts() []models.CrawlAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.CrawlAttempt(nil), r.attempts...)
}

func (r *fakeRecorder) Pages() []models.RawPage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.RawPage(nil), r.pages...)
}

func testFetcher(rec CrawlRecorder, maxRetries int) *Fetcher {
	return NewFetcher(FetcherOptions{
		Spider:     "test",
		Domain:     "example.org",
		UserAgent:  "test-agent",
		Timeout:    5 * time.Second,
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
	}, rec, nil, nil)
}

func TestFetcher_AllAttemptsFailWith500(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	page, err := testFetcher(rec, 3).Fetch(context.Background(), srv.URL+"/jobs")

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransientNetwork)
	assert.Nil(t, page)
	assert.Equal(t, int32(4), hits.Load())

	attempts := rec.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptFailed, attempts[0].Status)
	assert.Equal(t, 3, attempts[0].RetryCount)
	assert.Equal(t, "HTTP 500", attempts[0].Error)
	assert.Equal(t, srv.URL+"/jobs", attempts[0].URL)
	assert.Empty(t, rec.Pages())
}

func TestFetcher_RecoversAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Careers</title></head><body><p>Open roles</p></body></html>`))
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	page, err := testFetcher(rec, 3).Fetch(context.Background(), srv.URL+"/careers")

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, page.Body, "Open roles")

	attempts := rec.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptSuccess, attempts[0].Status)
	assert.Equal(t, 2, attempts[0].RetryCount)
	assert.Empty(t, attempts[0].Error)

	pages := rec.Pages()
	require.Len(t, pages, 1)
	assert.Equal(t, srv.URL+"/careers", pages[0].URL)
	assert.Equal(t, "example.org", pages[0].SourceDomain)
	assert.Equal(t, http.StatusOK, pages[0].StatusCode)
	assert.Contains(t, pages[0].HTML, "Open roles")
	assert.Contains(t, pages[0].Headers, "Content-Type")
}

func TestFetcher_Non200SuccessIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	_, err := testFetcher(rec, 0).Fetch(context.Background(), srv.URL)

	require.Error(t, err)
	attempts := rec.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptFailed, attempts[0].Status)
	assert.Equal(t, 0, attempts[0].RetryCount)
}

func TestFetcher_CancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	f := NewFetcher(FetcherOptions{Domain: "example.org", MaxRetries: 5, BaseDelay: time.Hour}, rec, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	attempts := rec.Attempts()
	require.Len(t, attempts, 1)
	assert.Equal(t, models.AttemptFailed, attempts[0].Status)
	assert.Equal(t, 0, attempts[0].RetryCount)
}
