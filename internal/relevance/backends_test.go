package relevance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opportunist/internal/config"
	"opportunist/internal/models"
)

func TestHashEmbedder(t *testing.T) {
	h := NewHashEmbedder(0)
	require.Equal(t, defaultLocalDimension, h.Dimension())

	vecs, err := h.Embed(context.Background(), []string{
		"software engineering internships",
		"Software Engineering Internship",
		"bakery opening hours",
		"",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 4)

	assert.InDelta(t, 1.0, norm(vecs[0]), 1e-9)
	assert.Equal(t, 0.0, norm(vecs[3]))

	again, _ := h.Embed(context.Background(), []string{"software engineering internships"})
	assert.Equal(t, vecs[0], again[0])

	similar := Cosine(vecs[0], vecs[1])
	unrelated := Cosine(vecs[0], vecs[2])
	assert.Greater(t, similar, unrelated)
	assert.Greater(t, similar, 0.5)
}

func TestAPIEmbedder(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Input, 2)
		// reversed order to check index handling
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	e := NewAPIEmbedder(APIOptions{URL: srv.URL, APIKey: "sk-test", Model: "test-model", Dimension: 2}, srv.Client())
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "api:test-model", e.Name())
}

func TestAPIEmbedder_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	e := NewAPIEmbedder(APIOptions{URL: srv.URL, Model: "m"}, srv.Client())
	_, err := e.Embed(context.Background(), []string{"a"})
	require.ErrorIs(t, err, models.ErrEmbeddingBackend)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, defaultAPIDimension, e.Dimension())
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(config.RelevanceConfig{Backend: "local"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "local:hash", e.Name())

	_, err = NewEmbedder(config.RelevanceConfig{Backend: "api"}, time.Second)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	_, err = NewEmbedder(config.RelevanceConfig{Backend: "quantum"}, time.Second)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

type countingEmbedder struct {
	inner Embedder
	texts int
}

func (c *countingEmbedder) Name() string   { return c.inner.Name() }
func (c *countingEmbedder) Dimension() int { return c.inner.Dimension() }
func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	c.texts += len(texts)
	return c.inner.Embed(ctx, texts)
}

func TestCachedEmbedder(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	inner := &countingEmbedder{inner: NewHashEmbedder(16)}
	c := NewCachedEmbedder(inner, rdb, time.Hour, nil)

	first, err := c.Embed(context.Background(), []string{"go developer", "rust developer"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.texts)

	second, err := c.Embed(context.Background(), []string{"rust developer", "go developer", "zig developer"})
	require.NoError(t, err)
	assert.Equal(t, 3, inner.texts, "only the new text is embedded")
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[1])

	assert.Len(t, mr.Keys(), 3)
	assert.True(t, mr.TTL(mr.Keys()[0]) > 0)
}

func TestScorer_PingBypassesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	inner := &countingEmbedder{inner: NewHashEmbedder(16)}
	s := NewScorer(NewCachedEmbedder(inner, rdb, time.Hour, nil), Options{Interests: []string{"go"}}, nil, nil)

	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, 2, inner.texts)
	assert.Empty(t, mr.Keys())
}

func TestCachedEmbedder_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	inner := &countingEmbedder{inner: NewHashEmbedder(16)}
	vecs, err := NewCachedEmbedder(inner, rdb, time.Hour, nil).Embed(context.Background(), []string{"go developer"})
	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Equal(t, 1, inner.texts)
}
