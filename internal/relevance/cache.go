package relevance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"opportunist/internal/logger"
	"opportunist/internal/models"
)

const cacheKeyPrefix = "opportunist:embedding:"

// CachedEmbedder serves vectors from Redis and embeds only the misses.
// Cache failures are logged and bypassed.
type CachedEmbedder struct {
	inner Embedder
	rdb   *redis.Client
	ttl   time.Duration
	log   logger.Logger
}

func NewCachedEmbedder(inner Embedder, rdb *redis.Client, ttl time.Duration, log logger.Logger) *CachedEmbedder {
	if log == nil {
		log = logger.NewNop()
	}
	return &CachedEmbedder{inner: inner, rdb: rdb, ttl: ttl, log: log.With(logger.String("component", "embedding_cache"))}
}

func (c *CachedEmbedder) Name() string   { return c.inner.Name() + "+redis" }
func (c *CachedEmbedder) Unwrap() Embedder { return c.inner }
func (c *CachedEmbedder) Dimension() int { return c.inner.Dimension() }

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(c.inner.Name() + "\x00" + text))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float64, len(texts))
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	cached, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.log.Warn("Embedding cache read failed", logger.Error(err))
		cached = nil
	}

	var missIdx []int
	var missTexts []string
	for i := range texts {
		if i < len(cached) {
			if s, ok := cached[i].(string); ok {
				var v []float64
				if json.Unmarshal([]byte(s), &v) == nil && len(v) > 0 {
					out[i] = v
					continue
				}
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", models.ErrEmbeddingBackend, len(fresh), len(missTexts))
	}

	pipe := c.rdb.Pipeline()
	for j, i := range missIdx {
		out[i] = fresh[j]
		data, err := json.Marshal(fresh[j])
		if err != nil {
			continue
		}
		pipe.Set(ctx, keys[i], data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("Embedding cache write failed", logger.Error(err))
	}

	c.log.Debug("Embedding cache", logger.Int("hits", len(texts)-len(missTexts)), logger.Int("misses", len(missTexts)))
	return out, nil
}
