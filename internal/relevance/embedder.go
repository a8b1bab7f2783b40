// Package relevance scores postings against a fixed set of interests by
// cosine similarity of text embeddings.
package relevance

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"opportunist/internal/config"
	"opportunist/internal/models"
)

// Embedder turns texts into fixed-length vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
	Name() string
}

const (
	BackendAPI   = "api"
	BackendLocal = "local"
)

// NewEmbedder picks the backend named in cfg once, at startup.
func NewEmbedder(cfg config.RelevanceConfig, timeout time.Duration) (Embedder, error) {
	switch cfg.Backend {
	case BackendAPI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: api embedding backend requires an api key", models.ErrConfiguration)
		}
		return NewAPIEmbedder(APIOptions{
			URL:       cfg.APIURL,
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		}, &http.Client{Timeout: timeout}), nil
	case BackendLocal, "":
		return NewHashEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding backend %q", models.ErrConfiguration, cfg.Backend)
	}
}
