package relevance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"opportunist/internal/models"
)

const defaultAPIDimension = 1536

type APIOptions struct {
	URL       string
	APIKey    string
	Model     string
	Dimension int
}

// APIEmbedder calls an OpenAI-compatible embeddings endpoint.
type APIEmbedder struct {
	client *http.Client
	opts   APIOptions
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewAPIEmbedder(opts APIOptions, client *http.Client) *APIEmbedder {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Dimension <= 0 {
		opts.Dimension = defaultAPIDimension
	}
	return &APIEmbedder{client: client, opts: opts}
}

func (a *APIEmbedder) Name() string   { return "api:" + a.opts.Model }
func (a *APIEmbedder) Dimension() int { return a.opts.Dimension }

func (a *APIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingRequest{Model: a.opts.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", models.ErrEmbeddingBackend, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.opts.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", models.ErrEmbeddingBackend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.opts.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrEmbeddingBackend, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", models.ErrEmbeddingBackend, err)
	}

	var decoded embeddingResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: status %d: decode response: %v", models.ErrEmbeddingBackend, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if decoded.Error != nil && decoded.Error.Message != "" {
			msg = decoded.Error.Message
		}
		return nil, fmt.Errorf("%w: status %d: %s", models.ErrEmbeddingBackend, resp.StatusCode, msg)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", models.ErrEmbeddingBackend, len(decoded.Data), len(texts))
	}

	sort.Slice(decoded.Data, func(i, j int) bool { return decoded.Data[i].Index < decoded.Data[j].Index })
	out := make([][]float64, len(texts))
	for i, d := range decoded.Data {
		out[i] = d.Embedding
	}
	return out, nil
}
