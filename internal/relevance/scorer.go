package relevance

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"opportunist/internal/dedup"
	"opportunist/internal/logger"
	"opportunist/internal/metrics"
	"opportunist/internal/models"
)

const (
	maxEmbedTextLen = 8000
	healthCheckText = "health check"
)

type Options struct {
	Interests     []string
	BatchSize     int
	BatchInterval time.Duration
	Threshold     float64
}

// Scorer embeds postings in bounded, paced batches and scores them by
// their best cosine similarity to any interest vector.
type Scorer struct {
	embedder  Embedder
	opts      Options
	limiter   *rate.Limiter
	interests [][]float64
	log       logger.Logger
	metrics   *metrics.Metrics
}

func NewScorer(embedder Embedder, opts Options, log logger.Logger, m *metrics.Metrics) *Scorer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	limit := rate.Inf
	if opts.BatchInterval > 0 {
		limit = rate.Every(opts.BatchInterval)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Scorer{
		embedder: embedder,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		log:      log.With(logger.String("component", "scorer"), logger.String("backend", embedder.Name())),
		metrics:  m,
	}
}

func (s *Scorer) Threshold() float64 { return s.opts.Threshold }

func (s *Scorer) Backend() string { return s.embedder.Name() }

// Ping embeds a short text with the backend itself, skipping any cache,
// and fails unless it gets back one non-zero vector.
func (s *Scorer) Ping(ctx context.Context) error {
	e := s.embedder
	for {
		w, ok := e.(interface{ Unwrap() Embedder })
		if !ok {
			break
		}
		e = w.Unwrap()
	}
	vecs, err := e.Embed(ctx, []string{healthCheckText})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrEmbeddingBackend, err)
	}
	if len(vecs) != 1 || norm(vecs[0]) == 0 {
		return fmt.Errorf("%w: empty embedding", models.ErrEmbeddingBackend)
	}
	return nil
}

// Init embeds the interest set. Without usable interest vectors every
// score would be zero, so that is a backend failure.
func (s *Scorer) Init(ctx context.Context) error {
	if s.interests != nil {
		return nil
	}
	if len(s.opts.Interests) == 0 {
		return fmt.Errorf("%w: no interests configured", models.ErrConfiguration)
	}
	vecs, err := s.embedder.Embed(ctx, s.opts.Interests)
	if err != nil {
		return fmt.Errorf("%w: embed interests: %v", models.ErrEmbeddingBackend, err)
	}

	usable := make([][]float64, 0, len(vecs))
	for _, v := range vecs {
		if norm(v) > 0 {
			usable = append(usable, v)
		}
	}
	if len(usable) == 0 {
		return fmt.Errorf("%w: interest embeddings are empty", models.ErrEmbeddingBackend)
	}
	s.interests = usable
	s.log.Info("Interest vectors ready", logger.Int("interests", len(usable)), logger.Int("dimension", s.embedder.Dimension()))
	return nil
}

// Embed returns one vector per text. A failed batch yields zero vectors
// for its items; only cancellation is returned as an error.
func (s *Scorer) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for start := 0; start < len(texts); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(texts))
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vecs, err := s.embedder.Embed(ctx, texts[start:end])
		if err == nil && len(vecs) != end-start {
			err = fmt.Errorf("%w: got %d vectors for %d texts", models.ErrEmbeddingBackend, len(vecs), end-start)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.metrics.IncEmbeddingFailure()
			s.log.Warn("Embedding batch failed, using zero vectors",
				logger.Int("batch_start", start),
				logger.Int("batch_size", end-start),
				logger.Error(err),
			)
			for i := start; i < end; i++ {
				out[i] = make([]float64, s.embedder.Dimension())
			}
			continue
		}
		copy(out[start:end], vecs)
	}
	return out, nil
}

// Score embeds title and description of every posting and attaches the
// relevance score and content hash.
func (s *Scorer) Score(ctx context.Context, postings []models.Posting) ([]models.ScoredPosting, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}

	texts := make([]string, len(postings))
	for i, p := range postings {
		texts[i] = postingText(p)
	}
	vecs, err := s.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	scored := make([]models.ScoredPosting, len(postings))
	for i, p := range postings {
		scored[i] = models.ScoredPosting{
			Posting: p,
			Vector:  vecs[i],
			Score:   s.similarity(vecs[i]),
		}
	}
	dedup.Stamp(scored)
	return scored, nil
}

// Filter keeps postings scoring at least threshold.
func Filter(scored []models.ScoredPosting, threshold float64) []models.ScoredPosting {
	out := make([]models.ScoredPosting, 0, len(scored))
	for _, p := range scored {
		if p.Score >= threshold {
			out = append(out, p)
		}
	}
	return out
}

// ScoreAndFilter scores postings and returns those at or above the
// configured threshold along with the total scored.
func (s *Scorer) ScoreAndFilter(ctx context.Context, postings []models.Posting) ([]models.ScoredPosting, int, error) {
	scored, err := s.Score(ctx, postings)
	if err != nil {
		return nil, 0, err
	}
	accepted := Filter(scored, s.opts.Threshold)
	s.metrics.AddScored(len(scored), len(accepted))
	s.log.Info("Scored postings",
		logger.Int("scored", len(scored)),
		logger.Int("accepted", len(accepted)),
		logger.Float64("threshold", s.opts.Threshold),
	)
	return accepted, len(scored), nil
}

func (s *Scorer) similarity(v []float64) float64 {
	best := 0.0
	for _, interest := range s.interests {
		if sim := Cosine(v, interest); sim > best {
			best = sim
		}
	}
	return clamp01(best)
}

// Cosine is 0 when either vector has zero norm or the lengths differ.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

func postingText(p models.Posting) string {
	text := p.Title + " " + p.Description
	if len(text) > maxEmbedTextLen {
		text = text[:maxEmbedTextLen]
	}
	return text
}
