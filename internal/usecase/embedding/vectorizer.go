package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cardsense/internal/domain"
)

// Vectorizer is the last decorator in the embedding chain: it pins every
// vector to the index dimension and logs the call.
// Transport metrics are recorded in transport/openai, cache metrics in repository/embcache.
type Vectorizer struct {
	inner    domain.Embedder
	dim      int
	provider string
	model    string
	logger   *zap.Logger
}

// NewVectorizer wraps an embedder. dim must match the survey index vector field.
func NewVectorizer(inner domain.Embedder, dim int, provider, model string, logger *zap.Logger) *Vectorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vectorizer{
		inner:    inner,
		dim:      dim,
		provider: provider,
		model:    model,
		logger:   logger,
	}
}

// Dim returns the fixed output dimension.
func (v *Vectorizer) Dim() int { return v.dim }

// Vectorize embeds text and returns a vector of exactly Dim components.
// Provider vectors of another length are padded or truncated with a warning.
func (v *Vectorizer) Vectorize(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	res, err := v.inner.Embed(ctx, text)
	elapsed := time.Since(start)
	if err != nil {
		v.logger.Error("embedding request failed",
			zap.String("provider", v.provider),
			zap.String("model", v.model),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		return nil, fmt.Errorf("vectorize: %w", err)
	}
	if len(res.Embedding) == 0 {
		return nil, fmt.Errorf("vectorize: empty vector: %w", domain.ErrEmbeddingProviderError)
	}

	if len(res.Embedding) != v.dim {
		v.logger.Warn("provider vector dimension differs from index",
			zap.String("model", v.model),
			zap.Int("got", len(res.Embedding)),
			zap.Int("want", v.dim),
		)
	}

	v.logger.Debug("embedding request completed",
		zap.String("provider", v.provider),
		zap.String("model", v.model),
		zap.Duration("duration", elapsed),
		zap.Int("prompt_tokens", res.PromptTokens),
		zap.Int("total_tokens", res.TotalTokens),
	)

	return domain.FitVector(res.Embedding, v.dim), nil
}
