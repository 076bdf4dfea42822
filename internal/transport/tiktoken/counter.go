// Package tiktoken counts prompt tokens with the BPE encodings used by OpenAI-style models.
package tiktoken

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultFallbackEncoding is used for models tiktoken does not know (llama, mistral, ...).
const DefaultFallbackEncoding = "cl100k_base"

// Counter counts tokens. The encoding is resolved once, on first use:
// the model's own encoding, then the fallback encoding, then a length estimate.
type Counter struct {
	model    string
	fallback string
	logger   *zap.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
	name string

	// resolve is swapped in tests to avoid fetching BPE ranks.
	resolve func(model, fallback string) (*tiktoken.Tiktoken, string, error)
}

// NewCounter creates a Counter for model.
func NewCounter(model, fallback string, logger *zap.Logger) *Counter {
	if fallback == "" {
		fallback = DefaultFallbackEncoding
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{model: model, fallback: fallback, logger: logger, resolve: resolveEncoding}
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	c.once.Do(c.init)
	if c.enc == nil {
		return Estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Encoding names the encoding in use, or "estimate".
func (c *Counter) Encoding() string {
	c.once.Do(c.init)
	return c.name
}

func (c *Counter) init() {
	enc, name, err := c.resolve(c.model, c.fallback)
	if err != nil {
		c.logger.Warn("no tokenizer available, estimating tokens from length",
			zap.String("model", c.model), zap.String("fallback", c.fallback), zap.Error(err))
		c.name = "estimate"
		return
	}
	c.enc, c.name = enc, name
	c.logger.Info("tokenizer ready", zap.String("model", c.model), zap.String("encoding", name))
}

func resolveEncoding(model, fallback string) (*tiktoken.Tiktoken, string, error) {
	if enc, err := tiktoken.EncodingForModel(model); err == nil {
		return enc, model, nil
	}
	enc, err := tiktoken.GetEncoding(fallback)
	if err != nil {
		return nil, "", err //nolint:wrapcheck // logged once by init
	}
	return enc, fallback, nil
}

// Estimate approximates the token count as one token per three bytes, rounded up.
func Estimate(text string) int {
	return (len(text) + 2) / 3
}
