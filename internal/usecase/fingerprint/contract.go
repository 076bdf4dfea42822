package fingerprint

import "context"

// Vectorizer embeds text into a vector of fixed dimension.
type Vectorizer interface {
	Vectorize(ctx context.Context, text string) ([]float32, error)
	Dim() int
}
