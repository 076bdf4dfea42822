package fingerprint

import (
	"context"
	"hash/fnv"
)

// hashVectorizer maps text deterministically to a small vector.
type hashVectorizer struct {
	dim   int
	err   error
	texts []string
}

func (h *hashVectorizer) Vectorize(_ context.Context, text string) ([]float32, error) {
	h.texts = append(h.texts, text)
	if h.err != nil {
		return nil, h.err
	}
	f := fnv.New32a()
	_, _ = f.Write([]byte(text))
	seed := f.Sum32()
	out := make([]float32, h.dim)
	for i := range out {
		out[i] = float32((seed>>(uint(i)%32))&0xff) / 255
	}
	return out, nil
}

func (h *hashVectorizer) Dim() int { return h.dim }
