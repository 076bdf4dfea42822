// Package fingerprint derives the deterministic vector identity of a survey.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cardsense/internal/domain/survey"
	"github.com/kailas-cloud/cardsense/internal/metrics"
)

// Fingerprint is the canonical text of a survey and its vector.
type Fingerprint struct {
	Text   string
	Vector []float32
	// Degraded is set when the vector is the zero fallback.
	Degraded bool
}

// Key is a stable hash of the canonical text.
func (f Fingerprint) Key() string {
	h := sha256.Sum256([]byte(f.Text))
	return hex.EncodeToString(h[:])
}

// Service builds fingerprints.
type Service struct {
	vec    Vectorizer
	logger *zap.Logger
}

// New creates a fingerprint Service.
func New(vec Vectorizer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{vec: vec, logger: logger}
}

// Build returns the survey vector. Non-object input is ErrInvalidInput; every
// other failure degrades to the zero vector so the pipeline keeps going.
func (s *Service) Build(ctx context.Context, input any) ([]float32, error) {
	resp, err := survey.FromAny(input)
	if err != nil {
		return nil, err
	}
	return s.Compute(ctx, resp).Vector, nil
}

// Compute is Build for an already validated survey, keeping the canonical text.
func (s *Service) Compute(ctx context.Context, resp survey.Response) Fingerprint {
	text, err := resp.Canonical()
	if err != nil {
		s.logger.Warn("survey canonicalization failed, using zero vector", zap.Error(err))
		return s.zero(text)
	}

	vec, err := s.vec.Vectorize(ctx, text)
	if err != nil {
		s.logger.Warn("survey vectorization failed, using zero vector", zap.Error(err))
		return s.zero(text)
	}
	metrics.FingerprintsTotal.WithLabelValues("ok").Inc()
	return Fingerprint{Text: text, Vector: vec}
}

func (s *Service) zero(text string) Fingerprint {
	metrics.FingerprintsTotal.WithLabelValues("degraded").Inc()
	return Fingerprint{Text: text, Vector: make([]float32, s.vec.Dim()), Degraded: true}
}
