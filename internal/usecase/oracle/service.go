// Package oracle guards the reasoning oracle with readiness checks and a circuit breaker.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cardsense/internal/domain"
	"github.com/kailas-cloud/cardsense/internal/metrics"
)

const breakerName = "oracle"

// BreakerOptions configures the circuit breaker. Disabled leaves calls unguarded.
type BreakerOptions struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	Interval         time.Duration
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// Options configures the Service.
type Options struct {
	// EnsureReady checks (and pulls) the model before the first call.
	EnsureReady bool
	Breaker     BreakerOptions
}

// Service returns the oracle's raw text for a prompt.
type Service struct {
	client Client
	ensure bool
	cb     *gobreaker.CircuitBreaker[string]
	logger *zap.Logger
}

// New creates the oracle service.
func New(client Client, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{client: client, ensure: opts.EnsureReady, logger: logger}
	if opts.Breaker.Enabled {
		s.cb = newBreaker(opts.Breaker, logger)
	}
	return s
}

func newBreaker(o BreakerOptions, logger *zap.Logger) *gobreaker.CircuitBreaker[string] {
	metrics.OracleBreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: o.HalfOpenRequests,
		Interval:    o.Interval,
		Timeout:     o.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < o.MinRequests {
				return false
			}
			ratio := float64(c.TotalFailures) / float64(c.Requests)
			return ratio >= o.FailureRatio
		},
		// only an unreachable oracle counts against the breaker; a bad answer is still an answer
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrOracleUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("oracle circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.OracleBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}

// Call sends prompt and returns the trimmed model output.
// Unreachable oracle or an open breaker: domain.ErrOracleUnavailable.
// A reply without usable output: domain.ErrOracleOutput.
func (s *Service) Call(ctx context.Context, prompt string) (string, error) {
	if s.cb == nil {
		return s.call(ctx, prompt)
	}
	text, err := s.cb.Execute(func() (string, error) {
		return s.call(ctx, prompt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("oracle circuit %s: %w", err, domain.ErrOracleUnavailable)
	}
	return text, err //nolint:wrapcheck // already wrapped by call
}

// State reports the breaker state, "disabled" without one.
func (s *Service) State() string {
	if s.cb == nil {
		return "disabled"
	}
	return s.cb.State().String()
}

func (s *Service) call(ctx context.Context, prompt string) (string, error) {
	if s.ensure {
		// A failed pull is not fatal; Generate reports real unavailability.
		if err := s.client.EnsureReady(ctx); err != nil {
			s.logger.Warn("oracle model not ready, generating anyway", zap.Error(err))
		}
	}

	reply, err := s.client.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if !reply.OK() {
		return "", fmt.Errorf("oracle reply status %d without output: %w", reply.Status, domain.ErrOracleOutput)
	}
	return reply.Text, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
