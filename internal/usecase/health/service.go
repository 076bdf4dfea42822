package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/cardsense/internal/version"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded means an optional dependency is down; cached recommendations still serve.
	Degraded Status = "degraded"
	// Unhealthy means the database is down and nothing can be served.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status  Status
	Checks  map[string]CheckResult
	Version string
}

const defaultCheckTimeout = 5 * time.Second

// Service coordinates health checks.
type Service struct {
	db       DBPinger
	optional map[string]Checker
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a Service. Checkers run after the database ping; a nil checker is skipped.
func New(db DBPinger, optional map[string]Checker, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	checks := make(map[string]Checker, len(optional))
	for name, c := range optional {
		if c != nil {
			checks[name] = c
		}
	}
	return &Service{db: db, optional: checks, timeout: defaultCheckTimeout, logger: logger}
}

// WithTimeout bounds each individual probe.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check runs all probes concurrently, each bounded by the probe timeout.
func (s *Service) Check(ctx context.Context) Report {
	var (
		mu     sync.Mutex
		checks = make(map[string]CheckResult, len(s.optional)+1)
		dbDown bool
		failed bool
	)
	record := func(name string, err error, down *bool) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			checks[name] = CheckError
			*down = true
			return
		}
		checks[name] = CheckOK
	}

	// probes never return an error to the group: one failure must not cancel the others
	var g errgroup.Group
	g.Go(func() error {
		record("database", s.probe(ctx, "database", s.db.Ping), &dbDown)
		return nil
	})
	for name, checker := range s.optional {
		g.Go(func() error {
			record(name, s.probe(ctx, name, checker.HealthCheck), &failed)
			return nil
		})
	}
	_ = g.Wait()

	status := Healthy
	switch {
	case dbDown:
		status = Unhealthy
	case failed:
		status = Degraded
	}
	return Report{Status: status, Checks: checks, Version: version.Version}
}

func (s *Service) probe(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err := fn(ctx)
	if err != nil {
		s.logger.Warn("health check failed", zap.String("component", name), zap.Error(err))
	}
	return err
}
