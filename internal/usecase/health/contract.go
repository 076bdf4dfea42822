package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// Checker is an optional dependency probe: the embedding provider or the oracle.
type Checker interface {
	HealthCheck(ctx context.Context) error
}
