package oracle

import (
	"context"

	"github.com/kailas-cloud/cardsense/internal/domain"
)

// Client is the raw oracle transport.
type Client interface {
	Generate(ctx context.Context, prompt string) (*domain.OracleReply, error)
	EnsureReady(ctx context.Context) error
}
