package recommend

import (
	"context"

	"github.com/kailas-cloud/cardsense/internal/domain/card"
	"github.com/kailas-cloud/cardsense/internal/domain/filter"
	"github.com/kailas-cloud/cardsense/internal/domain/recommendation"
	"github.com/kailas-cloud/cardsense/internal/domain/survey"
	"github.com/kailas-cloud/cardsense/internal/usecase/fingerprint"
	"github.com/kailas-cloud/cardsense/internal/usecase/parse"
	"github.com/kailas-cloud/cardsense/internal/usecase/prompt"
)

// Fingerprinter computes survey fingerprints.
type Fingerprinter interface {
	Compute(ctx context.Context, resp survey.Response) fingerprint.Fingerprint
}

// Index is the similarity index and recommendation store.
type Index interface {
	SearchNearest(ctx context.Context, vector []float32) (*recommendation.Match, error)
	Save(ctx context.Context, items []recommendation.Item, resp survey.Response, vector []float32) bool
	GetBySurveyID(ctx context.Context, surveyID string) (*recommendation.Recommendation, error)
	All(ctx context.Context) ([]*recommendation.Recommendation, error)
	Delete(ctx context.Context, pointID string) error
}

// Catalog reads the card catalog.
type Catalog interface {
	List(ctx context.Context, limit int) ([]card.Card, error)
	Get(ctx context.Context, id string) (card.Card, error)
}

// CandidateFilter narrows the catalog for a survey.
type CandidateFilter interface {
	Filter(cards []card.Card, resp survey.Response, spec filter.Spec) []card.Card
}

// PromptBuilder renders a budgeted prompt.
type PromptBuilder interface {
	Build(resp survey.Response, cards []card.Card) (prompt.Prompt, error)
}

// Oracle returns raw model output for a prompt.
type Oracle interface {
	Call(ctx context.Context, prompt string) (string, error)
}

// Parser extracts items from raw model output.
type Parser interface {
	Parse(raw string) parse.Result
}
