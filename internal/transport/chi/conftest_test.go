package chi

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/cardsense/internal/domain"
	"github.com/kailas-cloud/cardsense/internal/domain/card"
	"github.com/kailas-cloud/cardsense/internal/domain/filter"
	"github.com/kailas-cloud/cardsense/internal/domain/recommendation"
	"github.com/kailas-cloud/cardsense/internal/domain/survey"
	healthuc "github.com/kailas-cloud/cardsense/internal/usecase/health"
	"github.com/kailas-cloud/cardsense/internal/usecase/recommend"
)

type mockRecommender struct {
	outcome  recommend.Outcome
	resolved survey.Response
	cards    []card.Card
	spec     *filter.Spec
	catErr   error
	recs     map[string]*recommendation.Recommendation
	term     string
	listErr  error
}

func (m *mockRecommender) Resolve(_ context.Context, resp survey.Response) recommend.Outcome {
	m.resolved = resp
	return m.outcome
}

func (m *mockRecommender) Catalog(_ context.Context, spec *filter.Spec, _ survey.Response) ([]card.Card, error) {
	m.spec = spec
	return m.cards, m.catErr
}

func (m *mockRecommender) Card(_ context.Context, id string) (card.Card, error) {
	for _, c := range m.cards {
		if c.ID() == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("card %s: %w", id, domain.ErrNotFound)
}

func (m *mockRecommender) Get(_ context.Context, id string) (*recommendation.Recommendation, error) {
	if rec, ok := m.recs[id]; ok {
		return rec, nil
	}
	return nil, fmt.Errorf("survey %s: %w", id, domain.ErrNotFound)
}

func (m *mockRecommender) List(_ context.Context, term string) ([]*recommendation.Recommendation, error) {
	m.term = term
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*recommendation.Recommendation, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRecommender) Forget(_ context.Context, id string) error {
	if _, ok := m.recs[id]; !ok {
		return fmt.Errorf("survey %s: %w", id, domain.ErrNotFound)
	}
	delete(m.recs, id)
	return nil
}

type mockHealth struct{ report healthuc.Report }

func (m mockHealth) Check(context.Context) healthuc.Report { return m.report }
