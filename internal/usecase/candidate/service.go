// Package candidate narrows the card catalog to the cards a survey qualifies for.
package candidate

import (
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cardsense/internal/domain/card"
	"github.com/kailas-cloud/cardsense/internal/domain/filter"
	"github.com/kailas-cloud/cardsense/internal/domain/survey"
)

// Service applies filter specs.
type Service struct {
	logger *zap.Logger
}

// New creates a candidate filter.
func New(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger}
}

// Filter keeps the cards that pass every predicate of spec. A non-empty
// search_term answer replaces the predicates with a substring search over
// all scalar card values. Order is preserved and the input is never modified.
func (s *Service) Filter(cards []card.Card, resp survey.Response, spec filter.Spec) []card.Card {
	out := make([]card.Card, 0, len(cards))
	if len(cards) == 0 {
		return out
	}
	answers := resp.Answers()

	if term := strings.ToLower(answers.String(survey.SearchTermField)); term != "" {
		for _, c := range cards {
			if c.Contains(term) {
				out = append(out, c)
			}
		}
		return out
	}

	for _, c := range cards {
		if s.passes(c, answers, spec) {
			out = append(out, c)
		}
	}
	return out
}

func (s *Service) passes(c card.Card, answers survey.Response, spec filter.Spec) bool {
	for _, p := range spec {
		want, have := answers[p.Field], c[p.Field]
		if survey.IsEmpty(want) || survey.IsEmpty(have) {
			continue
		}

		switch p.Mode {
		case filter.ModeMatch:
			if !strings.EqualFold(survey.Stringify(want), survey.Stringify(have)) {
				return false
			}
		case filter.ModeMin:
			sv, err1 := survey.ToFloat(want)
			cv, err2 := survey.ToFloat(have)
			if err1 != nil || err2 != nil {
				s.logger.Debug("skipping non-numeric min predicate",
					zap.String("field", p.Field), zap.String("card_id", c.ID()))
				continue
			}
			if sv > cv {
				return false
			}
		}
	}
	return true
}
