package recommend

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kailas-cloud/cardsense/internal/domain/card"
	"github.com/kailas-cloud/cardsense/internal/domain/filter"
	"github.com/kailas-cloud/cardsense/internal/domain/recommendation"
	"github.com/kailas-cloud/cardsense/internal/domain/survey"
	"github.com/kailas-cloud/cardsense/internal/usecase/fingerprint"
	"github.com/kailas-cloud/cardsense/internal/usecase/parse"
	"github.com/kailas-cloud/cardsense/internal/usecase/prompt"
)

type mockFingerprinter struct {
	degraded bool
	mu       sync.Mutex
	seen     []survey.Response
}

func (m *mockFingerprinter) Compute(_ context.Context, resp survey.Response) fingerprint.Fingerprint {
	m.mu.Lock()
	m.seen = append(m.seen, resp.Clone())
	m.mu.Unlock()
	text, _ := resp.Canonical()
	return fingerprint.Fingerprint{Text: text, Vector: []float32{1, 0}, Degraded: m.degraded}
}

type saved struct {
	items []recommendation.Item
	resp  survey.Response
}

type mockIndex struct {
	// replay serves the latest save back from SearchNearest as an exact match.
	replay    bool
	match     *recommendation.Match
	searchErr error
	saveOK    bool
	searches  atomic.Int32
	mu        sync.Mutex
	saves     []saved
	records   []*recommendation.Recommendation
	getErr    error
	deleted   []string
}

func (m *mockIndex) SearchNearest(_ context.Context, _ []float32) (*recommendation.Match, error) {
	m.searches.Add(1)
	if m.replay {
		m.mu.Lock()
		defer m.mu.Unlock()
		if len(m.saves) == 0 {
			return nil, nil
		}
		last := m.saves[len(m.saves)-1]
		return &recommendation.Match{
			Score: 1.0,
			Recommendation: &recommendation.Recommendation{
				SurveyID: last.resp.ID(),
				Items:    append([]recommendation.Item(nil), last.items...),
			},
		}, nil
	}
	return m.match, m.searchErr
}

func (m *mockIndex) Save(_ context.Context, items []recommendation.Item, resp survey.Response, _ []float32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, saved{items: items, resp: resp})
	return m.saveOK
}

func (m *mockIndex) GetBySurveyID(_ context.Context, id string) (*recommendation.Recommendation, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &recommendation.Recommendation{SurveyID: id, PointID: "p-" + id}, nil
}

func (m *mockIndex) Delete(_ context.Context, pointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, pointID)
	return nil
}

func (m *mockIndex) All(_ context.Context) ([]*recommendation.Recommendation, error) {
	return m.records, nil
}

type mockCatalog struct {
	cards []card.Card
	err   error
}

func (m *mockCatalog) List(_ context.Context, _ int) ([]card.Card, error) { return m.cards, m.err }

func (m *mockCatalog) Get(_ context.Context, id string) (card.Card, error) {
	for _, c := range m.cards {
		if c.ID() == id {
			return c, nil
		}
	}
	return nil, m.err
}

// passFilter keeps every card unless keepNone is set.
type passFilter struct {
	keepNone bool
	lastSpec filter.Spec
}

func (f *passFilter) Filter(cards []card.Card, _ survey.Response, spec filter.Spec) []card.Card {
	f.lastSpec = spec
	if f.keepNone {
		return nil
	}
	return cards
}

type mockPrompt struct {
	err  error
	seen survey.Response
}

func (m *mockPrompt) Build(resp survey.Response, cards []card.Card) (prompt.Prompt, error) {
	m.seen = resp
	if m.err != nil {
		return prompt.Prompt{}, m.err
	}
	return prompt.Prompt{Text: "prompt", Tokens: 10, Cards: make([]map[string]any, len(cards))}, nil
}

type mockOracle struct {
	out   string
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (m *mockOracle) Call(_ context.Context, _ string) (string, error) {
	m.calls.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	return m.out, m.err
}

type stubParser struct{ res parse.Result }

func (p stubParser) Parse(string) parse.Result { return p.res }

type fixture struct {
	fp      *mockFingerprinter
	index   *mockIndex
	catalog *mockCatalog
	filter  *passFilter
	prompt  *mockPrompt
	oracle  *mockOracle
	parser  stubParser
}

func newFixture() *fixture {
	return &fixture{
		fp:      &mockFingerprinter{},
		index:   &mockIndex{saveOK: true},
		catalog: &mockCatalog{cards: []card.Card{{"Card_ID": "C1"}, {"Card_ID": "C2"}}},
		filter:  &passFilter{},
		prompt:  &mockPrompt{},
		oracle:  &mockOracle{out: "raw"},
		parser: stubParser{res: parse.Result{
			Stage: parse.StageJSON,
			Items: []recommendation.Item{{CardID: "C2", Reason: "fits"}},
		}},
	}
}

func (f *fixture) service(opts Options) *Service {
	svc := New(Deps{
		Fingerprinter: f.fp,
		Index:         f.index,
		Catalog:       f.catalog,
		Filter:        f.filter,
		Prompt:        f.prompt,
		Oracle:        f.oracle,
		Parser:        f.parser,
	}, opts, nil)
	svc.newID = func() string { return "generated-id" }
	return svc
}

func defaultOpts() Options {
	return Options{Threshold: 0.98, Inclusive: true, FetchLimit: 100}
}

func storedMatch(score float64) *recommendation.Match {
	return &recommendation.Match{
		Score: score,
		Recommendation: &recommendation.Recommendation{
			SurveyID: "old-survey",
			Items:    []recommendation.Item{{CardID: "OLD", Reason: "cached"}},
		},
	}
}
