// Package recommend runs the survey resolution pipeline.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/cardsense/internal/domain/card"
	"github.com/kailas-cloud/cardsense/internal/domain/filter"
	"github.com/kailas-cloud/cardsense/internal/domain/recommendation"
	"github.com/kailas-cloud/cardsense/internal/domain/survey"
	"github.com/kailas-cloud/cardsense/internal/metrics"
	"github.com/kailas-cloud/cardsense/internal/usecase/fingerprint"
	"github.com/kailas-cloud/cardsense/internal/usecase/parse"
	"github.com/kailas-cloud/cardsense/internal/usecase/prompt"
)

// State is a pipeline step. Outcome.State holds the last one reached before serving.
type State string

// Pipeline states.
const (
	StateReceived       State = "received"
	StateFingerprinted  State = "fingerprinted"
	StateDuplicateFound State = "duplicate_found"
	StateFiltered       State = "filtered"
	StateEmpty          State = "empty"
	StatePromptBuilt    State = "prompt_built"
	StateOracleCalled   State = "oracle_called"
	StateOracleFailed   State = "oracle_failed"
	StateParseFailed    State = "parse_failed"
	StateParsed         State = "parsed"
	StateStored         State = "stored"
)

// Outcome is what Resolve serves.
type Outcome struct {
	Items    []recommendation.Item
	State    State
	SurveyID string
	// MatchedID is the Survey_ID of the stored recommendation reused on a duplicate.
	MatchedID string
	Score     float64
	// Shared is set when the result came from a concurrent identical request.
	Shared bool
}

// Options configures the pipeline.
type Options struct {
	Threshold float64
	// Inclusive reuses a match when score >= Threshold; otherwise score > Threshold.
	Inclusive  bool
	FetchLimit int
	Spec       filter.Spec
	// Coalesce runs identical in-flight surveys once.
	Coalesce bool
}

// Deps are the pipeline components.
type Deps struct {
	Fingerprinter Fingerprinter
	Index         Index
	Catalog       Catalog
	Filter        CandidateFilter
	Prompt        PromptBuilder
	Oracle        Oracle
	Parser        Parser
}

// Service resolves surveys into recommendations.
type Service struct {
	deps   Deps
	opts   Options
	group  singleflight.Group
	newID  func() string
	logger *zap.Logger
}

// New creates the pipeline service.
func New(deps Deps, opts Options, logger *zap.Logger) *Service {
	if len(opts.Spec) == 0 {
		opts.Spec = filter.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{deps: deps, opts: opts, newID: uuid.NewString, logger: logger}
}

// Resolve never fails: every degraded path is served as an empty item list.
func (s *Service) Resolve(ctx context.Context, resp survey.Response) Outcome {
	start := time.Now()
	log := s.logger.With(zap.String("survey_id", resp.ID()))
	log.Debug("survey received", zap.String("state", string(StateReceived)))

	fp := s.deps.Fingerprinter.Compute(ctx, resp)

	// a generated id is assigned after fingerprinting so it never skews similarity
	work := resp.Clone()
	id := resp.ID()
	if id == "" {
		id = s.newID()
		work[survey.IDField] = id
	}

	var out Outcome
	if s.opts.Coalesce && fp.Text != "" {
		// followers share the result, so a leader disconnect must not cancel it;
		// oracle and store calls keep their own timeouts
		detached := context.WithoutCancel(ctx)
		v, _, isShared := s.group.Do(fp.Key(), func() (any, error) {
			return s.resolve(detached, work, fp, log), nil
		})
		out = v.(Outcome)
		out.Shared = isShared
	} else {
		out = s.resolve(ctx, work, fp, log)
	}
	out.SurveyID = id

	metrics.ResolveTotal.WithLabelValues(string(out.State)).Inc()
	metrics.ResolveDuration.WithLabelValues(string(out.State)).Observe(time.Since(start).Seconds())
	log.Info("survey resolved",
		zap.String("state", string(out.State)),
		zap.Int("items", len(out.Items)),
		zap.Float64("score", out.Score),
		zap.Bool("shared", out.Shared),
		zap.Duration("elapsed", time.Since(start)))
	return out
}

func (s *Service) resolve(ctx context.Context, resp survey.Response, fp fingerprint.Fingerprint, log *zap.Logger) Outcome {
	log.Debug("survey fingerprinted", zap.Bool("degraded", fp.Degraded))

	var score float64
	if fp.Degraded {
		log.Warn("degraded fingerprint, skipping duplicate lookup")
	} else if match := s.nearest(ctx, fp.Vector, log); match != nil {
		score = match.Score
		if s.reuse(score) && len(match.Recommendation.Items) > 0 {
			return Outcome{
				Items:     match.Recommendation.Items,
				State:     StateDuplicateFound,
				MatchedID: match.Recommendation.SurveyID,
				Score:     score,
			}
		}
	}
	empty := func(st State) Outcome { return Outcome{Items: []recommendation.Item{}, State: st, Score: score} }

	cards, err := s.deps.Catalog.List(ctx, s.opts.FetchLimit)
	if err != nil {
		log.Error("card catalog unavailable", zap.Error(err))
		return empty(StateEmpty)
	}
	candidates := s.deps.Filter.Filter(cards, resp, s.opts.Spec)
	metrics.CandidateCards.Observe(float64(len(candidates)))
	log.Debug("candidates filtered", zap.Int("catalog", len(cards)), zap.Int("candidates", len(candidates)))
	if len(candidates) == 0 {
		return empty(StateEmpty)
	}

	p, err := s.deps.Prompt.Build(resp.WithoutID(), candidates)
	if err != nil {
		if !errors.Is(err, prompt.ErrNoCandidates) {
			log.Error("prompt build failed", zap.Error(err))
		}
		return empty(StateEmpty)
	}
	metrics.PromptTokens.Observe(float64(p.Tokens))
	log.Debug("prompt built", zap.Int("cards", len(p.Cards)), zap.Int("tokens", p.Tokens))

	raw, err := s.deps.Oracle.Call(ctx, p.Text)
	if err != nil {
		log.Error("oracle call failed", zap.Error(err))
		return empty(StateOracleFailed)
	}

	res := s.deps.Parser.Parse(raw)
	if res.Stage == parse.StageNone {
		return empty(StateParseFailed)
	}

	state := StateStored
	if !s.deps.Index.Save(ctx, res.Items, resp, fp.Vector) {
		state = StateParsed
	}
	return Outcome{Items: res.Items, State: state, Score: score}
}

func (s *Service) nearest(ctx context.Context, vector []float32, log *zap.Logger) *recommendation.Match {
	match, err := s.deps.Index.SearchNearest(ctx, vector)
	if err != nil {
		log.Warn("similarity lookup failed, treating as miss", zap.Error(err))
		return nil
	}
	if match == nil {
		return nil
	}
	metrics.SimilarityScore.Observe(match.Score)
	log.Debug("nearest survey", zap.Float64("score", match.Score), zap.String("matched_id", match.Recommendation.SurveyID))
	return match
}

func (s *Service) reuse(score float64) bool {
	if s.opts.Inclusive {
		return score >= s.opts.Threshold
	}
	return score > s.opts.Threshold
}

// Catalog returns the cards passing spec for resp; a nil spec uses the configured one.
func (s *Service) Catalog(ctx context.Context, spec *filter.Spec, resp survey.Response) ([]card.Card, error) {
	use := s.opts.Spec
	if spec != nil {
		if err := spec.Validate(); err != nil {
			return nil, err //nolint:wrapcheck // already carries ErrInvalidInput
		}
		use = *spec
	}
	cards, err := s.deps.Catalog.List(ctx, s.opts.FetchLimit)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	if resp == nil {
		return cards, nil
	}
	return s.deps.Filter.Filter(cards, resp, use), nil
}

// Card returns one catalog entry.
func (s *Service) Card(ctx context.Context, id string) (card.Card, error) {
	c, err := s.deps.Catalog.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get card: %w", err)
	}
	return c, nil
}

// Get returns the stored recommendation for a Survey_ID.
func (s *Service) Get(ctx context.Context, surveyID string) (*recommendation.Recommendation, error) {
	rec, err := s.deps.Index.GetBySurveyID(ctx, surveyID)
	if err != nil {
		return nil, fmt.Errorf("get recommendation: %w", err)
	}
	return rec, nil
}

// Forget deletes the stored recommendation for a Survey_ID so the next
// similar survey goes back to the oracle.
func (s *Service) Forget(ctx context.Context, surveyID string) error {
	rec, err := s.deps.Index.GetBySurveyID(ctx, surveyID)
	if err != nil {
		return fmt.Errorf("forget recommendation: %w", err)
	}
	if err := s.deps.Index.Delete(ctx, rec.PointID); err != nil {
		return fmt.Errorf("forget recommendation: %w", err)
	}
	s.logger.Info("recommendation forgotten",
		zap.String("survey_id", rec.SurveyID), zap.String("point_id", rec.PointID))
	return nil
}

// List returns stored recommendations matching searchTerm, newest first.
func (s *Service) List(ctx context.Context, searchTerm string) ([]*recommendation.Recommendation, error) {
	all, err := s.deps.Index.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	out := make([]*recommendation.Recommendation, 0, len(all))
	for _, r := range all {
		if r.Matches(searchTerm) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}
