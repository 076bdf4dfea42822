package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cardsense/internal/domain"
	"github.com/kailas-cloud/cardsense/internal/domain/card"
	"github.com/kailas-cloud/cardsense/internal/domain/filter"
	"github.com/kailas-cloud/cardsense/internal/domain/recommendation"
	"github.com/kailas-cloud/cardsense/internal/domain/survey"
	logpkg "github.com/kailas-cloud/cardsense/internal/logger"
	healthuc "github.com/kailas-cloud/cardsense/internal/usecase/health"
	"github.com/kailas-cloud/cardsense/internal/usecase/recommend"
)

const maxBodyBytes = 1 << 20

// Recommender is the pipeline surface served over HTTP.
type Recommender interface {
	Resolve(ctx context.Context, resp survey.Response) recommend.Outcome
	Catalog(ctx context.Context, spec *filter.Spec, resp survey.Response) ([]card.Card, error)
	Card(ctx context.Context, id string) (card.Card, error)
	Get(ctx context.Context, surveyID string) (*recommendation.Recommendation, error)
	List(ctx context.Context, searchTerm string) ([]*recommendation.Recommendation, error)
	Forget(ctx context.Context, surveyID string) error
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server holds the HTTP handlers.
type Server struct {
	recommender   Recommender
	health        HealthChecker
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(recommender Recommender, health HealthChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		recommender: recommender,
		health:      health,
		logger:      logger,
		errorHandlers: []errorHandler{
			sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, codeValidationFailed),
			sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		},
	}
}

// Routes registers every endpoint on r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/surveys", s.ResolveSurvey)
	r.Get("/surveys", s.ListSurveys)
	r.Get("/surveys/{id}", s.GetSurvey)
	r.Delete("/surveys/{id}", s.DeleteSurvey)
	r.Get("/cards", s.ListCards)
	r.Post("/cards", s.FilterCards)
	r.Get("/cards/{id}", s.GetCard)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

type resolveResponse struct {
	SurveyID         string                `json:"Survey_ID"`
	RecommendedCards []recommendation.Item `json:"Recommended_Cards"`
	State            string                `json:"state"`
	Similarity       float64               `json:"similarity"`
	MatchedSurveyID  string                `json:"matched_survey_id,omitempty"`
	Shared           bool                  `json:"shared,omitempty"`
}

// ResolveSurvey handles POST /surveys.
func (s *Server) ResolveSurvey(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	resp, err := survey.FromAny(body)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}

	out := s.recommender.Resolve(r.Context(), resp)
	items := out.Items
	if items == nil {
		items = []recommendation.Item{}
	}
	writeJSON(w, http.StatusOK, resolveResponse{
		SurveyID:         out.SurveyID,
		RecommendedCards: items,
		State:            string(out.State),
		Similarity:       out.Score,
		MatchedSurveyID:  out.MatchedID,
		Shared:           out.Shared,
	})
}

type recommendationResponse struct {
	SurveyID         string                `json:"Survey_ID"`
	SurveyResponse   survey.Response       `json:"Survey_Response"`
	RecommendedCards []recommendation.Item `json:"Recommended_Cards"`
	Timestamp        float64               `json:"Timestamp"`
}

func recommendationToResponse(rec *recommendation.Recommendation) recommendationResponse {
	items := rec.Items
	if items == nil {
		items = []recommendation.Item{}
	}
	return recommendationResponse{
		SurveyID:         rec.SurveyID,
		SurveyResponse:   rec.Survey,
		RecommendedCards: items,
		Timestamp:        rec.Timestamp,
	}
}

// GetSurvey handles GET /surveys/{id}.
func (s *Server) GetSurvey(w http.ResponseWriter, r *http.Request) {
	rec, err := s.recommender.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, recommendationToResponse(rec))
}

// DeleteSurvey handles DELETE /surveys/{id}.
func (s *Server) DeleteSurvey(w http.ResponseWriter, r *http.Request) {
	if err := s.recommender.Forget(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSurveys handles GET /surveys?search_term=.
func (s *Server) ListSurveys(w http.ResponseWriter, r *http.Request) {
	recs, err := s.recommender.List(r.Context(), r.URL.Query().Get("search_term"))
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	items := make([]recommendationResponse, len(recs))
	for i, rec := range recs {
		items[i] = recommendationToResponse(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

// ListCards handles GET /cards.
func (s *Server) ListCards(w http.ResponseWriter, r *http.Request) {
	s.writeCards(w, r, nil, nil)
}

type filterCardsRequest struct {
	Survey  map[string]any    `json:"survey_response"`
	Filters map[string]string `json:"filters"`
}

// FilterCards handles POST /cards: the candidate filter for a survey, with optional custom filters.
func (s *Server) FilterCards(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var req filterCardsRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Survey == nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "survey_response is required")
		return
	}

	var spec *filter.Spec
	if len(req.Filters) > 0 {
		sp, err := filter.FromMap(req.Filters)
		if err != nil {
			s.handleDomainError(r.Context(), w, err)
			return
		}
		spec = &sp
	}
	s.writeCards(w, r, spec, survey.Response(req.Survey))
}

func (s *Server) writeCards(w http.ResponseWriter, r *http.Request, spec *filter.Spec, resp survey.Response) {
	cards, err := s.recommender.Catalog(r.Context(), spec, resp)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	if cards == nil {
		cards = []card.Card{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": cards, "total": len(cards)})
}

// GetCard handles GET /cards/{id}.
func (s *Server) GetCard(w http.ResponseWriter, r *http.Request) {
	c, err := s.recommender.Card(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	// degraded still serves cached recommendations
	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status:  string(report.Status),
		Checks:  checks,
		Version: report.Version,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func decodeBody(w http.ResponseWriter, r *http.Request) (any, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return nil, err //nolint:wrapcheck // reported to the client as is
	}
	if strings.TrimSpace(buf.String()) == "" {
		return nil, errors.New("empty body")
	}
	dec := json.NewDecoder(&buf)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err //nolint:wrapcheck // reported to the client as is
	}
	return v, nil
}

type errorCode string

const (
	codeBadRequest       errorCode = "bad_request"
	codeValidationFailed errorCode = "validation_failed"
	codeNotFound         errorCode = "not_found"
	codeUnauthorized     errorCode = "unauthorized"
	codeInternalError    errorCode = "internal_error"
)

type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// sentinelHandler maps a client-facing sentinel to a status; the message is the error chain.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, err.Error())
		return true
	}
}

func (s *Server) handleDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	log := logpkg.Or(ctx, s.logger)
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Debug("request rejected", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
