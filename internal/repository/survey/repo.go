// Package survey persists resolved surveys with their recommendations in a
// vector index and answers nearest-neighbour lookups over them.
package survey

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cardsense/internal/db"
	"github.com/kailas-cloud/cardsense/internal/domain"
	"github.com/kailas-cloud/cardsense/internal/domain/recommendation"
	domsurvey "github.com/kailas-cloud/cardsense/internal/domain/survey"
)

// Hash field names of a stored point.
const (
	fieldSurveyID  = "survey_id"
	fieldTimestamp = "timestamp"
	fieldPayload   = "payload"
	fieldVector    = "vector"
)

// scanPage bounds a single FT.SEARCH page when walking the whole collection.
const scanPage = 200

// store is the consumer interface for the survey collection (ISP).
//
//nolint:interfacebloat // collection lifecycle + point CRUD + search
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	Del(ctx context.Context, key string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, index, query string, offset, limit int, fields []string) (*db.SearchResult, error)
}

// HNSWConfig HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Options configures the repository.
type Options struct {
	// KeyPrefix is the global key namespace, e.g. "cardsense:".
	KeyPrefix string
	Dim       int
	HNSW      HNSWConfig
	// Now is the clock used for stored timestamps; defaults to time.Now.
	Now func() time.Time
}

// Repo is the similarity index client and recommendation store.
type Repo struct {
	store  store
	prefix string
	index  string
	dim    int
	hnsw   HNSWConfig
	now    func() time.Time
	logger *zap.Logger
}

// New creates a survey repository.
func New(s store, opts Options, logger *zap.Logger) *Repo {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	hnsw := HNSWConfig{M: 16, EFConstruct: 200}
	if opts.HNSW.M > 0 {
		hnsw.M = opts.HNSW.M
	}
	if opts.HNSW.EFConstruct > 0 {
		hnsw.EFConstruct = opts.HNSW.EFConstruct
	}
	return &Repo{
		store:  s,
		prefix: opts.KeyPrefix + "survey:",
		index:  opts.KeyPrefix + "surveys:idx",
		dim:    opts.Dim,
		hnsw:   hnsw,
		now:    opts.Now,
		logger: logger,
	}
}

// EnsureCollection creates the index when it is missing. Safe to call concurrently.
func (r *Repo) EnsureCollection(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.index)
	if err != nil {
		return fmt.Errorf("check survey index: %w", err)
	}
	if exists {
		return nil
	}

	def, err := db.NewIndex(r.index).
		Prefix(r.prefix).
		Tag(fieldSurveyID).
		Numeric(fieldTimestamp).
		VectorHNSW(fieldVector, r.dim, db.DistanceCosine, r.hnsw.M, r.hnsw.EFConstruct).
		Build()
	if err != nil {
		return fmt.Errorf("build survey index: %w", err)
	}

	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create survey index: %w", err)
	}
	r.logger.Info("survey index created", zap.String("index", r.index), zap.Int("dim", r.dim))
	return nil
}

// Upsert writes rec under a fresh point id, which is returned and set on rec.
func (r *Repo) Upsert(ctx context.Context, rec *recommendation.Recommendation) (string, error) {
	if len(rec.Vector) != r.dim {
		return "", fmt.Errorf("vector has %d dims, index has %d: %w", len(rec.Vector), r.dim, domain.ErrVectorDimMismatch)
	}
	payload, err := rec.Encode()
	if err != nil {
		return "", err
	}

	pointID := uuid.NewString()
	fields := map[string]string{
		fieldSurveyID:  normalizeID(rec.SurveyID),
		fieldTimestamp: strconv.FormatFloat(rec.Timestamp, 'f', -1, 64),
		fieldPayload:   string(payload),
		fieldVector:    encodeVector(rec.Vector),
	}
	if err := r.store.HSet(ctx, r.prefix+pointID, fields); err != nil {
		return "", fmt.Errorf("hset survey %s: %w", pointID, err)
	}
	rec.PointID = pointID
	return pointID, nil
}

// SearchNearest returns the most similar stored survey, or nil when the collection is empty.
func (r *Repo) SearchNearest(ctx context.Context, vector []float32) (*recommendation.Match, error) {
	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.index,
		VectorField:  fieldVector,
		Vector:       vector,
		K:            1,
		ReturnFields: []string{fieldPayload},
	})
	if err != nil {
		return nil, fmt.Errorf("search nearest survey: %w", err)
	}
	if res == nil || len(res.Entries) == 0 {
		return nil, nil
	}

	entry := res.Entries[0]
	rec, err := r.decode(entry)
	if err != nil {
		return nil, err
	}
	return &recommendation.Match{Recommendation: rec, Score: entry.Score}, nil
}

// Delete removes a stored point.
func (r *Repo) Delete(ctx context.Context, pointID string) error {
	if err := r.store.Del(ctx, r.prefix+pointID); err != nil {
		return fmt.Errorf("del survey %s: %w", pointID, err)
	}
	return nil
}

// List returns one page of stored recommendations in index order and the total count.
func (r *Repo) List(ctx context.Context, offset, limit int) ([]*recommendation.Recommendation, int, error) {
	return r.search(ctx, "*", offset, limit)
}

// All walks the whole collection page by page.
func (r *Repo) All(ctx context.Context) ([]*recommendation.Recommendation, error) {
	var out []*recommendation.Recommendation
	for offset := 0; ; offset += scanPage {
		page, total, err := r.List(ctx, offset, scanPage)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) == 0 || offset+scanPage >= total {
			return out, nil
		}
	}
}

// GetBySurveyID finds a recommendation by survey id, ignoring case and surrounding space.
// Records written without the indexed id are found by a full walk.
func (r *Repo) GetBySurveyID(ctx context.Context, surveyID string) (*recommendation.Recommendation, error) {
	id := normalizeID(surveyID)
	if id == "" {
		return nil, fmt.Errorf("survey id is required: %w", domain.ErrInvalidInput)
	}

	recs, _, err := r.search(ctx, db.TagQuery(fieldSurveyID, id), 0, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		return recs[0], nil
	}

	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range all {
		if normalizeID(rec.SurveyID) == id {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("survey %s: %w", surveyID, domain.ErrNotFound)
}

// Save is the recommendation store write: it strips Survey_ID from the stored
// answers and stamps the wall clock. Failures are logged and reported as false.
func (r *Repo) Save(ctx context.Context, items []recommendation.Item, resp domsurvey.Response, vector []float32) bool {
	rec := &recommendation.Recommendation{
		SurveyID:  resp.ID(),
		Survey:    resp.WithoutID(),
		Vector:    vector,
		Items:     items,
		Timestamp: unixSeconds(r.now()),
	}
	pointID, err := r.Upsert(ctx, rec)
	if err != nil {
		r.logger.Error("failed to store recommendation",
			zap.String("survey_id", rec.SurveyID), zap.Error(err))
		return false
	}
	r.logger.Debug("recommendation stored",
		zap.String("survey_id", rec.SurveyID), zap.String("point_id", pointID), zap.Int("items", len(items)))
	return true
}

func (r *Repo) search(ctx context.Context, query string, offset, limit int) ([]*recommendation.Recommendation, int, error) {
	res, err := r.store.SearchList(ctx, r.index, query, offset, limit, []string{fieldPayload})
	if err != nil {
		return nil, 0, fmt.Errorf("search surveys: %w", err)
	}
	if res == nil {
		return nil, 0, nil
	}

	recs := make([]*recommendation.Recommendation, 0, len(res.Entries))
	for _, e := range res.Entries {
		rec, err := r.decode(e)
		if err != nil {
			r.logger.Warn("skipping unreadable survey point", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		recs = append(recs, rec)
	}
	return recs, res.Total, nil
}

func (r *Repo) decode(e db.SearchEntry) (*recommendation.Recommendation, error) {
	raw, ok := e.Fields[fieldPayload]
	if !ok {
		return nil, fmt.Errorf("point %s has no payload", e.Key)
	}
	rec, err := recommendation.Decode([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("point %s: %w", e.Key, err)
	}
	rec.PointID = strings.TrimPrefix(e.Key, r.prefix)
	return rec, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// encodeVector serializes a vector as a little-endian FLOAT32 blob.
func encodeVector(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
