// Package recommendation holds the oracle's card picks and the persisted record around them.
package recommendation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kailas-cloud/cardsense/internal/domain/survey"
)

const (
	// MaxItems caps every recommendation list.
	MaxItems = 5
	// DefaultReason fills items the oracle returned without an explanation.
	DefaultReason = "Recommended by LLM"
)

// Item is one recommended card.
type Item struct {
	CardID string `json:"Card_ID"`
	Reason string `json:"Reason For Choice"`
}

// Recommendation is the persisted result of one resolved survey.
type Recommendation struct {
	PointID   string
	SurveyID  string
	Survey    survey.Response
	Vector    []float32
	Items     []Item
	Timestamp float64
}

// Match is the nearest stored recommendation and its cosine similarity.
type Match struct {
	Recommendation *Recommendation
	Score          float64
}

// Payload is the stored JSON document.
type Payload struct {
	SurveyID         string          `json:"Survey_ID"`
	SurveyResponse   survey.Response `json:"Survey_Response"`
	RecommendedCards []any           `json:"Recommended_Cards"`
	SurveyVector     []float32       `json:"Survey_Vector"`
	Timestamp        float64         `json:"Timestamp"`
}

// Encode renders the payload for storage.
func (r *Recommendation) Encode() ([]byte, error) {
	cards := make([]any, len(r.Items))
	for i, it := range r.Items {
		cards[i] = it
	}
	data, err := json.Marshal(Payload{
		SurveyID:         r.SurveyID,
		SurveyResponse:   r.Survey,
		RecommendedCards: cards,
		SurveyVector:     r.Vector,
		Timestamp:        r.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("encode recommendation: %w", err)
	}
	return data, nil
}

// Decode parses a stored payload. Recommended cards that are not objects with a
// Card_ID are dropped; a record written by an older version may contain them.
func Decode(data []byte) (*Recommendation, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode recommendation: %w", err)
	}

	id := strings.TrimSpace(p.SurveyID)
	if id == "" && p.SurveyResponse != nil {
		id = p.SurveyResponse.String(survey.IDField)
	}

	return &Recommendation{
		SurveyID:  id,
		Survey:    p.SurveyResponse,
		Vector:    p.SurveyVector,
		Items:     ItemsFrom(p.RecommendedCards),
		Timestamp: p.Timestamp,
	}, nil
}

// ItemsFrom keeps entries that are objects carrying a Card_ID.
func ItemsFrom(raw []any) []Item {
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		id := survey.Stringify(m["Card_ID"])
		if id == "" {
			continue
		}
		reason := survey.Stringify(m["Reason For Choice"])
		if reason == "" {
			reason = DefaultReason
		}
		items = append(items, Item{CardID: id, Reason: reason})
	}
	return items
}

// Matches reports whether the survey answers or any item contain term, case-insensitively.
func (r *Recommendation) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	if survey.ContainsFold(r.Survey, term) {
		return true
	}
	for _, it := range r.Items {
		if strings.Contains(strings.ToLower(it.CardID), term) || strings.Contains(strings.ToLower(it.Reason), term) {
			return true
		}
	}
	return false
}
