// Package card models a credit card catalog record.
package card

import "github.com/kailas-cloud/cardsense/internal/domain/survey"

// IDField is the card identifier key.
const IDField = "Card_ID"

// RelevantFields is the allow-list of attributes shown to the oracle.
var RelevantFields = []string{
	"Bank_ID", "Card_Link", "Card_Image", "Card_ID", "Card_Type", "Card_Network",
	"Islamic", "Minimum_Income", "Minimum_Age", "Minimum_Credit_Limit",
	"Eligibility_Requirements", "Employment_Type", "Nationality",
	"Residency_Required", "Credit_Score_Required", "Bank_Relationship_Required",
}

// Card is an open-schema catalog record.
type Card map[string]any

// ID returns the Card_ID as text.
func (c Card) ID() string {
	return survey.Stringify(c[IDField])
}

// Project keeps only the given fields that are present with a non-nil value.
func (c Card) Project(fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := c[f]; ok && v != nil {
			out[f] = v
		}
	}
	return out
}

// Contains reports whether any scalar field contains term, case-insensitively.
// term must already be lower-cased.
func (c Card) Contains(term string) bool {
	return survey.ContainsFold(map[string]any(c), term)
}
