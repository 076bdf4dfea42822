// Package filter defines declarative per-field predicates over card records.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/cardsense/internal/domain"
)

// Mode selects how a survey value is compared with a card value.
type Mode string

const (
	// ModeMatch keeps cards whose value equals the survey value, ignoring case.
	ModeMatch Mode = "match"
	// ModeMin drops cards whose value is below the survey value.
	ModeMin Mode = "min"
)

// Predicate is a single field comparison.
type Predicate struct {
	Field string `json:"field" yaml:"field"`
	Mode  Mode   `json:"mode" yaml:"mode"`
}

// Spec is an ordered conjunction of predicates.
type Spec []Predicate

// Default mirrors the catalog attributes every survey can constrain.
func Default() Spec {
	return Spec{
		{Field: "Minimum_Income", Mode: ModeMin},
		{Field: "Interest_Rate", Mode: ModeMin},
		{Field: "Card_Type", Mode: ModeMatch},
		{Field: "Rewards", Mode: ModeMatch},
	}
}

// FromMap builds a Spec from field→mode pairs, ordered by field name.
func FromMap(m map[string]string) (Spec, error) {
	fields := make([]string, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	spec := make(Spec, 0, len(m))
	for _, f := range fields {
		p := Predicate{Field: f, Mode: Mode(strings.ToLower(strings.TrimSpace(m[f])))}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		spec = append(spec, p)
	}
	return spec, nil
}

// Validate checks the predicate shape.
func (p Predicate) Validate() error {
	if strings.TrimSpace(p.Field) == "" {
		return fmt.Errorf("filter field is required: %w", domain.ErrInvalidInput)
	}
	switch p.Mode {
	case ModeMatch, ModeMin:
		return nil
	default:
		return fmt.Errorf("filter %q: unknown mode %q: %w", p.Field, p.Mode, domain.ErrInvalidInput)
	}
}

// Validate checks every predicate.
func (s Spec) Validate() error {
	for _, p := range s {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}
