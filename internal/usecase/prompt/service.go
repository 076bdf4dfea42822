// Package prompt assembles the oracle prompt under a token budget.
package prompt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cardsense/internal/domain/card"
	"github.com/kailas-cloud/cardsense/internal/domain/survey"
)

// ErrNoCandidates means not a single card fits the budget.
var ErrNoCandidates = errors.New("no candidate cards fit the prompt budget")

const header = `You are an API that selects the best credit cards.
Your output **must only be a JSON list** with exactly 5 recommended credit cards with their values shown in "Expected Output", without any extra text or explanations. I want only JSON in the response, nothing else.

IMPORTANT: The response MUST be a JSON ARRAY/LIST with square brackets [], not a single object with curly braces {}.
IMPORTANT: You must return EXACTLY 5 credit cards, not more, not less.

**Expected Output:**
[
    {"Card_ID": "ValueOfCardID","Reason For Choice": "ReasonExplainedHere"},
    {"Card_ID": "ValueOfCardID","Reason For Choice": "ReasonExplainedHere"},
    {"Card_ID": "ValueOfCardID","Reason For Choice": "ReasonExplainedHere"},
    {"Card_ID": "ValueOfCardID","Reason For Choice": "ReasonExplainedHere"},
    {"Card_ID": "ValueOfCardID","Reason For Choice": "ReasonExplainedHere"}
]

**Survey Response:**
`

const cardsHeading = "\n\n**Available Credit Cards (only relevant fields):**\n"

// Options bound the prompt.
type Options struct {
	MaxTokens      int
	ReservedTokens int
	MaxCards       int
	// Fields is the card attribute allow-list; defaults to card.RelevantFields.
	Fields []string
}

// Prompt is a ready-to-send oracle prompt.
type Prompt struct {
	Text   string
	Cards  []map[string]any
	Tokens int
}

// Budgeter builds prompts.
type Budgeter struct {
	counter TokenCounter
	opts    Options
	logger  *zap.Logger
}

// NewBudgeter creates a Budgeter.
func NewBudgeter(counter TokenCounter, opts Options, logger *zap.Logger) *Budgeter {
	if len(opts.Fields) == 0 {
		opts.Fields = card.RelevantFields
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Budgeter{counter: counter, opts: opts, logger: logger}
}

// Build adds projected cards in order while the whole prompt stays under
// MaxTokens-ReservedTokens, stopping at MaxCards.
func (b *Budgeter) Build(resp survey.Response, cards []card.Card) (Prompt, error) {
	surveyJSON, err := indentJSON(resp)
	if err != nil {
		return Prompt{}, fmt.Errorf("encode survey: %w", err)
	}
	prefix := header + surveyJSON + cardsHeading
	limit := b.opts.MaxTokens - b.opts.ReservedTokens

	included := make([]map[string]any, 0, min(len(cards), b.opts.MaxCards))
	text, tokens := "", 0
	for _, c := range cards {
		if b.opts.MaxCards > 0 && len(included) >= b.opts.MaxCards {
			b.logger.Debug("card cap reached", zap.Int("max_cards", b.opts.MaxCards))
			break
		}
		proj := c.Project(b.opts.Fields)
		if len(proj) == 0 {
			continue
		}

		candidate, err := indentJSON(append(included, proj))
		if err != nil {
			b.logger.Warn("skipping unencodable card", zap.String("card_id", c.ID()), zap.Error(err))
			continue
		}
		full := prefix + candidate
		n := b.counter.Count(full)
		if n >= limit {
			b.logger.Debug("token budget reached",
				zap.Int("cards", len(included)), zap.Int("tokens", n), zap.Int("limit", limit))
			break
		}
		included = append(included, proj)
		text, tokens = full, n
	}

	if len(included) == 0 {
		return Prompt{}, ErrNoCandidates
	}
	return Prompt{Text: text, Cards: included, Tokens: tokens}, nil
}

// indentJSON renders v with two-space indentation and without HTML escaping.
func indentJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err //nolint:wrapcheck // callers add context
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
