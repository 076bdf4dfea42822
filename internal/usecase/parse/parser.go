// Package parse turns free-form oracle output into recommendation items.
package parse

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cardsense/internal/domain/recommendation"
	"github.com/kailas-cloud/cardsense/internal/domain/survey"
	"github.com/kailas-cloud/cardsense/internal/metrics"
)

// Stage names the cascade step that produced a result.
type Stage string

// Cascade stages, in the order they are tried.
const (
	StageJSON       Stage = "json"
	StageEmbedded   Stage = "embedded_json"
	StageNumbered   Stage = "numbered_list"
	StageSections   Stage = "sections"
	StageLastResort Stage = "last_resort"
	StageNone       Stage = "none"
)

// Result is the parser output. Items is empty when Stage is StageNone.
type Result struct {
	Items []recommendation.Item
	Stage Stage
}

const sectionReasonLen = 100

var (
	fenceRe    = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	arrayRe    = regexp.MustCompile(`(?s)\[\s*\{.*?\}\s*\]`)
	objectRe   = regexp.MustCompile(`(?s)\{.*?\}`)
	numberedRe = regexp.MustCompile(`\d+\.\s+\*\*([^*]+)\*\*(?:\s+\(([^)]+)\))?`)
	sectionRe  = regexp.MustCompile(`\n\s*\n`)
	boldRe     = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	cardNameRe = regexp.MustCompile(`((?:[A-Z][A-Za-z0-9&'+-]*\s+){1,4}(?:Credit\s+)?Card)\b`)
)

// Parser runs the cascade. Safe for concurrent use.
type Parser struct {
	schema *gojsonschema.Schema
	logger *zap.Logger
}

// New compiles the item schema.
func New(logger *zap.Logger) (*Parser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(itemsSchema))
	if err != nil {
		return nil, err //nolint:wrapcheck // static schema
	}
	return &Parser{schema: schema, logger: logger}, nil
}

// Parse never fails; unusable output yields StageNone.
func (p *Parser) Parse(raw string) Result {
	res := p.parse(strings.TrimSpace(raw))
	metrics.ParseStageTotal.WithLabelValues(string(res.Stage)).Inc()
	if res.Stage == StageNone {
		p.logger.Warn("oracle output not parseable", zap.String("output", preview(raw)))
	} else {
		p.logger.Debug("oracle output parsed",
			zap.String("stage", string(res.Stage)), zap.Int("items", len(res.Items)))
	}
	return res
}

func (p *Parser) parse(text string) Result {
	if text == "" {
		return Result{Stage: StageNone}
	}
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	if v, ok := decode(text); ok {
		if items := p.fromValue(v); len(items) > 0 {
			return finish(items, StageJSON, false)
		}
	}
	if items := p.embedded(text); len(items) > 0 {
		return finish(items, StageEmbedded, false)
	}
	if items := numbered(text); len(items) > 0 {
		return finish(items, StageNumbered, true)
	}
	if items := sections(text); len(items) > 0 {
		return finish(items, StageSections, true)
	}
	if items := lastResort(text); len(items) > 0 {
		return finish(items, StageLastResort, true)
	}
	return Result{Stage: StageNone}
}

func decode(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	// trailing content means s was not a single JSON document
	if dec.More() {
		return nil, false
	}
	return v, true
}

func (p *Parser) fromValue(v any) []recommendation.Item {
	switch t := v.(type) {
	case []any:
		return p.fromList(t)
	case map[string]any:
		for _, k := range wrapperKeys {
			if list, ok := lookupFold(t, k).([]any); ok {
				if items := p.fromList(list); len(items) > 0 {
					return items
				}
			}
		}
		if it, ok := coerce(t); ok {
			return []recommendation.Item{it}
		}
	}
	return nil
}

func (p *Parser) fromList(list []any) []recommendation.Item {
	if p.valid(list) {
		return recommendation.ItemsFrom(list)
	}
	items := make([]recommendation.Item, 0, len(list))
	for _, el := range list {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if it, ok := coerce(m); ok {
			items = append(items, it)
		}
	}
	return items
}

func (p *Parser) valid(list []any) bool {
	res, err := p.schema.Validate(gojsonschema.NewGoLoader(list))
	if err != nil {
		return false
	}
	if !res.Valid() {
		p.logger.Debug("oracle list off schema, coercing", zap.Int("violations", len(res.Errors())))
	}
	return res.Valid()
}

func coerce(m map[string]any) (recommendation.Item, bool) {
	var it recommendation.Item
	for _, k := range idKeys {
		v := lookupFold(m, k)
		if v == nil || !survey.IsScalar(v) {
			continue
		}
		if s := survey.Stringify(v); s != "" {
			it.CardID = s
			break
		}
	}
	if it.CardID == "" {
		return it, false
	}
	for _, k := range reasonKeys {
		if s := survey.Stringify(lookupFold(m, k)); s != "" {
			it.Reason = s
			break
		}
	}
	return it, true
}

func (p *Parser) embedded(text string) []recommendation.Item {
	for _, re := range []*regexp.Regexp{arrayRe, objectRe} {
		for _, m := range re.FindAllString(text, -1) {
			v, ok := decode(m)
			if !ok {
				continue
			}
			if items := p.fromValue(v); len(items) > 0 {
				return items
			}
		}
	}
	return nil
}

func numbered(text string) []recommendation.Item {
	var items []recommendation.Item
	for _, m := range numberedRe.FindAllStringSubmatch(text, -1) {
		reason := recommendation.DefaultReason
		if issuer := strings.TrimSpace(m[2]); issuer != "" {
			reason += ". Provider: " + issuer
		}
		items = append(items, recommendation.Item{CardID: strings.TrimSpace(m[1]), Reason: reason})
	}
	return items
}

func sections(text string) []recommendation.Item {
	var items []recommendation.Item
	for _, sec := range sectionRe.Split(text, -1) {
		m := boldRe.FindStringSubmatch(sec)
		if m == nil {
			continue
		}
		rest := boldRe.ReplaceAllString(sec, "")
		items = append(items, recommendation.Item{
			CardID: strings.TrimSpace(m[1]),
			Reason: recommendation.DefaultReason + ": " + strings.TrimSpace(head(rest, sectionReasonLen)) + "...",
		})
	}
	return items
}

func lastResort(text string) []recommendation.Item {
	var items []recommendation.Item
	for _, m := range cardNameRe.FindAllStringSubmatch(text, -1) {
		name := strings.Join(strings.Fields(m[1]), " ")
		items = append(items, recommendation.Item{CardID: name})
	}
	return items
}

// finish drops empty ids, fills reasons and caps the list.
func finish(items []recommendation.Item, stage Stage, dedupe bool) Result {
	out := make([]recommendation.Item, 0, recommendation.MaxItems)
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		it.CardID = strings.TrimSpace(it.CardID)
		if it.CardID == "" {
			continue
		}
		if dedupe {
			key := strings.ToLower(it.CardID)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		if strings.TrimSpace(it.Reason) == "" {
			it.Reason = recommendation.DefaultReason
		}
		out = append(out, it)
		if len(out) == recommendation.MaxItems {
			break
		}
	}
	if len(out) == 0 {
		return Result{Stage: StageNone}
	}
	return Result{Items: out, Stage: stage}
}

func lookupFold(m map[string]any, key string) any {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

// head returns at most n runes of s.
func head(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func preview(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return head(s, limit) + "..."
}
