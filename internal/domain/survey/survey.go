// Package survey models a free-form survey response and its canonical text form.
package survey

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kailas-cloud/cardsense/internal/domain"
)

const (
	// IDField is the survey identifier key.
	IDField = "Survey_ID"
	// NestedField wraps the answers in the envelope call shape.
	NestedField = "Survey_Response"
	// SearchTermField switches the candidate filter to full-text mode.
	SearchTermField = "search_term"
)

// Response is an open-schema survey: answer name to scalar value.
type Response map[string]any

// FromAny accepts a decoded JSON object and rejects any other shape.
func FromAny(v any) (Response, error) {
	switch m := v.(type) {
	case Response:
		if m == nil {
			return nil, fmt.Errorf("survey is null: %w", domain.ErrInvalidInput)
		}
		return m, nil
	case map[string]any:
		if m == nil {
			return nil, fmt.Errorf("survey is null: %w", domain.ErrInvalidInput)
		}
		return Response(m), nil
	default:
		return nil, fmt.Errorf("survey must be an object, got %T: %w", v, domain.ErrInvalidInput)
	}
}

// Clone returns a shallow copy.
func (r Response) Clone() Response {
	out := make(Response, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Answers returns the nested Survey_Response object when present, otherwise r itself.
func (r Response) Answers() Response {
	if nested, ok := r[NestedField].(map[string]any); ok {
		return Response(nested)
	}
	if nested, ok := r[NestedField].(Response); ok {
		return nested
	}
	return r
}

// ID returns the top-level Survey_ID, falling back to the nested one.
func (r Response) ID() string {
	if id := Stringify(r[IDField]); id != "" {
		return id
	}
	if ans := r.Answers(); len(ans) > 0 {
		return Stringify(ans[IDField])
	}
	return ""
}

// WithoutID returns the answers with Survey_ID removed, as stored next to a recommendation.
func (r Response) WithoutID() Response {
	out := r.Answers().Clone()
	delete(out, IDField)
	return out
}

// String returns a field as trimmed text, or "" when absent.
func (r Response) String(key string) string {
	return Stringify(r[key])
}

// Canonical renders the answers as compact JSON with sorted keys and stringified values.
// Equal surveys always produce byte-identical text.
func (r Response) Canonical() (string, error) {
	ans := r.Answers()
	keys := make([]string, 0, len(ans))
	for k := range ans {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return "", fmt.Errorf("encode key %q: %w", k, err)
		}
		vb, err := json.Marshal(Stringify(ans[k]))
		if err != nil {
			return "", fmt.Errorf("encode value of %q: %w", k, err)
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String(), nil
}

// Stringify renders a scalar the same way for canonical text, filter matching and prompts.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

// IsEmpty reports whether v counts as "not provided": nil, "", false or numeric zero.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case json.Number:
		f, err := t.Float64()
		return err == nil && f == 0
	case float64:
		return t == 0
	case float32:
		return t == 0
	case int:
		return t == 0
	case int64:
		return t == 0
	default:
		return false
	}
}

// IsScalar reports whether v is a string, number or bool.
func IsScalar(v any) bool {
	switch v.(type) {
	case string, json.Number, float64, float32, int, int64, bool:
		return true
	default:
		return false
	}
}

// ToFloat converts numbers and numeric strings.
func ToFloat(v any) (float64, error) {
	switch t := v.(type) {
	case json.Number:
		return t.Float64()
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// ContainsFold reports whether any scalar value of m contains term. term must be lower-case.
func ContainsFold(m map[string]any, term string) bool {
	for _, v := range m {
		if !IsScalar(v) {
			continue
		}
		if strings.Contains(strings.ToLower(Stringify(v)), term) {
			return true
		}
	}
	return false
}
