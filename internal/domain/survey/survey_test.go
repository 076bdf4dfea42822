package survey

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/kailas-cloud/cardsense/internal/domain"
)

func TestFromAny(t *testing.T) {
	if _, err := FromAny(map[string]any{"a": 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, in := range []any{nil, "text", []any{1}, 42, map[string]any(nil)} {
		if _, err := FromAny(in); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("FromAny(%#v) err = %v, want ErrInvalidInput", in, err)
		}
	}
}

func TestCanonical_SortedAndStringified(t *testing.T) {
	r := Response{
		"b":      json.Number("80"),
		"a":      "  Gold ",
		"c":      nil,
		"d":      true,
		"e":      2.5,
		"nested": map[string]any{"x": 1},
	}
	got, err := r.Canonical()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"a":"Gold","b":"80","c":"","d":"true","e":"2.5","nested":"{\"x\":1}"}`
	if got != want {
		t.Errorf("Canonical() = %s\nwant          %s", got, want)
	}
}

func TestCanonical_Deterministic(t *testing.T) {
	a := Response{"Rewards": "Cashback", "Card_Type": "Gold", "Credit_Score": json.Number("80")}
	b := Response{"Credit_Score": json.Number("80"), "Card_Type": "Gold", "Rewards": "Cashback"}

	ca, _ := a.Canonical()
	cb, _ := b.Canonical()
	if ca != cb {
		t.Errorf("insertion order changed canonical text: %s vs %s", ca, cb)
	}
}

func TestCanonical_UnwrapsNested(t *testing.T) {
	wrapped := Response{NestedField: map[string]any{"k": "v"}}
	flat := Response{"k": "v"}

	cw, _ := wrapped.Canonical()
	cf, _ := flat.Canonical()
	if cw != cf {
		t.Errorf("wrapped %s != flat %s", cw, cf)
	}
}

func TestID_TopLevelThenNested(t *testing.T) {
	if got := (Response{IDField: " abc "}).ID(); got != "abc" {
		t.Errorf("ID() = %q, want abc", got)
	}
	nested := Response{NestedField: map[string]any{IDField: "legacy"}}
	if got := nested.ID(); got != "legacy" {
		t.Errorf("ID() = %q, want legacy", got)
	}
	if got := (Response{"k": "v"}).ID(); got != "" {
		t.Errorf("ID() = %q, want empty", got)
	}
}

func TestWithoutID(t *testing.T) {
	r := Response{IDField: "s1", NestedField: map[string]any{IDField: "s1", "k": "v"}}
	got := r.WithoutID()
	if _, ok := got[IDField]; ok {
		t.Error("Survey_ID should be removed")
	}
	if got["k"] != "v" {
		t.Errorf("answers lost: %v", got)
	}
	if _, ok := r[NestedField].(map[string]any)[IDField]; !ok {
		t.Error("source map must not be mutated")
	}
}

func TestIsEmpty(t *testing.T) {
	empty := []any{nil, "", false, 0.0, json.Number("0"), 0}
	for _, v := range empty {
		if !IsEmpty(v) {
			t.Errorf("IsEmpty(%#v) = false, want true", v)
		}
	}
	full := []any{"x", true, 1.5, json.Number("3"), " "}
	for _, v := range full {
		if IsEmpty(v) {
			t.Errorf("IsEmpty(%#v) = true, want false", v)
		}
	}
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		in      any
		want    float64
		wantErr bool
	}{
		{"1000", 1000, false},
		{" 2.5 ", 2.5, false},
		{json.Number("12"), 12, false},
		{7.0, 7, false},
		{"abc", 0, true},
		{[]any{}, 0, true},
	}
	for _, tc := range tests {
		got, err := ToFloat(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ToFloat(%#v) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ToFloat(%#v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
