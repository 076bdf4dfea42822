package parse

import (
	"strings"
	"testing"

	"github.com/kailas-cloud/cardsense/internal/domain/recommendation"
)

func newParser(t *testing.T) *Parser {
	t.Helper()
	p, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestParse_StrictJSONList(t *testing.T) {
	raw := `[{"Card_ID":"C1","Reason For Choice":"low fees"},{"Card_ID":"C2","Reason For Choice":"cashback"}]`
	res := newParser(t).Parse(raw)

	if res.Stage != StageJSON {
		t.Fatalf("stage = %q, want json", res.Stage)
	}
	want := []recommendation.Item{{CardID: "C1", Reason: "low fees"}, {CardID: "C2", Reason: "cashback"}}
	if len(res.Items) != len(want) {
		t.Fatalf("items = %+v", res.Items)
	}
	for i := range want {
		if res.Items[i] != want[i] {
			t.Errorf("item[%d] = %+v, want %+v", i, res.Items[i], want[i])
		}
	}
}

func TestParse_CapsAtFive(t *testing.T) {
	var b strings.Builder
	b.WriteString("[")
	for i := range 7 {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"Card_ID":"C` + string(rune('0'+i)) + `","Reason For Choice":"r"}`)
	}
	b.WriteString("]")

	res := newParser(t).Parse(b.String())
	if len(res.Items) != recommendation.MaxItems {
		t.Fatalf("items = %d, want %d", len(res.Items), recommendation.MaxItems)
	}
	if res.Items[4].CardID != "C4" {
		t.Errorf("order not kept: %+v", res.Items)
	}
}

func TestParse_CoercesOffSchemaJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []recommendation.Item
	}{
		{
			name: "lowercase keys and numeric id",
			raw:  `[{"card_id": 42, "reason": "fits income"}, {"name": "Gold"}]`,
			want: []recommendation.Item{
				{CardID: "42", Reason: "fits income"},
				{CardID: "Gold", Reason: recommendation.DefaultReason},
			},
		},
		{
			name: "wrapper object",
			raw:  `{"Recommendations": [{"Card_ID": "C9", "Reason For Choice": "travel"}]}`,
			want: []recommendation.Item{{CardID: "C9", Reason: "travel"}},
		},
		{
			name: "single object prefers Card_ID over name",
			raw:  `{"name": "Display Name", "Card_ID": "C3", "explanation": "why not"}`,
			want: []recommendation.Item{{CardID: "C3", Reason: "why not"}},
		},
		{
			name: "code fence",
			raw:  "```json\n[{\"Card_ID\":\"C1\",\"Reason For Choice\":\"x\"}]\n```",
			want: []recommendation.Item{{CardID: "C1", Reason: "x"}},
		},
		{
			name: "upper-case id key",
			raw:  `{"CARD_ID": "X", "reason": "r"}`,
			want: []recommendation.Item{{CardID: "X", Reason: "r"}},
		},
		{
			name: "mixed-case keys in a list",
			raw:  `[{"card_ID": "X", "REASON FOR CHOICE": "r"}]`,
			want: []recommendation.Item{{CardID: "X", Reason: "r"}},
		},
		{
			name: "upper-case name fallback",
			raw:  `{"NAME": "Gold Rewards", "Reason": "r"}`,
			want: []recommendation.Item{{CardID: "Gold Rewards", Reason: "r"}},
		},
		{
			name: "entries without id dropped",
			raw:  `[{"reason": "orphan"}, "text", {"id": "C5"}]`,
			want: []recommendation.Item{{CardID: "C5", Reason: recommendation.DefaultReason}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newParser(t).Parse(tt.raw)
			if res.Stage != StageJSON {
				t.Fatalf("stage = %q, want json", res.Stage)
			}
			assertItems(t, res.Items, tt.want)
		})
	}
}

func TestParse_EmbeddedJSON(t *testing.T) {
	raw := "Sure! Here are my picks:\n[{\"Card_ID\": \"A1\", \"Reason For Choice\": \"no annual fee\"}]\nHope that helps."
	res := newParser(t).Parse(raw)

	if res.Stage != StageEmbedded {
		t.Fatalf("stage = %q, want embedded_json", res.Stage)
	}
	assertItems(t, res.Items, []recommendation.Item{{CardID: "A1", Reason: "no annual fee"}})
}

func TestParse_EmbeddedObject(t *testing.T) {
	raw := `The best option is {"Card_ID": "B7", "Reason For Choice": "miles"} for you.`
	res := newParser(t).Parse(raw)

	if res.Stage != StageEmbedded {
		t.Fatalf("stage = %q", res.Stage)
	}
	assertItems(t, res.Items, []recommendation.Item{{CardID: "B7", Reason: "miles"}})
}

func TestParse_NumberedMarkdown(t *testing.T) {
	raw := "Top choices:\n1. **Platinum Card** (Visa)\n2. **Everyday Saver**\n3. **Platinum Card** (Visa)"
	res := newParser(t).Parse(raw)

	if res.Stage != StageNumbered {
		t.Fatalf("stage = %q, want numbered_list", res.Stage)
	}
	assertItems(t, res.Items, []recommendation.Item{
		{CardID: "Platinum Card", Reason: "Recommended by LLM. Provider: Visa"},
		{CardID: "Everyday Saver", Reason: "Recommended by LLM"},
	})
}

func TestParse_Sections(t *testing.T) {
	raw := "**Travel Elite** earns triple points on flights.\n\n" +
		"Some filler without emphasis.\n\n" +
		"**Cash Plus**: flat two percent back."
	res := newParser(t).Parse(raw)

	if res.Stage != StageSections {
		t.Fatalf("stage = %q, want sections", res.Stage)
	}
	assertItems(t, res.Items, []recommendation.Item{
		{CardID: "Travel Elite", Reason: "Recommended by LLM: earns triple points on flights...."},
		{CardID: "Cash Plus", Reason: "Recommended by LLM: : flat two percent back...."},
	})
}

func TestParse_SectionReasonTruncated(t *testing.T) {
	raw := "**Long One** " + strings.Repeat("x", 300)
	res := newParser(t).Parse(raw)

	if len(res.Items) != 1 {
		t.Fatalf("items = %+v", res.Items)
	}
	want := "Recommended by LLM: " + strings.Repeat("x", 99) + "..."
	if res.Items[0].Reason != want {
		t.Errorf("reason = %q", res.Items[0].Reason)
	}
}

func TestParse_LastResort(t *testing.T) {
	raw := "I would go with the Sapphire Preferred Credit Card, or maybe the Blue Cash Card. Honestly the Blue Cash Card is simpler."
	res := newParser(t).Parse(raw)

	if res.Stage != StageLastResort {
		t.Fatalf("stage = %q, want last_resort", res.Stage)
	}
	assertItems(t, res.Items, []recommendation.Item{
		{CardID: "Sapphire Preferred Credit Card", Reason: recommendation.DefaultReason},
		{CardID: "Blue Cash Card", Reason: recommendation.DefaultReason},
	})
}

func TestParse_Unparseable(t *testing.T) {
	p := newParser(t)
	for _, raw := range []string{"", "   ", "I cannot help with that.", "[]", `{"foo": "bar"}`} {
		res := p.Parse(raw)
		if res.Stage != StageNone || len(res.Items) != 0 {
			t.Errorf("Parse(%q) = %+v, want none", raw, res)
		}
	}
}

func TestParse_EveryItemComplete(t *testing.T) {
	p := newParser(t)
	inputs := []string{
		`[{"Card_ID":"C1","Reason For Choice":""}]`,
		`[{"Card_ID":"  ","Reason For Choice":"x"},{"Card_ID":"C2"}]`,
		"1. **A**\n2. **B** (Amex)",
	}
	for _, raw := range inputs {
		for _, it := range p.Parse(raw).Items {
			if strings.TrimSpace(it.CardID) == "" || strings.TrimSpace(it.Reason) == "" {
				t.Errorf("Parse(%q) produced incomplete item %+v", raw, it)
			}
		}
	}
}

func assertItems(t *testing.T, got, want []recommendation.Item) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("items = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
