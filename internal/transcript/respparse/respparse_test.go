package respparse

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

const core = `{"reasoning": "seal vs. seal eile", "needsMoreAnalysis": false, "corrections": [{"id": "c1", "original": "seal", "replacement": "seal eile", "confidence": 0.9}], "note": "braces } and ] in strings"}`

func mustDecode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("test fixture does not parse: %v", err)
	}
	return v
}

func TestParse_RecoversEmbeddedCore(t *testing.T) {
	t.Parallel()

	want := mustDecode(t, core)
	tests := []struct {
		name         string
		raw          string
		wantStrategy string
	}{
		{"bare", core, StrategyDirect},
		{"padded", "\n\t " + core + "  \n", StrategyDirect},
		{"fenced json", "```json\n" + core + "\n```", StrategyExtraction},
		{"fenced no lang", "```\n" + core + "\n```", StrategyExtraction},
		{"prose around fence", "Here is my analysis:\n```json\n" + core + "\n```\nLet me know if you need more.", StrategyExtraction},
		{"prose around object", `Sure! I found one issue "seal". ` + core + ` Hope this helps {really}.`, StrategyExtraction},
		{"unterminated fence", "```json\n" + core, StrategyExtraction},
		{"stray brace in prose", "Note {see below: " + core, StrategyExtraction},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := Parse(tc.raw)
			if !res.Success {
				t.Fatalf("Parse failed: %s", res.Err)
			}
			if res.Strategy != tc.wantStrategy {
				t.Errorf("Strategy = %q, want %q", res.Strategy, tc.wantStrategy)
			}
			if !reflect.DeepEqual(res.Data, want) {
				t.Errorf("Data = %#v, want %#v", res.Data, want)
			}
		})
	}
}

func TestBalancedSpans(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"none", "no json here", nil},
		{"single", `x {"a":1} y`, []string{`{"a":1}`}},
		{"two", `{"a":1} and {"b":2}`, []string{`{"a":1}`, `{"b":2}`}},
		{"unclosed prefix", `Note {see below: {"a":1}`, []string{`{"a":1}`}},
		{"brace in string", `{"a":"}"}`, []string{`{"a":"}"}`}},
		{"never closed", `{"a":1`, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := balancedSpans(tc.in, '{', '}')
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("balancedSpans(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}

	res := Parse(`Note {see below: {"a":1}`)
	if !res.Success {
		t.Fatalf("Parse failed: %s", res.Err)
	}
	if want := map[string]any{"a": float64(1)}; !reflect.DeepEqual(res.Data, want) {
		t.Errorf("Data = %#v, want %#v", res.Data, want)
	}
}

func TestParse_Repairs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantFix string
	}{
		{
			name:    "trailing commas",
			raw:     `{"a": [1, 2,], "b": {"c": 1,},}`,
			want:    `{"a": [1, 2], "b": {"c": 1}}`,
			wantFix: "removed trailing commas",
		},
		{
			name:    "smart quotes",
			raw:     "{“a”: “b”}",
			want:    `{"a": "b"}`,
			wantFix: "normalized smart quotes",
		},
		{
			name:    "single quotes",
			raw:     `{'original': 'it's', 'confidence': 0.8}`,
			want:    `{"original": "it's", "confidence": 0.8}`,
			wantFix: "converted single quotes",
		},
		{
			name:    "comments keep urls",
			raw:     "{\"url\": \"https://example.com\", // source\n \"n\": 2 /* count */}",
			want:    `{"url": "https://example.com", "n": 2}`,
			wantFix: "removed comments",
		},
		{
			name:    "byte order mark",
			raw:     "\uFEFF{\"a\": 1,}",
			want:    `{"a": 1}`,
			wantFix: "removed byte order mark",
		},
		{
			name:    "raw newline in string",
			raw:     "{\"reasoning\": \"line one\nline two\",}",
			want:    `{"reasoning": "line one\nline two"}`,
			wantFix: "escaped raw line breaks in strings",
		},
		{
			name:    "non-breaking space",
			raw:     "{\"a\":\u00A01,}",
			want:    `{"a": 1}`,
			wantFix: "replaced non-breaking spaces",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := Parse(tc.raw)
			if !res.Success {
				t.Fatalf("Parse failed: %s (fixes %v)", res.Err, res.FixesApplied)
			}
			if !reflect.DeepEqual(res.Data, mustDecode(t, tc.want)) {
				t.Errorf("Data = %#v, want %s", res.Data, tc.want)
			}
			found := false
			for _, f := range res.FixesApplied {
				if f == tc.wantFix {
					found = true
				}
			}
			if !found {
				t.Errorf("FixesApplied = %v, want it to contain %q", res.FixesApplied, tc.wantFix)
			}
		})
	}
}

func TestParse_Arrays(t *testing.T) {
	t.Parallel()

	t.Run("prose around array", func(t *testing.T) {
		t.Parallel()
		res := Parse(`Corrections: [{"id": "c1"}, {"id": "c2"}] done`)
		arr, ok := res.Data.([]any)
		if !res.Success || !ok || len(arr) != 2 {
			t.Fatalf("Parse = %+v, want a 2-element array", res)
		}
	})

	t.Run("truncated array", func(t *testing.T) {
		t.Parallel()
		res := Parse(`[{"id": "c1", "original": "a"}, {"id": "c2", "original": "b"}, {"id": "c3", "orig`)
		if !res.Success {
			t.Fatalf("Parse failed: %s", res.Err)
		}
		if res.Strategy != StrategyArray {
			t.Errorf("Strategy = %q, want %q", res.Strategy, StrategyArray)
		}
		arr, ok := res.Data.([]any)
		if !ok || len(arr) != 2 {
			t.Fatalf("Data = %#v, want the 2 complete elements", res.Data)
		}
	})
}

func TestParse_Failures(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "no json here", `"just a string"`, "42", "{ unbalanced", "{{{{"} {
		res := Parse(raw)
		if res.Success {
			t.Errorf("Parse(%q) succeeded with %#v, want failure", raw, res.Data)
			continue
		}
		if res.Err == "" {
			t.Errorf("Parse(%q): empty Err on failure", raw)
		}
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	type reply struct {
		Corrections []struct {
			ID         string  `json:"id"`
			Confidence float64 `json:"confidence"`
		} `json:"corrections"`
	}
	got, res, err := Decode[reply]("```json\n" + core + "\n```")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if res.Strategy != StrategyExtraction {
		t.Errorf("Strategy = %q", res.Strategy)
	}
	if len(got.Corrections) != 1 || got.Corrections[0].ID != "c1" || got.Corrections[0].Confidence != 0.9 {
		t.Errorf("Decode = %+v", got)
	}

	if _, _, err := Decode[reply]("nothing"); err == nil {
		t.Error("Decode of non-JSON: expected error")
	}
	if _, _, err := Decode[reply](`{"corrections": "not a list"}`); err == nil {
		t.Error("Decode of mistyped JSON: expected error")
	}
}

func TestValidateStructure(t *testing.T) {
	t.Parallel()

	data := mustDecode(t, core)
	if err := ValidateStructure(data, "reasoning", "corrections"); err != nil {
		t.Errorf("ValidateStructure: %v", err)
	}
	err := ValidateStructure(data, "reasoning", "toolRequests", "uncertainty")
	if err == nil || !strings.Contains(err.Error(), "toolRequests, uncertainty") {
		t.Errorf("ValidateStructure err = %v, want missing keys listed", err)
	}
	if err := ValidateStructure([]any{}, "a"); err == nil {
		t.Error("ValidateStructure on array: expected error")
	}
}

func TestDiagnostic(t *testing.T) {
	t.Parallel()

	raw := strings.Repeat("x", 600)
	res := Parse(raw)
	d := Diagnostic(res, raw)

	for _, want := range []string{
		"could not be parsed as JSON",
		"Error: ",
		strings.Repeat("x", 500) + "...",
		"1. The response contains only valid JSON.",
		"6. There are no comments.",
	} {
		if !strings.Contains(d, want) {
			t.Errorf("Diagnostic missing %q", want)
		}
	}
	if strings.Contains(d, strings.Repeat("x", 501)) {
		t.Error("Diagnostic preview not truncated to 500 characters")
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()

	if got := Preview("äöü", 2); got != "äö..." {
		t.Errorf("Preview = %q, want rune-safe truncation", got)
	}
	if got := Preview("short", 10); got != "short" {
		t.Errorf("Preview = %q", got)
	}
}
