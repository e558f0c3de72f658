package tools

import (
	"testing"
	"time"

	"github.com/MrWong99/scribefix/internal/transcript"
)

func TestFloatParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		v       any
		want    float64
		wantErr bool
	}{
		{name: "float", v: 1.5, want: 1.5},
		{name: "int", v: 3, want: 3},
		{name: "quoted", v: " 2.25 ", want: 2.25},
		{name: "garbage string", v: "soon", wantErr: true},
		{name: "bool", v: true, wantErr: true},
		{name: "nil", v: nil, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := FloatParam(map[string]any{"x": tc.v}, "x")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("FloatParam(%v): expected error, got %v", tc.v, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("FloatParam(%v): %v", tc.v, err)
			}
			if got != tc.want {
				t.Errorf("FloatParam(%v) = %v, want %v", tc.v, got, tc.want)
			}
		})
	}
}

func TestIntParam(t *testing.T) {
	t.Parallel()

	if got, err := IntParam(map[string]any{"i": 4.0}, "i"); err != nil || got != 4 {
		t.Errorf("IntParam(4.0) = %d, %v; want 4, nil", got, err)
	}
	if _, err := IntParam(map[string]any{"i": 4.5}, "i"); err == nil {
		t.Error("IntParam(4.5): expected error")
	}
	if _, err := IntParam(map[string]any{}, "i"); err == nil {
		t.Error("IntParam(missing): expected error")
	}
}

func TestStringParam(t *testing.T) {
	t.Parallel()

	params := map[string]any{"s": "  tere  ", "blank": " ", "num": 3}
	if got, err := StringParam(params, "s"); err != nil || got != "tere" {
		t.Errorf("StringParam(s) = %q, %v; want %q, nil", got, err, "tere")
	}
	for _, name := range []string{"blank", "num", "missing"} {
		if _, err := StringParam(params, name); err == nil {
			t.Errorf("StringParam(%s): expected error", name)
		}
	}
	if got := OptionalStringParam(params, "missing", "et"); got != "et" {
		t.Errorf("OptionalStringParam default = %q, want %q", got, "et")
	}
}

func TestResultRender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		res  Result
		want string
	}{
		{Result{Tool: "webSearch", Summary: "3 results"}, "webSearch: 3 results"},
		{Result{Tool: "webSearch", Error: "bad query"}, "webSearch: error: bad query"},
		{Result{Tool: "x", Unavailable: true}, "x: unavailable"},
		{Result{Tool: "x", Unavailable: true, Error: "no audio"}, "x: unavailable (no audio)"},
	}
	for _, tc := range tests {
		if got := tc.res.Render(); got != tc.want {
			t.Errorf("Render() = %q, want %q", got, tc.want)
		}
	}
}

func TestSpecSignature(t *testing.T) {
	t.Parallel()

	s := Spec{Name: "phoneticAnalyzer", Params: []Param{{Name: "text"}, {Name: "candidate"}}, MaxDuration: time.Second}
	if got, want := s.Signature(), "phoneticAnalyzer{text,candidate}"; got != want {
		t.Errorf("Signature() = %q, want %q", got, want)
	}
}

func TestContextSegment(t *testing.T) {
	t.Parallel()

	tc := Context{Segments: []transcript.Segment{
		{Index: 0, Text: "a"},
		{Index: 1, Text: "b"},
		{Index: 5, Text: "f"},
	}}
	if s, ok := tc.Segment(1); !ok || s.Text != "b" {
		t.Errorf("Segment(1) = %+v, %v", s, ok)
	}
	if s, ok := tc.Segment(5); !ok || s.Text != "f" {
		t.Errorf("Segment(5) = %+v, %v", s, ok)
	}
	if _, ok := tc.Segment(9); ok {
		t.Error("Segment(9) should not exist")
	}
}
