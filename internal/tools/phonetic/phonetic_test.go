package phonetic_test

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/scribefix/internal/tools"
	"github.com/MrWong99/scribefix/internal/tools/phonetic"
)

func TestSimilarity_Bounds(t *testing.T) {
	t.Parallel()

	a := phonetic.New()
	tests := []struct {
		x, y    string
		wantMin float64
		wantMax float64
	}{
		{"tere", "tere", 1, 1},
		{"Tallinn", "tallinn", 1, 1},
		{"", "tere", 0, 0},
		{"night", "knight", phonetic.HighThreshold, 1},
		{"tere", "xylophone", 0, phonetic.MediumThreshold},
	}
	for _, tc := range tests {
		got := a.Similarity(tc.x, tc.y)
		if got < tc.wantMin || got > tc.wantMax {
			t.Errorf("Similarity(%q, %q) = %.3f, want in [%.2f, %.2f]", tc.x, tc.y, got, tc.wantMin, tc.wantMax)
		}
	}
}

func TestBandFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sim  float64
		want phonetic.Band
	}{
		{0.99, phonetic.BandHigh},
		{0.85, phonetic.BandHigh},
		{0.84, phonetic.BandMedium},
		{0.70, phonetic.BandMedium},
		{0.69, phonetic.BandLow},
		{0, phonetic.BandLow},
	}
	for _, tc := range tests {
		if got := phonetic.BandFor(tc.sim); got != tc.want {
			t.Errorf("BandFor(%v) = %q, want %q", tc.sim, got, tc.want)
		}
	}
}

func TestCompare_Flags(t *testing.T) {
	t.Parallel()

	a := phonetic.New()

	same := a.Compare("tere", "Tere")
	if same.Homophone || same.LikelyASRError {
		t.Errorf("identical phrases flagged: %+v", same)
	}

	far := a.Compare("tere", "xylophone")
	if far.Homophone || far.LikelyASRError {
		t.Errorf("unrelated phrases flagged: %+v", far)
	}
	if far.Band != phonetic.BandLow {
		t.Errorf("Band = %q, want low", far.Band)
	}
}

func TestExecute(t *testing.T) {
	t.Parallel()

	a := phonetic.New()
	ctx := context.Background()

	out, err := a.Execute(ctx, map[string]any{"text": "tere", "candidate": "tere"}, tools.Context{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "similarity 1.00 (high)") {
		t.Errorf("output %q missing similarity", out)
	}

	out, err = a.Execute(ctx, map[string]any{"text": "night", "candidates": []any{"xylophone", "knight"}}, tools.Context{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, `best match: "knight"`) {
		t.Errorf("output %q should rank knight best", out)
	}

	for _, params := range []map[string]any{
		{"candidate": "x"},
		{"text": "x"},
		{"text": "x", "candidates": []any{" "}},
	} {
		if _, err := a.Execute(ctx, params, tools.Context{}); err == nil {
			t.Errorf("Execute(%v): expected error", params)
		}
	}
}

func TestSpec(t *testing.T) {
	t.Parallel()

	spec := phonetic.New().Spec()
	if spec.Name != phonetic.ToolName {
		t.Errorf("Name = %q, want %q", spec.Name, phonetic.ToolName)
	}
	if got, want := spec.Signature(), "phoneticAnalyzer{text,candidate}"; got != want {
		t.Errorf("Signature = %q, want %q", got, want)
	}
}
