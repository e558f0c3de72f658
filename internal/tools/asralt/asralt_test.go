package asralt

import (
	"context"
	"testing"

	"github.com/MrWong99/scribefix/internal/tools"
	"github.com/MrWong99/scribefix/internal/transcript"
)

func testContext() tools.Context {
	return tools.Context{Segments: []transcript.Segment{
		{Index: 0, Text: "tere", StartTime: 0, EndTime: 1},
		{
			Index: 1, Text: "ta oli seal eile", StartTime: 1, EndTime: 3.5,
			Alternatives: []transcript.Alternative{
				{Rank: 2, Text: "tal oli seal eile", AvgLogprob: -0.75},
				{Rank: 1, Text: "ta oli seal eile", AvgLogprob: -0.25},
				{Rank: 3, Text: "  "},
				{Rank: 4, Text: "ta oli sääl eile"},
			},
		},
	}}
}

func TestExecute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		limit  int
		params map[string]any
		want   string
	}{
		{
			name:   "ranked alternatives",
			params: map[string]any{"segmentIndex": 1.0},
			want: `segment 1 (1.0s-3.5s) "ta oli seal eile"` +
				"\n1. \"ta oli seal eile\" (avg logprob -0.25) [same as transcript]" +
				"\n2. \"tal oli seal eile\" (avg logprob -0.75)" +
				"\n3. \"ta oli sääl eile\"",
		},
		{
			name:   "limit",
			limit:  1,
			params: map[string]any{"segmentIndex": "1"},
			want: `segment 1 (1.0s-3.5s) "ta oli seal eile"` +
				"\n1. \"ta oli seal eile\" (avg logprob -0.25) [same as transcript]",
		},
		{
			name:   "none recorded",
			params: map[string]any{"segmentIndex": 0},
			want:   `segment 0 (0.0s-1.0s) "tere": no alternatives recorded`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := New(tc.limit).Execute(context.Background(), tc.params, testContext())
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got != tc.want {
				t.Errorf("Execute =\n%s\nwant\n%s", got, tc.want)
			}
		})
	}
}

func TestExecute_Errors(t *testing.T) {
	t.Parallel()

	for _, params := range []map[string]any{
		{},
		{"segmentIndex": 7},
		{"segmentIndex": 1.5},
		{"segmentIndex": -1},
	} {
		if _, err := New(0).Execute(context.Background(), params, testContext()); err == nil {
			t.Errorf("Execute(%v): expected error", params)
		}
	}
}
