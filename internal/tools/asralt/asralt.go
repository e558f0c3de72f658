// Package asralt implements the asrAlternatives tool. It reports the N-best
// hypotheses the recognizer produced for one segment, which are the cheapest
// evidence that a word was misheard: if an alternative carries the suspected
// correction, the recognizer itself considered it.
package asralt

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/scribefix/internal/tools"
	"github.com/MrWong99/scribefix/internal/transcript"
)

// ToolName is the name the model uses to call the lookup.
const ToolName = "asrAlternatives"

// DefaultLimit is the number of alternatives reported per segment.
const DefaultLimit = 5

// Lookup serves recognizer alternatives from the segments in [tools.Context].
type Lookup struct {
	limit int
}

// New returns a Lookup reporting at most limit alternatives. A limit of zero
// or less uses [DefaultLimit].
func New(limit int) *Lookup {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Lookup{limit: limit}
}

// Spec implements [tools.Tool].
func (l *Lookup) Spec() tools.Spec {
	return tools.Spec{
		Name:        ToolName,
		Description: "Lists the recognizer's alternative hypotheses for one segment.",
		Params: []tools.Param{
			{Name: "segmentIndex", Type: "integer", Description: "index of the segment in the file"},
		},
		UseFor: "checking whether the recognizer also heard a suspected correction",
	}
}

// Execute implements [tools.Tool].
func (l *Lookup) Execute(_ context.Context, params map[string]any, tc tools.Context) (string, error) {
	idx, err := tools.IntParam(params, "segmentIndex")
	if err != nil {
		return "", err
	}
	seg, ok := tc.Segment(idx)
	if !ok {
		return "", fmt.Errorf("segment %d does not exist (file has %d segments)", idx, len(tc.Segments))
	}
	return l.describe(seg), nil
}

var _ tools.Tool = (*Lookup)(nil)

func (l *Lookup) describe(seg transcript.Segment) string {
	alts := make([]transcript.Alternative, 0, len(seg.Alternatives))
	for _, a := range seg.Alternatives {
		if strings.TrimSpace(a.Text) != "" {
			alts = append(alts, a)
		}
	}
	slices.SortStableFunc(alts, func(a, b transcript.Alternative) int {
		return cmp.Compare(a.Rank, b.Rank)
	})
	if len(alts) > l.limit {
		alts = alts[:l.limit]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "segment %d (%.1fs-%.1fs) %q", seg.Index, seg.StartTime, seg.EndTime, seg.Text)
	if len(alts) == 0 {
		b.WriteString(": no alternatives recorded")
		return b.String()
	}
	for i, a := range alts {
		fmt.Fprintf(&b, "\n%d. %q", i+1, a.Text)
		if a.AvgLogprob != 0 {
			fmt.Fprintf(&b, " (avg logprob %.2f)", a.AvgLogprob)
		}
		if strings.EqualFold(strings.TrimSpace(a.Text), strings.TrimSpace(seg.Text)) {
			b.WriteString(" [same as transcript]")
		}
	}
	return b.String()
}
