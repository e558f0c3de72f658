// Package phonetic implements the phoneticAnalyzer tool, which scores how
// alike two phrases sound.
//
// Similarity blends two Jaro-Winkler scores:
//
//  1. Phonetic: Double Metaphone codes of each token are concatenated per
//     phrase and compared, once for the primary and once for the secondary
//     codes. The higher score wins.
//  2. Orthographic: the best of full-string, space-stripped and pairwise
//     token comparison on the lowercased phrases.
//
// The phonetic score is weighted 0.6 and the orthographic score 0.4. A
// candidate that sounds the same as the text (a homophone) scores close to 1
// even when it is spelled differently, which is exactly the class of error a
// speech recognizer makes.
package phonetic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/scribefix/internal/tools"
)

// ToolName is the name the model uses to call the analyzer.
const ToolName = "phoneticAnalyzer"

const (
	phoneticWeight = 0.6

	// HighThreshold is the lower bound of the "high" confidence band.
	HighThreshold = 0.85
	// MediumThreshold is the lower bound of the "medium" band. It is also
	// the lower bound of a likely recognition error.
	MediumThreshold = 0.70
	// HomophoneThreshold marks candidates that sound the same as the text.
	HomophoneThreshold = 0.95

	// maxCandidates bounds the optional candidates list.
	maxCandidates = 10
)

// Band classifies a similarity score.
type Band string

const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// BandFor returns the confidence band of a similarity score.
func BandFor(similarity float64) Band {
	switch {
	case similarity >= HighThreshold:
		return BandHigh
	case similarity >= MediumThreshold:
		return BandMedium
	default:
		return BandLow
	}
}

// Comparison is the outcome of comparing a transcribed phrase to a candidate.
type Comparison struct {
	Text       string
	Candidate  string
	Similarity float64
	Band       Band

	// Homophone is set when the phrases sound the same.
	Homophone bool

	// LikelyASRError is set when the phrases sound alike without being the
	// same, the range in which a recognizer typically confuses words.
	LikelyASRError bool
}

// Analyzer scores phonetic similarity. It is read-only after construction
// and safe for concurrent use.
type Analyzer struct {
	timeout time.Duration
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithTimeout sets the tool's MaxDuration. Default: 2s.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) { a.timeout = d }
}

// New returns an Analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{timeout: 2 * time.Second}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Similarity returns a score in [0, 1] for how alike a and b sound.
// Comparison is case-insensitive. Empty input scores 0.
func (a *Analyzer) Similarity(x, y string) float64 {
	xl := strings.ToLower(strings.TrimSpace(x))
	yl := strings.ToLower(strings.TrimSpace(y))
	if xl == "" || yl == "" {
		return 0
	}
	if xl == yl {
		return 1
	}
	xt, yt := strings.Fields(xl), strings.Fields(yl)

	ortho := bestJWScore(xt, yt, xl, yl)
	phon := phoneticScore(xt, yt)
	if phon < 0 {
		// No consonant codes on one side; fall back to spelling alone.
		phon = ortho
	}
	return clamp01(phoneticWeight*phon + (1-phoneticWeight)*ortho)
}

// Compare scores candidate against text and classifies the result.
func (a *Analyzer) Compare(text, candidate string) Comparison {
	sim := a.Similarity(text, candidate)
	same := strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(candidate))
	return Comparison{
		Text:           text,
		Candidate:      candidate,
		Similarity:     sim,
		Band:           BandFor(sim),
		Homophone:      sim >= HomophoneThreshold && !same,
		LikelyASRError: sim >= MediumThreshold && sim < HomophoneThreshold,
	}
}

// Spec implements [tools.Tool].
func (a *Analyzer) Spec() tools.Spec {
	return tools.Spec{
		Name:        ToolName,
		Description: "Scores how similar a transcribed phrase and a proposed replacement sound.",
		Params: []tools.Param{
			{Name: "text", Type: "string", Description: "the phrase as transcribed"},
			{Name: "candidate", Type: "string", Description: "the proposed replacement"},
		},
		UseFor:      "checking whether a suspected misrecognition is acoustically plausible",
		MaxDuration: a.timeout,
	}
}

// Execute implements [tools.Tool]. Besides the single candidate, an optional
// "candidates" list is ranked and the best match reported.
func (a *Analyzer) Execute(ctx context.Context, params map[string]any, _ tools.Context) (string, error) {
	text, err := tools.StringParam(params, "text")
	if err != nil {
		return "", err
	}
	candidates, err := candidateList(params)
	if err != nil {
		return "", err
	}

	var lines []string
	var best Comparison
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		cmp := a.Compare(text, c)
		lines = append(lines, formatComparison(cmp))
		if i == 0 || cmp.Similarity > best.Similarity {
			best = cmp
		}
	}
	if len(candidates) > 1 {
		lines = append(lines, fmt.Sprintf("best match: %q (%.2f)", best.Candidate, best.Similarity))
	}
	return strings.Join(lines, "\n"), nil
}

var _ tools.Tool = (*Analyzer)(nil)

func formatComparison(c Comparison) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%q vs %q: similarity %.2f (%s)", c.Text, c.Candidate, c.Similarity, c.Band)
	switch {
	case c.Homophone:
		b.WriteString("; homophone")
	case c.LikelyASRError:
		b.WriteString("; likely recognition error")
	}
	return b.String()
}

// candidateList reads "candidate" and the optional "candidates" array.
func candidateList(params map[string]any) ([]string, error) {
	var out []string
	if c, err := tools.StringParam(params, "candidate"); err == nil {
		out = append(out, c)
	}
	if raw, ok := params["candidates"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("missing parameter %q", "candidate")
	}
	if len(out) > maxCandidates {
		out = out[:maxCandidates]
	}
	return out, nil
}

// phoneticScore compares the concatenated Double Metaphone codes of both
// token lists. It returns -1 when either side produces no code.
func phoneticScore(x, y []string) float64 {
	xp, xs := codes(x)
	yp, ys := codes(y)
	if xp == "" || yp == "" {
		return -1
	}
	score := matchr.JaroWinkler(xp, yp, false)
	if xs != "" && ys != "" {
		if s := matchr.JaroWinkler(xs, ys, false); s > score {
			score = s
		}
	}
	return score
}

// codes returns the concatenated primary and secondary Double Metaphone
// codes of tokens. A token without a secondary code contributes its primary.
func codes(tokens []string) (primary, secondary string) {
	var p, s strings.Builder
	for _, t := range tokens {
		cp, cs := matchr.DoubleMetaphone(t)
		p.WriteString(cp)
		if cs == "" {
			cs = cp
		}
		s.WriteString(cs)
	}
	return p.String(), s.String()
}

// bestJWScore computes the highest Jaro-Winkler similarity using full
// strings, space-stripped strings, and the best pairwise token score.
func bestJWScore(xTokens, yTokens []string, xFull, yFull string) float64 {
	score := matchr.JaroWinkler(xFull, yFull, false)

	if len(xTokens) > 1 || len(yTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(xTokens, ""), strings.Join(yTokens, ""), false); s > score {
			score = s
		}
	}

	// Pairwise only helps when both sides are single words; for phrases it
	// would let one shared word dominate.
	if len(xTokens) == 1 && len(yTokens) == 1 {
		return score
	}
	var sum float64
	for _, xt := range xTokens {
		var best float64
		for _, yt := range yTokens {
			best = max(best, matchr.JaroWinkler(xt, yt, false))
		}
		sum += best
	}
	if s := sum / float64(len(xTokens)); s > score {
		score = s
	}
	return score
}

func clamp01(f float64) float64 {
	return min(max(f, 0), 1)
}
