// Package apply patches block text with model-proposed corrections.
//
// Corrections are matched by literal substring, never by offset, and are
// processed strictly in list order so later corrections see the text already
// patched by earlier ones. A correction is applied only when its original
// text resolves to exactly one span:
//
//   - no occurrence: conflicted, not found.
//   - one occurrence: replaced.
//   - several occurrences: the model is asked for a longer snippet that
//     contains the intended occurrence. The replacement happens inside the
//     first occurrence of that snippet. Anything else, including a failed
//     call, marks the correction conflicted.
//
// Overlapping corrections are not detected; list order decides.
package apply

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/scribefix/internal/observe"
	"github.com/MrWong99/scribefix/internal/transcript"
	"github.com/MrWong99/scribefix/internal/transcript/prompt"
	"github.com/MrWong99/scribefix/internal/transcript/respparse"
	"github.com/MrWong99/scribefix/pkg/provider/llm"
)

// Conflict reasons recorded in [transcript.Correction.Reason].
const (
	ReasonEmptyOriginal   = "empty original text"
	ReasonNotFound        = "original text not found"
	ReasonNoClarifier     = "ambiguous and no model available for clarification"
	ReasonNoSnippet       = "clarification returned no snippet"
	ReasonSnippetNotFound = "clarification snippet not found in text"
	ReasonSnippetMismatch = "clarification snippet does not contain the original text"
)

const (
	defaultTemperature = 0.1
	defaultMaxTokens   = 500
)

// Outcome is the result of [Applier.Apply].
type Outcome struct {
	// Text is the patched text.
	Text string

	// Applied lists the corrections that changed Text, in application order.
	Applied []transcript.Correction

	// Conflicted lists the corrections that were skipped, each with Reason set.
	Conflicted []transcript.Correction

	// Interactions logs the clarification calls.
	Interactions []transcript.Interaction
}

// Applier applies corrections. It is safe for concurrent use.
type Applier struct {
	llm          llm.Provider
	metrics      *observe.Metrics
	providerName string
	temperature  float64
	now          func() time.Time
}

// Option is a functional option for [New].
type Option func(*Applier)

// WithMetrics records clarification calls on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Applier) { a.metrics = m }
}

// WithProviderName sets the provider attribute on recorded metrics.
func WithProviderName(name string) Option {
	return func(a *Applier) { a.providerName = name }
}

// WithTemperature overrides the clarification temperature (default 0.1).
func WithTemperature(t float64) Option {
	return func(a *Applier) { a.temperature = t }
}

// WithClock overrides the interaction timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Applier) { a.now = now }
}

// New creates an Applier. p is used for clarification calls and may be nil,
// in which case ambiguous corrections are always conflicted.
func New(p llm.Provider, opts ...Option) *Applier {
	a := &Applier{
		llm:          p,
		providerName: "llm",
		temperature:  defaultTemperature,
		now:          time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Apply patches text with corrections in order. It never fails: every
// correction ends up in exactly one of Outcome.Applied and Outcome.Conflicted.
func (a *Applier) Apply(ctx context.Context, text string, corrections []transcript.Correction) Outcome {
	out := Outcome{Text: text}
	for i, c := range corrections {
		if c.Original == "" {
			out.conflict(c, ReasonEmptyOriginal)
			continue
		}
		switch n := strings.Count(out.Text, c.Original); n {
		case 0:
			out.conflict(c, ReasonNotFound)
		case 1:
			out.Text = strings.Replace(out.Text, c.Original, c.Replacement, 1)
			out.Applied = append(out.Applied, c)
		default:
			a.clarify(ctx, &out, i+1, c, n)
		}
	}
	return out
}

func (o *Outcome) conflict(c transcript.Correction, reason string) {
	c.Reason = reason
	o.Conflicted = append(o.Conflicted, c)
}

// clarificationReply is the model's answer to a clarification prompt.
type clarificationReply struct {
	SpecificText *string `json:"specificText"`
	Reason       string  `json:"reason"`
}

// clarify resolves a correction whose original occurs n > 1 times. pos is the
// correction's 1-based position and becomes the interaction's iteration.
func (a *Applier) clarify(ctx context.Context, out *Outcome, pos int, c transcript.Correction, n int) {
	log := observe.Logger(ctx)
	if a.llm == nil {
		out.conflict(c, ReasonNoClarifier)
		return
	}

	ctx, span := observe.StartSpan(ctx, "apply.clarify", trace.WithAttributes(
		attribute.String("correction.id", c.ID),
		attribute.Int("correction.occurrences", n),
	))
	defer span.End()

	userPrompt := prompt.Clarification(c, out.Text)
	ia := transcript.Interaction{
		Iteration: pos,
		Type:      transcript.InteractionClarification,
		Prompt:    userPrompt,
	}
	start := time.Now()
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: prompt.ClarificationSystem,
		Messages:     []llm.Message{llm.UserMessage(userPrompt)},
		Temperature:  a.temperature,
		MaxTokens:    llm.ClampMaxTokens(defaultMaxTokens, a.llm.Capabilities()),
	})
	a.metrics.RecordLLMCall(ctx, a.providerName, string(transcript.InteractionClarification), time.Since(start), err)
	ia.Timestamp = a.now()
	if err != nil {
		ia.Error = err.Error()
		out.Interactions = append(out.Interactions, ia)
		log.Warn("apply: clarification call failed", "correction", c.ID, "err", err)
		out.conflict(c, fmt.Sprintf("clarification failed: %v", err))
		return
	}
	if resp != nil {
		ia.Response = resp.Content
	}

	reply, res, err := respparse.Decode[clarificationReply](ia.Response)
	a.metrics.RecordParse(ctx, res.Strategy)
	if err != nil {
		ia.Error = err.Error()
		out.Interactions = append(out.Interactions, ia)
		out.conflict(c, fmt.Sprintf("clarification unparseable: %v", err))
		return
	}
	out.Interactions = append(out.Interactions, ia)

	if reply.SpecificText == nil || strings.TrimSpace(*reply.SpecificText) == "" {
		reason := ReasonNoSnippet
		if reply.Reason != "" {
			reason += ": " + reply.Reason
		}
		out.conflict(c, reason)
		return
	}
	snippet := *reply.SpecificText
	at := strings.Index(out.Text, snippet)
	if at < 0 {
		out.conflict(c, ReasonSnippetNotFound)
		return
	}
	if !strings.Contains(snippet, c.Original) {
		out.conflict(c, ReasonSnippetMismatch)
		return
	}

	patched := strings.Replace(snippet, c.Original, c.Replacement, 1)
	out.Text = out.Text[:at] + patched + out.Text[at+len(snippet):]
	out.Applied = append(out.Applied, c)
	log.Debug("apply: ambiguous correction resolved", "correction", c.ID, "occurrences", n)
}
