// Package agent implements the bounded analysis loop that asks a language
// model for corrections to one transcript block.
//
// The loop is an explicit state machine:
//
//	ANALYZE  send the prompt and parse the reply
//	DECIDE   corrections, or needsMoreAnalysis=false   -> done
//	         tool requests                            -> EXECUTE_TOOLS
//	         otherwise                                -> done, no corrections
//	EXECUTE_TOOLS  run the requested tools in order, build a follow-up
//	         prompt from the accumulated reasoning and the results, ANALYZE
//
// The number of ANALYZE steps is capped by the iteration limit. A reply that
// cannot be parsed gets a bounded number of repair calls inside the same
// ANALYZE step; if it still cannot be parsed the block ends with no
// corrections. Every model call is appended to the interaction log.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/scribefix/internal/observe"
	"github.com/MrWong99/scribefix/internal/tools"
	"github.com/MrWong99/scribefix/internal/transcript"
	"github.com/MrWong99/scribefix/internal/transcript/prompt"
	"github.com/MrWong99/scribefix/internal/transcript/respparse"
	"github.com/MrWong99/scribefix/pkg/provider/llm"
)

const (
	DefaultMaxIterations  = 3
	DefaultRepairAttempts = 1
	DefaultTemperature    = 0.1
	DefaultMaxTokens      = 4000

	// DefaultConfidence is assigned to corrections the model sent without a
	// confidence value.
	DefaultConfidence = 0.7
)

// Phonetic boost parameters. The top boostCandidates corrections with at
// least boostMinConfidence are compared phonetically; a similarity of at
// least boostMinSimilarity raises confidence by
// (similarity-boostMinSimilarity)*boostFactor, capped at 1.
const (
	boostCandidates    = 3
	boostMinConfidence = 0.6
	boostMinSimilarity = 0.7
	boostFactor        = 0.3
)

// StopReason explains why the loop ended.
type StopReason string

const (
	// StopCorrections: the model proposed corrections.
	StopCorrections StopReason = "corrections"
	// StopComplete: the model reported it needs no more analysis.
	StopComplete StopReason = "complete"
	// StopNoToolRequests: more analysis was requested but no tools were named.
	StopNoToolRequests StopReason = "no_tool_requests"
	// StopMaxIterations: the iteration limit was reached.
	StopMaxIterations StopReason = "max_iterations"
	// StopParseFailure: a reply could not be parsed, even after repair.
	StopParseFailure StopReason = "parse_failure"
)

// ToolRunner executes tool requests. [*tools.Dispatcher] implements it.
type ToolRunner interface {
	Specs() []tools.Spec
	ExecuteAll(ctx context.Context, reqs []tools.Request, tc tools.Context) []tools.Result
}

// Scorer rates how alike two phrases sound, from 0 to 1.
// [*phonetic.Analyzer] implements it.
type Scorer interface {
	Similarity(x, y string) float64
}

// Input is one block to analyse.
type Input struct {
	Block transcript.Block

	// Tools is passed to every tool call. Its Language is also the response
	// language of the prompts.
	Tools tools.Context

	// Summary optionally describes the whole recording.
	Summary string

	// QualityHint is the block's signal-quality summary, if known.
	QualityHint string
}

// Outcome is the result of [Loop.Run].
type Outcome struct {
	Corrections  []transcript.Correction
	Reasoning    string
	Interactions []transcript.Interaction
	ToolResults  []tools.Result
	Iterations   int
	Stop         StopReason
}

// Loop runs the analysis state machine. It is safe for concurrent use; all
// per-run state lives in Run.
type Loop struct {
	llm            llm.Provider
	tools          ToolRunner
	scorer         Scorer
	metrics        *observe.Metrics
	providerName   string
	maxIterations  int
	repairAttempts int
	temperature    float64
	maxTokens      int
	now            func() time.Time
}

// Option is a functional option for [New].
type Option func(*Loop)

// WithTools sets the tool runner. Without one the model is told no tools
// exist and tool requests end the loop.
func WithTools(r ToolRunner) Option {
	return func(l *Loop) { l.tools = r }
}

// WithScorer enables the phonetic confidence boost.
func WithScorer(s Scorer) Option {
	return func(l *Loop) { l.scorer = s }
}

// WithMetrics records model calls and parse outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithProviderName sets the provider attribute on recorded metrics.
func WithProviderName(name string) Option {
	return func(l *Loop) { l.providerName = name }
}

// WithMaxIterations sets the ANALYZE step limit. Non-positive values are
// ignored.
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithRepairAttempts sets how many repair calls an unparseable reply gets.
// Zero disables repair; negative values are ignored.
func WithRepairAttempts(n int) Option {
	return func(l *Loop) {
		if n >= 0 {
			l.repairAttempts = n
		}
	}
}

// WithTemperature overrides [DefaultTemperature].
func WithTemperature(t float64) Option {
	return func(l *Loop) { l.temperature = t }
}

// WithMaxTokens overrides [DefaultMaxTokens]. The value is clamped to the
// model's output limit.
func WithMaxTokens(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxTokens = n
		}
	}
}

// WithClock overrides the interaction timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// New creates a Loop that sends its prompts to p.
func New(p llm.Provider, opts ...Option) *Loop {
	l := &Loop{
		llm:            p,
		providerName:   "llm",
		maxIterations:  DefaultMaxIterations,
		repairAttempts: DefaultRepairAttempts,
		temperature:    DefaultTemperature,
		maxTokens:      DefaultMaxTokens,
		now:            time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// MaxIterations returns the configured iteration limit.
func (l *Loop) MaxIterations() int { return l.maxIterations }

// run is the mutable state of one [Loop.Run] call.
type run struct {
	in        Input
	out       Outcome
	messages  []llm.Message
	reasoning []string
}

// Run analyses one block. The returned error is non-nil only when the model
// could not be reached or ctx ended; the partial Outcome, including the
// interaction log, is returned alongside it.
func (l *Loop) Run(ctx context.Context, in Input) (Outcome, error) {
	r := &run{in: in}
	var specs []tools.Spec
	if l.tools != nil {
		specs = l.tools.Specs()
	}

	userPrompt := prompt.Analysis(prompt.BlockInput{
		Summary:     in.Summary,
		Block:       in.Block,
		QualityHint: in.QualityHint,
		Language:    in.Tools.Language,
		Tools:       specs,
	})
	kind := transcript.InteractionInitial

	for iter := 1; ; iter++ {
		r.out.Iterations = iter
		state, err := l.analyze(ctx, r, iter, kind, userPrompt)
		if err != nil {
			return r.out, err
		}
		if state == nil {
			r.out.Stop = StopParseFailure
			break
		}
		if s := strings.TrimSpace(state.Reasoning); s != "" {
			r.reasoning = append(r.reasoning, s)
		}

		// DECIDE
		if len(state.Corrections) > 0 {
			r.out.Corrections = normalize(state.Corrections)
			r.out.Stop = StopCorrections
			break
		}
		if !state.NeedsMoreAnalysis {
			r.out.Stop = StopComplete
			break
		}
		if len(state.ToolRequests) == 0 || l.tools == nil {
			r.out.Stop = StopNoToolRequests
			break
		}
		if iter >= l.maxIterations {
			r.out.Stop = StopMaxIterations
			break
		}

		// EXECUTE_TOOLS
		results := l.tools.ExecuteAll(ctx, state.ToolRequests, in.Tools)
		r.out.ToolResults = append(r.out.ToolResults, results...)
		if err := ctx.Err(); err != nil {
			return r.out, fmt.Errorf("agent: execute tools: %w", err)
		}
		userPrompt = prompt.Followup(prompt.FollowupInput{
			Reasoning:     strings.Join(r.reasoning, "\n"),
			Results:       results,
			Iteration:     iter + 1,
			MaxIterations: l.maxIterations,
			Language:      in.Tools.Language,
		})
		kind = transcript.InteractionFollowup
	}

	r.out.Reasoning = strings.Join(r.reasoning, "\n")
	if l.scorer != nil && len(r.out.Corrections) > 0 {
		boost(r.out.Corrections, l.scorer)
	}
	observe.Logger(ctx).Debug("agent: analysis finished",
		"block", in.Block.Index,
		"iterations", r.out.Iterations,
		"stop", r.out.Stop,
		"corrections", len(r.out.Corrections),
	)
	return r.out, nil
}

// analyze is one ANALYZE step. It returns nil state on a parse failure that
// repair could not fix.
func (l *Loop) analyze(ctx context.Context, r *run, iter int, kind transcript.InteractionType, userPrompt string) (*analysisState, error) {
	ctx, span := observe.StartSpan(ctx, "agent.analyze", trace.WithAttributes(
		attribute.Int("block.index", r.in.Block.Index),
		attribute.Int("agent.iteration", iter),
		attribute.String("agent.interaction", string(kind)),
	))
	defer span.End()

	r.messages = append(r.messages, llm.UserMessage(userPrompt))
	raw, err := l.complete(ctx, r, iter, kind, userPrompt, r.messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	r.messages = append(r.messages, llm.Message{Role: "assistant", Content: raw})

	state, res, perr := decodeAnalysis(raw)
	l.metrics.RecordParse(ctx, res.Strategy)
	if len(res.FixesApplied) > 0 {
		observe.Logger(ctx).Debug("agent: response repaired", "block", r.in.Block.Index, "fixes", res.FixesApplied)
	}

	for attempt := 0; perr != nil && attempt < l.repairAttempts; attempt++ {
		r.setLastError(perr)
		observe.Logger(ctx).Warn("agent: unparseable response, asking for repair",
			"block", r.in.Block.Index, "iteration", iter, "err", perr)

		repairPrompt := respparse.Diagnostic(res, raw)
		msgs := append(slices.Clone(r.messages), llm.UserMessage(repairPrompt))
		raw, err = l.complete(ctx, r, iter, transcript.InteractionRepair, repairPrompt, msgs)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		// The repaired reply replaces the broken one in the history.
		r.messages[len(r.messages)-1].Content = raw
		state, res, perr = decodeAnalysis(raw)
		l.metrics.RecordParse(ctx, res.Strategy)
	}
	if perr != nil {
		r.setLastError(perr)
		observe.Logger(ctx).Warn("agent: giving up on block after parse failure",
			"block", r.in.Block.Index, "iteration", iter, "err", perr)
		span.SetStatus(codes.Error, "parse failure")
		return nil, nil
	}
	span.SetAttributes(
		attribute.Int("agent.corrections", len(state.Corrections)),
		attribute.Int("agent.tool_requests", len(state.ToolRequests)),
	)
	return state, nil
}

// complete sends msgs to the model and appends the interaction record.
func (l *Loop) complete(ctx context.Context, r *run, iter int, kind transcript.InteractionType, userPrompt string, msgs []llm.Message) (string, error) {
	req := llm.CompletionRequest{
		SystemPrompt: prompt.System,
		Messages:     msgs,
		Temperature:  l.temperature,
		MaxTokens:    llm.ClampMaxTokens(l.maxTokens, l.llm.Capabilities()),
	}
	start := time.Now()
	resp, err := l.llm.Complete(ctx, req)
	l.metrics.RecordLLMCall(ctx, l.providerName, string(kind), time.Since(start), err)

	ia := transcript.Interaction{
		Iteration: iter,
		Type:      kind,
		Prompt:    userPrompt,
		Timestamp: l.now(),
	}
	if err != nil {
		ia.Error = err.Error()
		r.out.Interactions = append(r.out.Interactions, ia)
		return "", fmt.Errorf("agent: %s call: %w", kind, err)
	}
	if resp != nil {
		ia.Response = resp.Content
	}
	r.out.Interactions = append(r.out.Interactions, ia)
	return ia.Response, nil
}

func (r *run) setLastError(err error) {
	if n := len(r.out.Interactions); n > 0 {
		r.out.Interactions[n-1].Error = err.Error()
	}
}

// ── Response decoding ────────────────────────────────────────────────────────

// analysisState is one parsed model reply.
type analysisState struct {
	Reasoning             string            `json:"reasoning"`
	ToolRequests          []tools.Request   `json:"toolRequests"`
	NeedsMoreAnalysis     bool              `json:"needsMoreAnalysis"`
	UncertaintyAssessment string            `json:"uncertaintyAssessment"`
	Corrections           []correctionReply `json:"corrections"`
}

// correctionReply is a correction as the model sends it. Confidence is a
// pointer so a missing value can be told apart from zero.
type correctionReply struct {
	ID           string   `json:"id"`
	Original     string   `json:"original"`
	Replacement  string   `json:"replacement"`
	Confidence   *float64 `json:"confidence"`
	EvidenceType string   `json:"evidenceType"`
	NBestSupport []string `json:"nBestSupport"`
}

var responseKeys = []string{"reasoning", "toolRequests", "needsMoreAnalysis", "corrections"}

var errUnexpectedShape = errors.New("response has none of the keys reasoning, toolRequests, needsMoreAnalysis, corrections")

// decodeAnalysis parses a reply. A bare JSON array is read as the
// corrections list.
func decodeAnalysis(raw string) (*analysisState, respparse.Result, error) {
	res := respparse.Parse(raw)
	if !res.Success {
		return nil, res, fmt.Errorf("parse response: %s", res.Err)
	}

	var state analysisState
	switch v := res.Data.(type) {
	case []any:
		if err := json.Unmarshal([]byte(res.Extracted), &state.Corrections); err != nil {
			return nil, res, fmt.Errorf("decode corrections: %w", err)
		}
	case map[string]any:
		if !slices.ContainsFunc(responseKeys, func(k string) bool { _, ok := v[k]; return ok }) {
			return nil, res, errUnexpectedShape
		}
		if err := json.Unmarshal([]byte(res.Extracted), &state); err != nil {
			return nil, res, fmt.Errorf("decode response: %w", err)
		}
	}
	return &state, res, nil
}

// normalize converts model corrections, filling in missing IDs as c1, c2, ...
// by list position and missing confidences with [DefaultConfidence].
func normalize(in []correctionReply) []transcript.Correction {
	out := make([]transcript.Correction, len(in))
	for i, c := range in {
		conf := DefaultConfidence
		if c.Confidence != nil {
			conf = min(max(*c.Confidence, 0), 1)
		}
		id := strings.TrimSpace(c.ID)
		if id == "" {
			id = fmt.Sprintf("c%d", i+1)
		}
		out[i] = transcript.Correction{
			ID:           id,
			Original:     c.Original,
			Replacement:  c.Replacement,
			Confidence:   conf,
			EvidenceType: c.EvidenceType,
			NBestSupport: c.NBestSupport,
		}
	}
	return out
}

// boost raises the confidence of the most confident corrections whose
// original and replacement sound alike. The order of cs is preserved.
func boost(cs []transcript.Correction, s Scorer) {
	idx := make([]int, 0, len(cs))
	for i, c := range cs {
		if c.Confidence >= boostMinConfidence {
			idx = append(idx, i)
		}
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		switch {
		case cs[a].Confidence > cs[b].Confidence:
			return -1
		case cs[a].Confidence < cs[b].Confidence:
			return 1
		}
		return 0
	})
	for _, i := range idx[:min(len(idx), boostCandidates)] {
		sim := s.Similarity(cs[i].Original, cs[i].Replacement)
		if sim >= boostMinSimilarity {
			cs[i].Confidence = min(1, cs[i].Confidence+(sim-boostMinSimilarity)*boostFactor)
		}
	}
}
