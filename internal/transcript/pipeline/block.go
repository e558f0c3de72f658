// Package pipeline runs the correction of a whole transcript file, one block
// at a time.
//
// [Block] processes a single block: it probes the block's signal quality,
// runs the analysis loop, patches the speaker-labelled rendering with the
// proposed corrections, and maps the patched text back onto the segments.
// [File] partitions a file into blocks, skips blocks that already have a
// completed checkpoint, and persists every block before moving on, so a run
// can be interrupted and resumed at any point.
//
// Blocks are processed strictly sequentially.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/scribefix/internal/observe"
	"github.com/MrWong99/scribefix/internal/tools"
	"github.com/MrWong99/scribefix/internal/tools/signalquality"
	"github.com/MrWong99/scribefix/internal/transcript"
	"github.com/MrWong99/scribefix/internal/transcript/agent"
	"github.com/MrWong99/scribefix/internal/transcript/apply"
)

// Analyzer proposes corrections for a block. [*agent.Loop] implements it.
type Analyzer interface {
	Run(ctx context.Context, in agent.Input) (agent.Outcome, error)
}

// Patcher applies corrections to text. [*apply.Applier] implements it.
type Patcher interface {
	Apply(ctx context.Context, text string, corrections []transcript.Correction) apply.Outcome
}

// Prober runs single tool calls. [*tools.Dispatcher] implements it.
type Prober interface {
	Has(name string) bool
	Execute(ctx context.Context, req tools.Request, tc tools.Context) tools.Result
}

// Option is a functional option for [NewBlock] and [NewFile].
type Option func(*options)

type options struct {
	prober    Prober
	metrics   *observe.Metrics
	summary   string
	blockSize int
}

// WithProber enables the signal-quality probe that annotates each block's
// prompt. The probe runs only when the prober has the signal-quality tool.
func WithProber(p Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithMetrics records block and correction metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSummary sets a description of the recording that is included in every
// block prompt.
func WithSummary(s string) Option {
	return func(o *options) { o.summary = s }
}

// WithBlockSize sets the maximum number of segments per block. Non-positive
// values select [transcript.DefaultBlockSize].
func WithBlockSize(n int) Option {
	return func(o *options) { o.blockSize = n }
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.blockSize <= 0 {
		o.blockSize = transcript.DefaultBlockSize
	}
	return o
}

// Block processes single blocks. It is safe for concurrent use if its
// collaborators are.
type Block struct {
	analyzer Analyzer
	patcher  Patcher
	opts     options
}

// NewBlock creates a Block.
func NewBlock(a Analyzer, p Patcher, opts ...Option) *Block {
	return &Block{analyzer: a, patcher: p, opts: buildOptions(opts)}
}

// Process analyses and patches one block. An error is returned only when the
// analysis could not reach the model or ctx ended; the returned result then
// still carries the block's identity, original text, and interactions so far.
func (b *Block) Process(ctx context.Context, block transcript.Block, tc tools.Context) (transcript.BlockResult, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.block", trace.WithAttributes(
		attribute.String("file.id", tc.FileID),
		attribute.Int("block.index", block.Index),
		attribute.Int("block.segments", len(block.Segments)),
	))
	defer span.End()

	original := block.Render()
	result := transcript.BlockResult{
		BlockIndex:     block.Index,
		SegmentIndices: block.Indices(),
		OriginalText:   original,
		CorrectedText:  original,
		Corrections:    []transcript.Correction{},
		Interactions:   []transcript.Interaction{},
	}

	out, err := b.analyzer.Run(ctx, agent.Input{
		Block:       block,
		Tools:       tc,
		Summary:     b.opts.summary,
		QualityHint: b.probe(ctx, block, tc),
	})
	result.Interactions = append(result.Interactions, out.Interactions...)
	result.Reasoning = out.Reasoning
	if err != nil {
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("pipeline: block %d: %w", block.Index, err)
	}

	patched := b.patcher.Apply(ctx, original, out.Corrections)
	result.CorrectedText = patched.Text
	if patched.Applied != nil {
		result.Corrections = patched.Applied
	}
	result.Conflicted = patched.Conflicted
	result.Interactions = append(result.Interactions, patched.Interactions...)
	result.Segments = Reconstruct(ctx, block, patched.Text)
	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	b.opts.metrics.RecordCorrections(ctx, len(patched.Applied), len(patched.Conflicted))
	span.SetAttributes(
		attribute.Int("corrections.applied", len(patched.Applied)),
		attribute.Int("corrections.conflicted", len(patched.Conflicted)),
		attribute.String("agent.stop", string(out.Stop)),
	)
	return result, nil
}

// probe returns the signal-quality summary for the block's time range, or ""
// when no probe is configured or it did not succeed.
func (b *Block) probe(ctx context.Context, block transcript.Block, tc tools.Context) string {
	p := b.opts.prober
	if p == nil || !p.Has(signalquality.ToolName) {
		return ""
	}
	start, end, ok := block.TimeRange()
	if !ok || end <= start {
		return ""
	}
	res := p.Execute(ctx, tools.Request{
		Tool:   signalquality.ToolName,
		Params: map[string]any{"startTime": start, "endTime": end},
	}, tc)
	if !res.OK() {
		observe.Logger(ctx).Debug("pipeline: signal probe failed", "block", block.Index, "result", res.Render())
		return ""
	}
	return res.Summary
}

// Reconstruct maps patched block text back onto the block's segments. The
// text is split at paragraph breaks and each paragraph is matched to the
// segment at the same position with its "<label>: " prefix removed.
//
// When the counts differ, surplus paragraphs are dropped and segments without
// a paragraph keep their original text. Both cases are logged.
func Reconstruct(ctx context.Context, block transcript.Block, text string) []transcript.SegmentResult {
	paragraphs := transcript.SplitParagraphs(text)
	switch {
	case len(paragraphs) > len(block.Segments):
		observe.Logger(ctx).Warn("pipeline: corrected text has more paragraphs than segments, dropping the rest",
			"block", block.Index, "paragraphs", len(paragraphs), "segments", len(block.Segments))
	case len(paragraphs) < len(block.Segments):
		observe.Logger(ctx).Warn("pipeline: corrected text has fewer paragraphs than segments, keeping trailing originals",
			"block", block.Index, "paragraphs", len(paragraphs), "segments", len(block.Segments))
	}

	out := make([]transcript.SegmentResult, len(block.Segments))
	for i, s := range block.Segments {
		corrected := s.Text
		if i < len(paragraphs) {
			corrected = transcript.StripLabel(paragraphs[i], s.Label())
			if corrected == strings.TrimSpace(transcript.ParagraphText(s.Text)) {
				corrected = s.Text
			}
		}
		out[i] = transcript.SegmentResult{
			Index:         s.Index,
			StartTime:     s.StartTime,
			EndTime:       s.EndTime,
			SpeakerLabel:  s.Label(),
			OriginalText:  s.Text,
			CorrectedText: corrected,
			Changed:       corrected != s.Text,
			Diff:          transcript.Diff(s.Text, corrected),
		}
	}
	return out
}
