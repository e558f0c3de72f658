package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/scribefix/internal/checkpoint"
	"github.com/MrWong99/scribefix/internal/observe"
	"github.com/MrWong99/scribefix/internal/tools"
	"github.com/MrWong99/scribefix/internal/transcript"
)

// Block outcome labels for metrics.
const (
	statusCompleted = "completed"
	statusError     = "error"
	statusSkipped   = "skipped"
)

// BlockProcessor processes one block. [*Block] implements it.
type BlockProcessor interface {
	Process(ctx context.Context, block transcript.Block, tc tools.Context) (transcript.BlockResult, error)
}

// FileInput is one transcript file to correct.
type FileInput struct {
	FileID   string
	Segments []transcript.Segment

	// AudioPath is the local recording, used by audio tools. Optional.
	AudioPath string

	// Language is the ISO 639-1 transcript language.
	Language string
}

// File runs the block pipeline over whole files with checkpointing.
type File struct {
	blocks BlockProcessor
	store  checkpoint.Store
	opts   options
}

// NewFile creates a File. Only the WithBlockSize and WithMetrics options
// apply.
func NewFile(bp BlockProcessor, store checkpoint.Store, opts ...Option) *File {
	return &File{blocks: bp, store: store, opts: buildOptions(opts)}
}

// Process corrects a file block by block.
//
// A block with a completed checkpoint is not processed again; its stored
// result is reported instead. Every other block is processed and its outcome
// persisted before the next block starts. A failing block is checkpointed
// with status error and does not stop the run; it is retried on the next run.
//
// An empty file reports one total block and no completed blocks. When ctx
// ends, processing stops before the next block and the partial result is
// returned together with the context error.
func (f *File) Process(ctx context.Context, in FileInput) (transcript.FileResult, error) {
	defer f.opts.metrics.TrackRun(ctx)()
	ctx, span := observe.StartSpan(ctx, "pipeline.file", trace.WithAttributes(
		attribute.String("file.id", in.FileID),
		attribute.Int("file.segments", len(in.Segments)),
	))
	defer span.End()
	log := observe.Logger(ctx)

	blocks := transcript.Partition(in.Segments, f.opts.blockSize)
	res := transcript.FileResult{
		FileID:      in.FileID,
		TotalBlocks: max(1, len(blocks)),
		Results:     []transcript.BlockResult{},
	}
	tc := tools.Context{
		FileID:    in.FileID,
		AudioPath: in.AudioPath,
		Language:  in.Language,
		Segments:  in.Segments,
	}

	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			log.Info("file processing interrupted", "file_id", in.FileID, "next_block", block.Index)
			return res, fmt.Errorf("pipeline: file %s: %w", in.FileID, err)
		}

		rec, err := f.store.FindBlock(ctx, in.FileID, block.Index)
		if err != nil {
			log.Error("checkpoint lookup failed", "file_id", in.FileID, "block", block.Index, "err", err)
			res.Failures = append(res.Failures, transcript.BlockFailure{BlockIndex: block.Index, Error: err.Error()})
			f.opts.metrics.RecordBlock(ctx, statusError, 0)
			continue
		}
		if rec.Completed() {
			res.Results = append(res.Results, rec.Result)
			res.CompletedBlocks++
			res.SkippedBlocks++
			f.opts.metrics.RecordBlock(ctx, statusSkipped, 0)
			log.Debug("block already completed, skipping", "file_id", in.FileID, "block", block.Index)
			continue
		}

		start := time.Now()
		result, err := f.blocks.Process(ctx, block, tc)
		if err != nil {
			f.fail(ctx, &res, in.FileID, block, result, err)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, fmt.Errorf("pipeline: file %s: %w", in.FileID, ctxErr)
			}
			continue
		}

		if err := f.store.UpsertBlock(context.WithoutCancel(ctx), in.FileID, block.Index, result, checkpoint.StatusCompleted, ""); err != nil {
			log.Error("persisting block failed", "file_id", in.FileID, "block", block.Index, "err", err)
			res.Failures = append(res.Failures, transcript.BlockFailure{
				BlockIndex: block.Index,
				Error:      fmt.Sprintf("persist checkpoint: %v", err),
			})
			f.opts.metrics.RecordBlock(ctx, statusError, time.Since(start))
			continue
		}
		res.Results = append(res.Results, result)
		res.CompletedBlocks++
		f.opts.metrics.RecordBlock(ctx, statusCompleted, time.Since(start))
		log.Info("block completed",
			"file_id", in.FileID,
			"block", block.Index,
			"corrections", len(result.Corrections),
			"conflicted", len(result.Conflicted),
			"duration_ms", result.ProcessingTimeMs,
		)
	}

	span.SetAttributes(
		attribute.Int("file.blocks.total", res.TotalBlocks),
		attribute.Int("file.blocks.completed", res.CompletedBlocks),
	)
	return res, nil
}

// fail records a block failure and checkpoints it with status error. The
// write ignores ctx cancellation so an interrupted block is still recorded.
func (f *File) fail(ctx context.Context, res *transcript.FileResult, fileID string, block transcript.Block, partial transcript.BlockResult, cause error) {
	log := observe.Logger(ctx)
	log.Warn("block failed", "file_id", fileID, "block", block.Index, "err", cause)

	res.Failures = append(res.Failures, transcript.BlockFailure{BlockIndex: block.Index, Error: cause.Error()})
	f.opts.metrics.RecordBlock(ctx, statusError, time.Duration(partial.ProcessingTimeMs)*time.Millisecond)

	if partial.SegmentIndices == nil {
		partial.BlockIndex = block.Index
		partial.SegmentIndices = block.Indices()
		partial.OriginalText = block.Render()
	}
	if err := f.store.UpsertBlock(context.WithoutCancel(ctx), fileID, block.Index, partial, checkpoint.StatusError, cause.Error()); err != nil {
		log.Error("persisting block failure failed", "file_id", fileID, "block", block.Index, "err", err)
	}
}

// Results returns the stored checkpoints of a file ordered by block index.
func (f *File) Results(ctx context.Context, fileID string) ([]checkpoint.Record, error) {
	recs, err := f.store.ListBlocks(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: results for %s: %w", fileID, err)
	}
	return recs, nil
}
