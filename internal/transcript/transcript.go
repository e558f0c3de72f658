// Package transcript defines the data model of the block-wise transcript
// correction pipeline.
//
// A transcript arrives as an ordered list of timed [Segment] values produced by
// an upstream speech-to-text pass. The pipeline groups segments into bounded
// [Block] values (see [Partition]), asks a language model for [Correction]
// proposals per block, patches the block text, and persists a [BlockResult]
// per block so that an interrupted run can resume where it stopped. The
// aggregate of one run over a file is a [FileResult].
//
// The analysis, patching, and orchestration stages live in subpackages:
// respparse, prompt, agent, apply, and pipeline.
package transcript

import "time"

// DefaultSpeakerLabel is used when a segment has neither a speaker name nor a
// speaker tag.
const DefaultSpeakerLabel = "Speaker"

// Alternative is one ASR n-best hypothesis for a segment.
type Alternative struct {
	Rank       int     `json:"rank"`
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avgLogprob,omitempty"`
}

// Segment is the minimal timed unit of transcribed speech. Segments are
// immutable once produced and ordered by StartTime.
type Segment struct {
	// Index is the segment's position in the full transcript, starting at 0.
	Index int `json:"index"`

	// Text is the transcribed text.
	Text string `json:"text"`

	// StartTime and EndTime are offsets into the recording, in seconds.
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`

	// SpeakerLabel is the display label used when rendering the segment. See
	// [ResolveSpeakerLabel].
	SpeakerLabel string `json:"speakerLabel,omitempty"`

	// Alternatives holds ASR n-best hypotheses, best first.
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// Label returns the speaker label, or [DefaultSpeakerLabel] when empty.
func (s Segment) Label() string {
	if s.SpeakerLabel == "" {
		return DefaultSpeakerLabel
	}
	return s.SpeakerLabel
}

// ResolveSpeakerLabel picks the label a segment is rendered with: the speaker
// name if known, then the diarization tag, then [DefaultSpeakerLabel].
func ResolveSpeakerLabel(name, tag string) string {
	switch {
	case name != "":
		return name
	case tag != "":
		return tag
	default:
		return DefaultSpeakerLabel
	}
}

// Correction is a proposed text replacement within one block.
type Correction struct {
	ID           string   `json:"id"`
	Original     string   `json:"original"`
	Replacement  string   `json:"replacement"`
	Confidence   float64  `json:"confidence"`
	EvidenceType string   `json:"evidenceType,omitempty"`
	NBestSupport []string `json:"nBestSupport,omitempty"`

	// Reason is set on conflicted corrections to explain why the correction
	// could not be applied.
	Reason string `json:"reason,omitempty"`
}

// InteractionType classifies an [Interaction].
type InteractionType string

const (
	InteractionInitial       InteractionType = "initial"
	InteractionFollowup      InteractionType = "followup"
	InteractionRepair        InteractionType = "repair"
	InteractionClarification InteractionType = "clarification"
)

// Interaction is one prompt/response pair exchanged with the model. The
// interaction log of a block is append-only.
type Interaction struct {
	Iteration int             `json:"iteration"`
	Type      InteractionType `json:"type"`
	Prompt    string          `json:"prompt"`
	Response  string          `json:"response"`
	Timestamp time.Time       `json:"timestamp"`

	// Error is set when the call failed or its response could not be used.
	Error string `json:"error,omitempty"`
}

// SegmentResult is a segment after reconstruction from the corrected block text.
type SegmentResult struct {
	Index         int     `json:"index"`
	StartTime     float64 `json:"startTime"`
	EndTime       float64 `json:"endTime"`
	SpeakerLabel  string  `json:"speakerLabel"`
	OriginalText  string  `json:"originalText"`
	CorrectedText string  `json:"correctedText"`
	Changed       bool    `json:"changed"`
	Diff          []Edit  `json:"diff,omitempty"`
}

// BlockResult is the persisted outcome of analysing one block.
type BlockResult struct {
	BlockIndex       int             `json:"blockIndex"`
	SegmentIndices   []int           `json:"segmentIndices"`
	OriginalText     string          `json:"originalText"`
	CorrectedText    string          `json:"correctedText"`
	Corrections      []Correction    `json:"corrections"`
	Conflicted       []Correction    `json:"conflicted,omitempty"`
	Segments         []SegmentResult `json:"segments"`
	Interactions     []Interaction   `json:"interactions"`
	Reasoning        string          `json:"reasoning,omitempty"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
}

// BlockFailure records a block that could not be processed.
type BlockFailure struct {
	BlockIndex int    `json:"blockIndex"`
	Error      string `json:"error"`
}

// FileResult aggregates one run over a file.
type FileResult struct {
	FileID          string         `json:"fileId"`
	TotalBlocks     int            `json:"totalBlocks"`
	CompletedBlocks int            `json:"completedBlocks"`
	SkippedBlocks   int            `json:"skippedBlocks"`
	Results         []BlockResult  `json:"results"`
	Failures        []BlockFailure `json:"failures,omitempty"`
}
