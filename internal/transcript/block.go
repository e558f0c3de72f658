package transcript

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultBlockSize is the maximum number of segments per block.
const DefaultBlockSize = 20

// Block is a contiguous, order-preserving slice of segments. It is the unit of
// analysis and checkpointing.
type Block struct {
	Index    int
	Segments []Segment
}

// Partition splits segments into consecutive blocks of at most size segments.
// A non-positive size selects [DefaultBlockSize]. The blocks' segment ranges
// cover the input exactly once and in order. An empty input yields no blocks.
func Partition(segments []Segment, size int) []Block {
	if size <= 0 {
		size = DefaultBlockSize
	}
	blocks := make([]Block, 0, (len(segments)+size-1)/size)
	for start := 0; start < len(segments); start += size {
		end := min(start+size, len(segments))
		blocks = append(blocks, Block{
			Index:    len(blocks),
			Segments: segments[start:end:end],
		})
	}
	return blocks
}

// BlockCount returns how many blocks [Partition] produces for n segments.
func BlockCount(n, size int) int {
	if size <= 0 {
		size = DefaultBlockSize
	}
	return (n + size - 1) / size
}

// Indices returns the segment indices covered by the block.
func (b Block) Indices() []int {
	out := make([]int, len(b.Segments))
	for i, s := range b.Segments {
		out[i] = s.Index
	}
	return out
}

// TimeRange returns the start of the first and the end of the last segment.
// ok is false for an empty block.
func (b Block) TimeRange() (start, end float64, ok bool) {
	if len(b.Segments) == 0 {
		return 0, 0, false
	}
	return b.Segments[0].StartTime, b.Segments[len(b.Segments)-1].EndTime, true
}

// ParagraphSeparator separates segment paragraphs in a rendered block.
const ParagraphSeparator = "\n\n"

// maxPromptAlternatives caps how many n-best hypotheses are shown per segment.
const maxPromptAlternatives = 3

// Render flattens the block into speaker-labelled paragraphs, one per segment:
//
//	Alice: first segment
//
//	Bob: second segment
//
// This is the text corrections are applied to.
func (b Block) Render() string {
	parts := make([]string, len(b.Segments))
	for i, s := range b.Segments {
		parts[i] = s.Label() + ": " + ParagraphText(s.Text)
	}
	return strings.Join(parts, ParagraphSeparator)
}

// RenderWithAlternatives is [Block.Render] with each segment's top ASR
// alternatives listed under it. It is shown to the model only.
func (b Block) RenderWithAlternatives() string {
	parts := make([]string, len(b.Segments))
	for i, s := range b.Segments {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s: %s", s.Label(), ParagraphText(s.Text))
		if alts := alternativeTexts(s.Alternatives, maxPromptAlternatives); len(alts) > 0 {
			sb.WriteString("\nAlternatives: ")
			sb.WriteString(strings.Join(alts, " | "))
		}
		parts[i] = sb.String()
	}
	return strings.Join(parts, ParagraphSeparator)
}

var blankLines = regexp.MustCompile(`\n[ \t\r]*\n\s*`)

// ParagraphText collapses blank lines inside segment text to single line
// breaks so a segment never renders as more than one paragraph.
func ParagraphText(text string) string {
	return blankLines.ReplaceAllString(text, "\n")
}

func alternativeTexts(alts []Alternative, limit int) []string {
	out := make([]string, 0, min(len(alts), limit))
	for _, a := range alts {
		if len(out) == limit {
			break
		}
		if t := strings.TrimSpace(a.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// SplitParagraphs splits rendered block text back into paragraphs. Empty
// paragraphs produced by stray blank lines are dropped.
func SplitParagraphs(text string) []string {
	raw := strings.Split(text, ParagraphSeparator)
	out := raw[:0]
	for _, p := range raw {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// StripLabel removes a leading "label: " prefix from a rendered paragraph. The
// paragraph is returned trimmed and unchanged apart from that when it does not
// start with the label.
func StripLabel(paragraph, label string) string {
	p := strings.TrimSpace(paragraph)
	if rest, ok := strings.CutPrefix(p, label+":"); ok {
		return strings.TrimSpace(rest)
	}
	return p
}
