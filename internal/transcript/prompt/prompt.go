// Package prompt renders the messages the analysis loop and the correction
// applier send to the language model.
//
// All builders are pure functions of their input. The JSON shapes the model
// is asked for here are the shapes the agent and apply packages decode.
package prompt

import (
	"fmt"
	"strings"

	"github.com/MrWong99/scribefix/internal/tools"
	"github.com/MrWong99/scribefix/internal/transcript"
)

// System is the system prompt for every analysis and follow-up call.
const System = `You are a transcript proofreader. You receive blocks of automatically
transcribed speech and find words the speech recognizer got wrong.

Rules:
- Only propose a correction when you are confident (confidence above 0.7).
- Keep "original" short: 1 to 5 words copied exactly from the transcript.
- Never include speaker names or labels in "original" or "replacement".
- Focus on the 1 to 3 most important errors. Ignore style, punctuation, and filler words.
- Do not rephrase correct text.
- Use tools when the evidence is unclear. Each tool is listed with its parameters.

Respond with ONLY a JSON object, no markdown fences and no prose:
{
  "reasoning": "short explanation of what you checked",
  "toolRequests": [{"tool": "toolName", "params": {"name": "value"}, "rationale": "why"}],
  "needsMoreAnalysis": false,
  "corrections": [{"id": "c1", "original": "wrong words", "replacement": "right words", "confidence": 0.9}]
}
Set "needsMoreAnalysis" to true and leave "corrections" empty when you need tool results first.`

// ClarificationSystem is the system prompt for clarification calls.
const ClarificationSystem = `You help locate text precisely. Respond with ONLY a JSON object.`

var languageNames = map[string]string{
	"et": "Estonian",
	"fi": "Finnish",
	"en": "English",
}

// LanguageName returns the English name of an ISO 639-1 code. Unknown codes
// are returned unchanged, and an empty code yields "English".
func LanguageName(code string) string {
	if code == "" {
		return "English"
	}
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

// BlockInput is everything the first analysis prompt of a block needs.
type BlockInput struct {
	// Summary is an optional description of the whole recording.
	Summary string

	Block transcript.Block

	// QualityHint is the signal-quality summary for the block's time range.
	// Empty when the probe failed or was not run.
	QualityHint string

	// Language is the ISO 639-1 transcript language.
	Language string

	// Tools lists the capabilities the model may request.
	Tools []tools.Spec
}

// Analysis renders the initial prompt for a block.
func Analysis(in BlockInput) string {
	var b strings.Builder
	if s := strings.TrimSpace(in.Summary); s != "" {
		fmt.Fprintf(&b, "Recording summary:\n%s\n\n", s)
	}
	if start, end, ok := in.Block.TimeRange(); ok {
		fmt.Fprintf(&b, "Block %d (%.1fs-%.1fs, %d segments):\n", in.Block.Index+1, start, end, len(in.Block.Segments))
	} else {
		fmt.Fprintf(&b, "Block %d:\n", in.Block.Index+1)
	}
	b.WriteString(in.Block.RenderWithAlternatives())
	b.WriteString("\n\n")

	if in.QualityHint != "" {
		fmt.Fprintf(&b, "Audio quality: %s\n\n", in.QualityHint)
	}

	writeTools(&b, in.Tools)
	fmt.Fprintf(&b, "Response language: %s\n", LanguageName(in.Language))
	return b.String()
}

func writeTools(b *strings.Builder, specs []tools.Spec) {
	if len(specs) == 0 {
		b.WriteString("No tools are available for this block.\n\n")
		return
	}
	b.WriteString("Available tools:\n")
	for _, s := range specs {
		fmt.Fprintf(b, "- %s: %s", s.Signature(), s.Description)
		if s.UseFor != "" {
			fmt.Fprintf(b, " Use for: %s", s.UseFor)
		}
		b.WriteByte('\n')
		for _, p := range s.Params {
			fmt.Fprintf(b, "    %s (%s): %s\n", p.Name, p.Type, p.Description)
		}
	}
	b.WriteByte('\n')
}

// FollowupInput is the state carried into a follow-up prompt.
type FollowupInput struct {
	// Reasoning is the accumulated reasoning of all previous iterations.
	Reasoning string

	// Results are the tool results of the previous iteration, in request order.
	Results []tools.Result

	// Iteration is the 1-based number of the iteration being prompted.
	Iteration int

	// MaxIterations is the loop bound.
	MaxIterations int

	Language string
}

// Final reports whether the prompted iteration is the last one.
func (f FollowupInput) Final() bool {
	return f.Iteration >= f.MaxIterations
}

// Followup renders the prompt that feeds tool results back to the model.
func Followup(f FollowupInput) string {
	var b strings.Builder
	if r := strings.TrimSpace(f.Reasoning); r != "" {
		fmt.Fprintf(&b, "Your analysis so far:\n%s\n\n", r)
	}
	if len(f.Results) > 0 {
		b.WriteString("Tool results:\n")
		for _, r := range f.Results {
			fmt.Fprintf(&b, "- %s\n", r.Render())
		}
		b.WriteByte('\n')
	} else {
		b.WriteString("No tool results were produced.\n\n")
	}

	fmt.Fprintf(&b, "This is iteration %d of %d. ", f.Iteration, f.MaxIterations)
	if f.Final() {
		b.WriteString("Tools can no longer be used. Give your final corrections now, or an empty list if the block is correct.\n")
	} else {
		b.WriteString("Propose corrections, or request more tools if the evidence is still unclear.\n")
	}
	fmt.Fprintf(&b, "Response language: %s\n", LanguageName(f.Language))
	return b.String()
}

// Clarification renders the prompt asking the model to narrow an ambiguous
// correction down to a snippet that occurs exactly once in text.
func Clarification(c transcript.Correction, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The correction %q cannot be applied because %q occurs more than once in the text below.\n\n", c.ID, c.Original)
	fmt.Fprintf(&b, "Correction: %q -> %q\n\n", c.Original, c.Replacement)
	fmt.Fprintf(&b, "Text:\n%s\n\n", text)
	b.WriteString(`Quote a longer stretch of the text that contains the occurrence you meant, copied exactly, so that it occurs only once.
Respond with ONLY a JSON object:
{"specificText": "exact text containing the intended occurrence"}
If you cannot tell which occurrence you meant, respond with:
{"specificText": null, "reason": "why"}`)
	return b.String()
}
