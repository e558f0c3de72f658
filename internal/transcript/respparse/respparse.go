// Package respparse recovers JSON values from free-form language model output.
//
// Models are asked for JSON but routinely wrap it in prose or markdown fences,
// use smart quotes, leave trailing commas, or add comments. [Parse] tries a
// fixed sequence of strategies, cheapest first, and records every repair it
// applied so the caller can log what was changed:
//
//  1. direct: the trimmed text parses as-is.
//  2. extraction: markdown fences are stripped and the largest balanced
//     {...} or [...] span that parses is used.
//  3. repair: deterministic text fixes, then direct parse and extraction again.
//  4. array: a top-level array cut off mid-element (typically by the output
//     token limit) is closed after its last complete element. The salvaged
//     array competes with the balanced spans of steps 2 and 3 and wins when
//     it is the longest candidate.
//
// Parse never panics. On failure the [Result] carries a diagnostic that
// [Diagnostic] turns into a correction prompt for the model.
package respparse

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Strategy names reported in [Result.Strategy].
const (
	StrategyDirect     = "direct"
	StrategyExtraction = "extraction"
	StrategyRepair     = "repair"
	StrategyArray      = "array"
)

// Result is the outcome of [Parse].
type Result struct {
	// Success reports whether a JSON object or array was recovered.
	Success bool

	// Data is the decoded value: map[string]any or []any.
	Data any

	// Extracted is the JSON text Data was decoded from.
	Extracted string

	// Strategy names the strategy that succeeded.
	Strategy string

	// FixesApplied lists the repairs applied, in order.
	FixesApplied []string

	// Err describes the last parse error when Success is false.
	Err string
}

// Parse recovers a JSON object or array from raw model output.
func Parse(raw string) Result {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Result{Err: "empty response"}
	}

	// 1. Direct.
	v, lastErr := decodeComposite(text)
	if lastErr == nil {
		return Result{Success: true, Data: v, Extracted: text, Strategy: StrategyDirect}
	}

	// 2. Extraction.
	var fixes []string
	base := text
	if stripped, ok := stripFences(text); ok {
		base = stripped
		fixes = append(fixes, "stripped markdown code fence")
		if v, err := decodeComposite(base); err == nil {
			return Result{Success: true, Data: v, Extracted: base, Strategy: StrategyExtraction, FixesApplied: fixes}
		}
	}
	v, span, salvaged, err := extract(base)
	if err == nil {
		return extracted(v, span, salvaged, StrategyExtraction, fixes)
	}
	if !errors.Is(err, errNoCandidate) {
		lastErr = err
	}

	// 3. Repair.
	repaired := base
	for _, f := range repairs {
		if out := f.apply(repaired); out != repaired {
			repaired = out
			fixes = append(fixes, f.name)
		}
	}
	if repaired != base {
		v, err := decodeComposite(repaired)
		if err == nil {
			return Result{Success: true, Data: v, Extracted: repaired, Strategy: StrategyRepair, FixesApplied: fixes}
		}
		lastErr = err
		if v, span, salvaged, err := extract(repaired); err == nil {
			return extracted(v, span, salvaged, StrategyRepair, fixes)
		}
	}

	return Result{FixesApplied: fixes, Err: lastErr.Error()}
}

// Decode parses raw with [Parse] and unmarshals the recovered JSON into T.
func Decode[T any](raw string) (T, Result, error) {
	var out T
	res := Parse(raw)
	if !res.Success {
		return out, res, fmt.Errorf("respparse: %s", res.Err)
	}
	if err := json.Unmarshal([]byte(res.Extracted), &out); err != nil {
		return out, res, fmt.Errorf("respparse: decode %T: %w", out, err)
	}
	return out, res, nil
}

// ValidateStructure checks that data is a JSON object containing every key in
// required. Only top-level keys are checked.
func ValidateStructure(data any, required ...string) error {
	obj, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("respparse: expected a JSON object, got %s", jsonKind(data))
	}
	var missing []string
	for _, k := range required {
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("respparse: missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

var errNoCandidate = errors.New("no JSON object or array found")

// decodeComposite decodes s and accepts only objects and arrays.
func decodeComposite(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	default:
		return nil, fmt.Errorf("expected a JSON object or array, got %s", jsonKind(v))
	}
}

func extracted(v any, span string, salvaged bool, strategy string, fixes []string) Result {
	if salvaged {
		strategy = StrategyArray
		fixes = append(fixes, "closed truncated array")
	}
	return Result{Success: true, Data: v, Extracted: span, Strategy: strategy, FixesApplied: fixes}
}

// extract tries balanced {...} and [...] spans of s and a salvaged truncated
// array, longest first. salvaged reports whether the truncated array won.
func extract(s string) (v any, span string, salvaged bool, err error) {
	candidates := append(balancedSpans(s, '{', '}'), balancedSpans(s, '[', ']')...)
	rescued, hasRescued := salvageArray(s)
	if hasRescued {
		candidates = append(candidates, rescued)
	}
	if len(candidates) == 0 {
		return nil, "", false, errNoCandidate
	}
	slices.SortStableFunc(candidates, func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})
	for _, c := range candidates {
		v, err = decodeComposite(c)
		if err == nil {
			return v, c, hasRescued && c == rescued, nil
		}
	}
	return nil, "", false, err
}

// salvageArray finds the first top-level array in s that is never closed and
// returns it cut after its last complete element and closed with "]".
func salvageArray(s string) (string, bool) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", false
	}
	var (
		depth, lastEnd int
		inStr, escape  bool
	)
	lastEnd = -1
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			switch {
			case depth == 0:
				// The array is complete; nothing to salvage.
				return "", false
			case depth == 1:
				lastEnd = i
			}
		}
	}
	if lastEnd < 0 {
		return "", false
	}
	return s[start:lastEnd+1] + "]", true
}

// balancedSpans returns every top-level span of s that starts with open and
// ends with the matching close. Brackets inside JSON strings are ignored. An
// opening bracket that is never closed is skipped and the scan resumes just
// after it.
func balancedSpans(s string, open, close byte) []string {
	var spans []string
	for from := 0; from < len(s); {
		span, next, ok := nextSpan(s, from, open, close)
		if next < 0 {
			break
		}
		if ok {
			spans = append(spans, span)
		}
		from = next
	}
	return spans
}

// nextSpan scans s from the first open at or after from. It returns the
// balanced span and the index after it, or ok=false with the index after the
// unclosed open. next is -1 when no open remains.
func nextSpan(s string, from int, open, close byte) (span string, next int, ok bool) {
	start := strings.IndexByte(s[from:], open)
	if start < 0 {
		return "", -1, false
	}
	start += from

	var (
		depth         int
		inStr, escape bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], i + 1, true
			}
		}
	}
	return "", start + 1, false
}

// stripFences returns the contents of the first markdown code fence in s. An
// unterminated fence is stripped from its opening line onwards.
func stripFences(s string) (string, bool) {
	open := strings.Index(s, "```")
	if open < 0 {
		return s, false
	}
	body := s[open+3:]
	// Drop the info string ("json", "JSON", ...).
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body), true
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64, json.Number:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
