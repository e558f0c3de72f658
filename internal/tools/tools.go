// Package tools defines the capability tools the analysis loop can ask for and
// the [Dispatcher] that runs them.
//
// A [Tool] pairs a model-facing [Spec] with an Execute function. Built-in tools
// live in the sub-packages (phonetic, signalquality, websearch, asralt); tools
// served by external MCP servers are adapted by the mcphost sub-package. All of
// them are registered with a Dispatcher, which is the only thing the loop sees.
//
// Tool results are compact, human-readable summaries meant to be pasted into a
// follow-up prompt. A tool never fails the block: errors are reported inline
// in the [Result].
package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/scribefix/internal/transcript"
)

// ErrUnavailable is returned by a tool that cannot serve requests at all, for
// example when the audio file or an external service is missing. The
// dispatcher reports it as an unavailable result rather than an error.
var ErrUnavailable = errors.New("tool unavailable")

// Param describes one tool parameter for the prompt.
type Param struct {
	Name        string
	Type        string
	Description string
}

// Spec is the model-facing description of a tool.
type Spec struct {
	// Name is the identifier the model uses in tool requests.
	Name string

	// Description says what the tool does, in one sentence.
	Description string

	// Params lists the accepted parameters in prompt order.
	Params []Param

	// UseFor is a short hint on when the tool is worth calling.
	UseFor string

	// MaxDuration bounds a single execution. Zero means no tool-specific
	// limit; the caller's context still applies.
	MaxDuration time.Duration

	// CacheTTL enables result caching when a [Cache] is configured. Zero
	// disables caching for the tool.
	CacheTTL time.Duration
}

// Signature renders the spec as "name{a,b}".
func (s Spec) Signature() string {
	names := make([]string, len(s.Params))
	for i, p := range s.Params {
		names[i] = p.Name
	}
	return s.Name + "{" + strings.Join(names, ",") + "}"
}

// Context carries the per-file data tools may need. It is read-only.
type Context struct {
	// FileID identifies the transcript being corrected.
	FileID string

	// AudioPath is the local path of the source recording. Empty when no
	// audio is available.
	AudioPath string

	// Language is the ISO 639-1 code of the transcript language.
	Language string

	// Segments is the full segment list of the file.
	Segments []transcript.Segment
}

// Segment returns the segment with the given index.
func (c Context) Segment(index int) (transcript.Segment, bool) {
	if index >= 0 && index < len(c.Segments) && c.Segments[index].Index == index {
		return c.Segments[index], true
	}
	for _, s := range c.Segments {
		if s.Index == index {
			return s, true
		}
	}
	return transcript.Segment{}, false
}

// Tool is a capability the analysis loop can call.
//
// Execute must validate params itself and return a descriptive error for bad
// input. It must respect ctx and be safe for concurrent use.
type Tool interface {
	Spec() Spec
	Execute(ctx context.Context, params map[string]any, tc Context) (string, error)
}

// Func adapts a spec and a function to the [Tool] interface.
type Func struct {
	S  Spec
	Fn func(ctx context.Context, params map[string]any, tc Context) (string, error)
}

// Spec implements [Tool].
func (f Func) Spec() Spec { return f.S }

// Execute implements [Tool].
func (f Func) Execute(ctx context.Context, params map[string]any, tc Context) (string, error) {
	return f.Fn(ctx, params, tc)
}

var _ Tool = Func{}

// Request is one tool call requested by the model.
type Request struct {
	Tool      string         `json:"tool"`
	Params    map[string]any `json:"params"`
	Rationale string         `json:"rationale,omitempty"`
}

// Result is the outcome of one dispatched [Request].
type Result struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`

	// Summary is the tool output when the call succeeded.
	Summary string `json:"summary,omitempty"`

	// Error describes why the call failed.
	Error string `json:"error,omitempty"`

	// Unavailable is set when the tool is unknown or cannot serve requests.
	Unavailable bool `json:"unavailable,omitempty"`

	// Cached is set when Summary came from the result cache.
	Cached bool `json:"cached,omitempty"`

	Duration time.Duration `json:"duration"`
}

// OK reports whether the call produced a summary.
func (r Result) OK() bool { return r.Error == "" && !r.Unavailable }

// Render formats the result as a single prompt line.
func (r Result) Render() string {
	switch {
	case r.Unavailable:
		if r.Error != "" {
			return fmt.Sprintf("%s: unavailable (%s)", r.Tool, r.Error)
		}
		return r.Tool + ": unavailable"
	case r.Error != "":
		return fmt.Sprintf("%s: error: %s", r.Tool, r.Error)
	default:
		return r.Tool + ": " + r.Summary
	}
}

// Cache stores tool summaries keyed by an opaque string.
//
// Get reports ok=false on a miss. Implementations must be safe for concurrent
// use.
type Cache interface {
	Get(ctx context.Context, key string) (summary string, ok bool, err error)
	Set(ctx context.Context, key, summary string, ttl time.Duration) error
}

// ── Parameter helpers ──────────────────────────────────────────────────────

// StringParam returns params[name] as a non-empty, trimmed string.
func StringParam(params map[string]any, name string) (string, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return "", fmt.Errorf("missing parameter %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string, got %T", name, v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("parameter %q must not be empty", name)
	}
	return s, nil
}

// OptionalStringParam returns params[name] as a trimmed string, or def when
// the parameter is absent or empty.
func OptionalStringParam(params map[string]any, name, def string) string {
	s, err := StringParam(params, name)
	if err != nil {
		return def
	}
	return s
}

// FloatParam returns params[name] as a finite float64. Numeric strings are
// accepted because models often quote numbers.
func FloatParam(params map[string]any, name string) (float64, error) {
	v, ok := params[name]
	if !ok || v == nil {
		return 0, fmt.Errorf("missing parameter %q", name)
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("parameter %q must be a number, got %q", name, n)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("parameter %q must be a number, got %T", name, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parameter %q must be finite", name)
	}
	return f, nil
}

// IntParam returns params[name] as an int. Fractional values are rejected.
func IntParam(params map[string]any, name string) (int, error) {
	f, err := FloatParam(params, name)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("parameter %q must be an integer, got %v", name, f)
	}
	return int(f), nil
}
