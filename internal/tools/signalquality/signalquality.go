// Package signalquality implements the signalQualityAssessor tool. It
// estimates the signal-to-noise ratio of a stretch of the source recording so
// the model can decide how aggressively to correct it: noisy audio produces
// more recognition errors and warrants a lower confidence threshold.
//
// The SNR is measured on PCM or float WAV audio: the segment is cut into 20 ms
// frames, the noise floor is the RMS of the quietest tenth of the frames, and
// the signal is the RMS of the whole segment. When no audio is available the
// assessor falls back to a coarse estimate from the segment duration.
package signalquality

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/scribefix/internal/tools"
)

// ToolName is the name the model uses to call the assessor.
const ToolName = "signalQualityAssessor"

// Methods reported in [Assessment.Method].
const (
	MethodMeasured = "measured"
	MethodDuration = "duration_fallback"
)

const (
	frameDuration = 0.02
	noiseFraction = 0.1

	// maxSNR is reported when the noise floor is digital silence.
	maxSNR = 60.0

	clipLevel = 0.999
)

// Assessment is the outcome of one signal-quality probe.
type Assessment struct {
	SNR         float64
	Category    string
	Reliability string

	// Threshold is the suggested minimum confidence for applying
	// corrections to this stretch of audio.
	Threshold float64

	Method   string
	Duration float64

	// SampleRate is zero for duration-based estimates.
	SampleRate int

	// ClippingRatio is the fraction of samples at full scale.
	ClippingRatio float64

	// Note explains a fallback estimate.
	Note string
}

// Summary renders the assessment as a single line for the prompt.
func (a Assessment) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "SNR %.1f dB (%s, reliability %s); suggested confidence threshold %.2f; %.2fs",
		a.SNR, a.Category, a.Reliability, a.Threshold, a.Duration)
	if a.Method == MethodDuration {
		b.WriteString("; estimated from duration")
		if a.Note != "" {
			b.WriteString(" (" + a.Note + ")")
		}
	}
	if a.ClippingRatio > 0.001 {
		fmt.Fprintf(&b, "; clipping %.1f%%", a.ClippingRatio*100)
	}
	return b.String()
}

// Classify maps an SNR in dB to a quality category, a reliability label and a
// suggested confidence threshold.
func Classify(snr float64) (category, reliability string, threshold float64) {
	switch {
	case snr >= 30:
		return "excellent", "very_high", 0.9
	case snr >= 20:
		return "good", "high", 0.8
	case snr >= 15:
		return "fair", "medium", 0.7
	case snr >= 10:
		return "poor", "low", 0.6
	default:
		return "very_poor", "very_low", 0.5
	}
}

// DurationEstimate is the fallback used when the audio cannot be read. Very
// short segments are error-prone; long ones vary more.
func DurationEstimate(start, end float64, note string) Assessment {
	d := end - start
	a := Assessment{
		SNR:         15,
		Category:    "unknown",
		Reliability: "medium",
		Threshold:   0.7,
		Method:      MethodDuration,
		Duration:    d,
		Note:        note,
	}
	switch {
	case d < 1:
		a.SNR, a.Category, a.Reliability = 12, "poor", "low"
	case d > 10:
		a.SNR, a.Category, a.Reliability = 18, "fair", "medium"
	}
	return a
}

// Assessor measures signal quality of the file named by [tools.Context].
// It is safe for concurrent use.
type Assessor struct {
	timeout time.Duration
}

// Option configures an [Assessor].
type Option func(*Assessor)

// WithTimeout sets the tool's MaxDuration. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(a *Assessor) { a.timeout = d }
}

// New returns an Assessor.
func New(opts ...Option) *Assessor {
	a := &Assessor{timeout: 30 * time.Second}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assess measures the segment between start and end seconds of the WAV file
// at path. Unreadable or missing audio degrades to [DurationEstimate]; only
// an invalid time range is an error.
func (a *Assessor) Assess(ctx context.Context, path string, start, end float64) (Assessment, error) {
	if err := validateRange(start, end); err != nil {
		return Assessment{}, err
	}
	if path == "" {
		return DurationEstimate(start, end, "no audio file"), nil
	}
	samples, rate, err := loadSegment(path, start, end)
	if err != nil {
		note := "audio unreadable"
		if errors.Is(err, fs.ErrNotExist) {
			note = "audio file not found"
		}
		return DurationEstimate(start, end, note), nil
	}
	if err := ctx.Err(); err != nil {
		return Assessment{}, err
	}
	return measure(samples, rate), nil
}

// Spec implements [tools.Tool].
func (a *Assessor) Spec() tools.Spec {
	return tools.Spec{
		Name:        ToolName,
		Description: "Estimates the signal-to-noise ratio of the recording between two timestamps.",
		Params: []tools.Param{
			{Name: "startTime", Type: "number", Description: "start of the range in seconds"},
			{Name: "endTime", Type: "number", Description: "end of the range in seconds"},
		},
		UseFor:      "deciding how much to trust the transcript in a noisy passage",
		MaxDuration: a.timeout,
	}
}

// Execute implements [tools.Tool].
func (a *Assessor) Execute(ctx context.Context, params map[string]any, tc tools.Context) (string, error) {
	start, err := tools.FloatParam(params, "startTime")
	if err != nil {
		return "", err
	}
	end, err := tools.FloatParam(params, "endTime")
	if err != nil {
		return "", err
	}
	res, err := a.Assess(ctx, tc.AudioPath, start, end)
	if err != nil {
		return "", err
	}
	return res.Summary(), nil
}

var _ tools.Tool = (*Assessor)(nil)

func validateRange(start, end float64) error {
	if start < 0 {
		return fmt.Errorf("invalid startTime %.2f: must be >= 0", start)
	}
	if end <= start {
		return fmt.Errorf("invalid time range: endTime %.2f must be greater than startTime %.2f", end, start)
	}
	return nil
}

func loadSegment(path string, start, end float64) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	info, err := readWAVInfo(f)
	if err != nil {
		return nil, 0, fmt.Errorf("signalquality: %s: %w", path, err)
	}
	samples, err := readMono(f, info, start, end)
	if err != nil {
		return nil, 0, fmt.Errorf("signalquality: %s: %w", path, err)
	}
	return samples, info.SampleRate, nil
}

// measure computes the SNR of mono samples in [-1, 1].
func measure(samples []float64, rate int) Assessment {
	var sumSq float64
	var clipped int
	for _, s := range samples {
		sumSq += s * s
		if math.Abs(s) >= clipLevel {
			clipped++
		}
	}
	signal := math.Sqrt(sumSq / float64(len(samples)))

	frameLen := max(1, int(frameDuration*float64(rate)))
	var frames []float64
	for i := 0; i < len(samples); i += frameLen {
		frames = append(frames, rms(samples[i:min(i+frameLen, len(samples))]))
	}
	slices.Sort(frames)
	quiet := frames[:max(1, int(noiseFraction*float64(len(frames))))]
	var noiseSq float64
	for _, f := range quiet {
		noiseSq += f * f
	}
	noise := math.Sqrt(noiseSq / float64(len(quiet)))

	var snr float64
	switch {
	case signal == 0:
		snr = 0
	case noise == 0:
		snr = maxSNR
	default:
		snr = min(20*math.Log10(signal/noise), maxSNR)
	}

	cat, rel, thr := Classify(snr)
	return Assessment{
		SNR:           snr,
		Category:      cat,
		Reliability:   rel,
		Threshold:     thr,
		Method:        MethodMeasured,
		Duration:      float64(len(samples)) / float64(rate),
		SampleRate:    rate,
		ClippingRatio: float64(clipped) / float64(len(samples)),
	}
}

func rms(s []float64) float64 {
	var sum float64
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(s)))
}
