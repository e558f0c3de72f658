package signalquality

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/scribefix/internal/tools"
)

// encodeWAV wraps 16-bit mono PCM samples in [-1, 1] in a RIFF/WAV container.
// An odd-sized LIST chunk precedes the data to exercise chunk skipping.
func encodeWAV(samples []float64, sampleRate int) []byte {
	pcm := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(s*32767)))
	}
	list := []byte("LIST\x03\x00\x00\x00abc\x00")

	buf := make([]byte, 36, 36+len(list)+8+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(28+len(list)+8+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	buf = append(buf, list...)
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(pcm)))
	return append(buf, pcm...)
}

func writeWAV(t *testing.T, samples []float64, rate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(path, encodeWAV(samples, rate), 0o600); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	return path
}

// quietThenTone returns 0.2s of a faint noise floor followed by 0.8s of a
// 440 Hz tone at half scale.
func quietThenTone(rate int) []float64 {
	out := make([]float64, rate)
	for i := range out {
		if i < rate/5 {
			if i%2 == 0 {
				out[i] = 0.001
			} else {
				out[i] = -0.001
			}
			continue
		}
		out[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate))
	}
	return out
}

func TestAssess_Measured(t *testing.T) {
	t.Parallel()

	const rate = 8000
	path := writeWAV(t, quietThenTone(rate), rate)

	got, err := New().Assess(context.Background(), path, 0, 1)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if got.Method != MethodMeasured {
		t.Fatalf("Method = %q, want %q", got.Method, MethodMeasured)
	}
	if got.SNR < 40 {
		t.Errorf("SNR = %.1f, want >= 40", got.SNR)
	}
	if got.Category != "excellent" {
		t.Errorf("Category = %q, want excellent", got.Category)
	}
	if got.SampleRate != rate {
		t.Errorf("SampleRate = %d, want %d", got.SampleRate, rate)
	}
	if math.Abs(got.Duration-1) > 0.01 {
		t.Errorf("Duration = %.3f, want 1", got.Duration)
	}
}

func TestAssess_Noise(t *testing.T) {
	t.Parallel()

	const rate = 8000
	samples := make([]float64, rate)
	for i := range samples {
		samples[i] = 0.3
		if i%2 == 1 {
			samples[i] = -0.3
		}
	}
	path := writeWAV(t, samples, rate)

	got, err := New().Assess(context.Background(), path, 0.25, 0.75)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if got.SNR > 1 {
		t.Errorf("SNR = %.2f, want ~0 for a flat signal", got.SNR)
	}
	if got.Category != "very_poor" || got.Threshold != 0.5 {
		t.Errorf("got %s / %.1f, want very_poor / 0.5", got.Category, got.Threshold)
	}
	if math.Abs(got.Duration-0.5) > 0.01 {
		t.Errorf("Duration = %.3f, want 0.5", got.Duration)
	}
}

func TestAssess_Fallback(t *testing.T) {
	t.Parallel()

	const rate = 8000
	short := writeWAV(t, quietThenTone(rate), rate)
	missing := filepath.Join(t.TempDir(), "missing.wav")

	tests := []struct {
		name     string
		path     string
		start    float64
		end      float64
		wantSNR  float64
		wantCat  string
		wantNote string
	}{
		{"no path short", "", 0, 0.5, 12, "poor", "no audio file"},
		{"no path medium", "", 0, 5, 15, "unknown", "no audio file"},
		{"no path long", "", 10, 25, 18, "fair", "no audio file"},
		{"missing file", missing, 0, 2, 15, "unknown", "audio file not found"},
		{"beyond end", short, 5, 6, 15, "unknown", "audio unreadable"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := New().Assess(context.Background(), tc.path, tc.start, tc.end)
			if err != nil {
				t.Fatalf("Assess: %v", err)
			}
			if got.Method != MethodDuration {
				t.Errorf("Method = %q, want %q", got.Method, MethodDuration)
			}
			if got.SNR != tc.wantSNR || got.Category != tc.wantCat {
				t.Errorf("got %.0f dB %s, want %.0f dB %s", got.SNR, got.Category, tc.wantSNR, tc.wantCat)
			}
			if got.Threshold != 0.7 {
				t.Errorf("Threshold = %.2f, want 0.7", got.Threshold)
			}
			if got.Note != tc.wantNote {
				t.Errorf("Note = %q, want %q", got.Note, tc.wantNote)
			}
		})
	}
}

func TestAssess_InvalidRange(t *testing.T) {
	t.Parallel()

	for _, r := range [][2]float64{{-1, 2}, {3, 3}, {4, 2}} {
		if _, err := New().Assess(context.Background(), "", r[0], r[1]); err == nil {
			t.Errorf("Assess(%v, %v): expected error", r[0], r[1])
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		snr     float64
		wantCat string
		wantThr float64
	}{
		{35, "excellent", 0.9},
		{30, "excellent", 0.9},
		{25, "good", 0.8},
		{15, "fair", 0.7},
		{12, "poor", 0.6},
		{3, "very_poor", 0.5},
	}
	for _, tc := range tests {
		cat, _, thr := Classify(tc.snr)
		if cat != tc.wantCat || thr != tc.wantThr {
			t.Errorf("Classify(%v) = %s/%.1f, want %s/%.1f", tc.snr, cat, thr, tc.wantCat, tc.wantThr)
		}
	}
}

func TestDecodeSample(t *testing.T) {
	t.Parallel()

	f32 := make([]byte, 4)
	binary.LittleEndian.PutUint32(f32, math.Float32bits(-0.25))

	tests := []struct {
		name   string
		b      []byte
		format int
		want   float64
	}{
		{"8-bit midpoint", []byte{128}, formatPCM, 0},
		{"8-bit min", []byte{0}, formatPCM, -1},
		{"16-bit half", []byte{0x00, 0x40}, formatPCM, 0.5},
		{"24-bit negative half", []byte{0x00, 0x00, 0xC0}, formatPCM, -0.5},
		{"float", f32, formatIEEEFloat, -0.25},
	}
	for _, tc := range tests {
		if got := decodeSample(tc.b, tc.format); got != tc.want {
			t.Errorf("%s: decodeSample = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExecute(t *testing.T) {
	t.Parallel()

	a := New()
	out, err := a.Execute(context.Background(), map[string]any{"startTime": 0.0, "endTime": 4.0}, tools.Context{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out, "SNR 15.0 dB (unknown") || !strings.Contains(out, "estimated from duration") {
		t.Errorf("summary = %q", out)
	}

	if _, err := a.Execute(context.Background(), map[string]any{"startTime": 1.0}, tools.Context{}); err == nil {
		t.Error("expected error for missing endTime")
	}
	if _, err := a.Execute(context.Background(), map[string]any{"startTime": 2.0, "endTime": 1.0}, tools.Context{}); err == nil {
		t.Error("expected error for reversed range")
	}
}
