package signalquality

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// WAV format tags.
const (
	formatPCM        = 1
	formatIEEEFloat  = 3
	formatExtensible = 0xFFFE
)

// wavInfo holds the format metadata extracted from a RIFF/WAVE header.
type wavInfo struct {
	Format        int
	Channels      int
	SampleRate    int
	BitsPerSample int
	DataOffset    int64 // byte offset of the first sample frame
	DataSize      int64 // size of the data chunk in bytes
}

// frameSize is the size of one sample frame (all channels) in bytes.
func (w wavInfo) frameSize() int {
	return w.Channels * w.BitsPerSample / 8
}

// Duration returns the length of the audio.
func (w wavInfo) Duration() float64 {
	fs := w.frameSize()
	if fs == 0 || w.SampleRate == 0 {
		return 0
	}
	return float64(w.DataSize/int64(fs)) / float64(w.SampleRate)
}

// readWAVInfo walks the RIFF chunks of r until it finds the data chunk.
// Chunks are word-aligned, so odd-sized chunks carry one pad byte.
func readWAVInfo(r io.ReadSeeker) (wavInfo, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return wavInfo{}, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("not a RIFF/WAVE file")
	}

	var (
		info     wavInfo
		foundFmt bool
		offset   int64 = 12
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return wavInfo{}, errors.New("missing data chunk")
		}
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))
		offset += 8

		switch id {
		case "fmt ":
			if size < 16 {
				return wavInfo{}, fmt.Errorf("fmt chunk too short (%d bytes)", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return wavInfo{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			info.Format = int(binary.LittleEndian.Uint16(body[0:2]))
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			if info.Format == formatExtensible && size >= 26 {
				// The sub-format GUID starts with the actual format tag.
				info.Format = int(binary.LittleEndian.Uint16(body[24:26]))
			}
			foundFmt = true
			offset += size
			if size%2 != 0 {
				if _, err := r.Seek(1, io.SeekCurrent); err != nil {
					return wavInfo{}, err
				}
				offset++
			}
			continue
		case "data":
			if !foundFmt {
				return wavInfo{}, errors.New("data chunk before fmt chunk")
			}
			info.DataOffset = offset
			info.DataSize = size
			return info, info.validate()
		}

		skip := size + size%2
		if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
			return wavInfo{}, err
		}
		offset += skip
	}
}

func (w wavInfo) validate() error {
	switch {
	case w.Channels < 1:
		return fmt.Errorf("invalid channel count %d", w.Channels)
	case w.SampleRate < 1:
		return fmt.Errorf("invalid sample rate %d", w.SampleRate)
	}
	switch w.Format {
	case formatPCM:
		switch w.BitsPerSample {
		case 8, 16, 24, 32:
			return nil
		}
	case formatIEEEFloat:
		if w.BitsPerSample == 32 {
			return nil
		}
	}
	return fmt.Errorf("unsupported sample format %d with %d bits", w.Format, w.BitsPerSample)
}

// readMono reads the frames between start and end seconds, mixes channels to
// mono and normalises samples to [-1, 1]. The range is clipped to the audio.
func readMono(r io.ReadSeeker, info wavInfo, start, end float64) ([]float64, error) {
	fs := int64(info.frameSize())
	total := info.DataSize / fs
	first := min(int64(start*float64(info.SampleRate)), total)
	last := min(int64(math.Ceil(end*float64(info.SampleRate))), total)
	if last <= first {
		return nil, fmt.Errorf("time range %.2fs-%.2fs is beyond the end of the audio (%.2fs)", start, end, info.Duration())
	}

	if _, err := r.Seek(info.DataOffset+first*fs, io.SeekStart); err != nil {
		return nil, err
	}
	raw := make([]byte, (last-first)*fs)
	n, err := io.ReadFull(r, raw)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	raw = raw[:int64(n)/fs*fs]

	bps := info.BitsPerSample / 8
	out := make([]float64, 0, len(raw)/int(fs))
	for frame := 0; frame+int(fs) <= len(raw); frame += int(fs) {
		var sum float64
		for ch := range info.Channels {
			sum += decodeSample(raw[frame+ch*bps:frame+(ch+1)*bps], info.Format)
		}
		out = append(out, sum/float64(info.Channels))
	}
	return out, nil
}

// decodeSample converts one little-endian sample to [-1, 1].
func decodeSample(b []byte, format int) float64 {
	switch len(b) {
	case 1:
		// 8-bit PCM is unsigned.
		return (float64(b[0]) - 128) / 128
	case 2:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768
	case 3:
		v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
		return float64(v) / 8388608
	case 4:
		u := binary.LittleEndian.Uint32(b)
		if format == formatIEEEFloat {
			return float64(math.Float32frombits(u))
		}
		return float64(int32(u)) / 2147483648
	}
	return 0
}
