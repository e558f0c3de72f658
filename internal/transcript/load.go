package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// segmentRecord is the on-disk form of a segment. It accepts the resolved
// speakerLabel as well as the raw speakerName/speakerTag pair.
type segmentRecord struct {
	Text         string        `json:"text"`
	StartTime    float64       `json:"startTime"`
	EndTime      float64       `json:"endTime"`
	SpeakerLabel string        `json:"speakerLabel"`
	SpeakerName  string        `json:"speakerName"`
	SpeakerTag   string        `json:"speakerTag"`
	Alternatives []Alternative `json:"alternatives"`
}

type segmentFile struct {
	FileID   string          `json:"fileId"`
	Segments []segmentRecord `json:"segments"`
}

// LoadSegmentsFile reads segments from a JSON file. See [LoadSegments].
func LoadSegmentsFile(path string) (fileID string, segments []Segment, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("transcript: open segments: %w", err)
	}
	defer f.Close()
	return LoadSegments(f)
}

// LoadSegments decodes a segment list. The input is either a JSON array of
// segments or an object {"fileId": "...", "segments": [...]}. Segment indices
// are assigned from input order; fileID is empty for the array form.
func LoadSegments(r io.Reader) (fileID string, segments []Segment, err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, fmt.Errorf("transcript: read segments: %w", err)
	}
	data = bytes.TrimSpace(data)

	var records []segmentRecord
	switch {
	case len(data) == 0:
		return "", nil, errors.New("transcript: segments input is empty")
	case data[0] == '[':
		if err := json.Unmarshal(data, &records); err != nil {
			return "", nil, fmt.Errorf("transcript: decode segments: %w", err)
		}
	default:
		var sf segmentFile
		if err := json.Unmarshal(data, &sf); err != nil {
			return "", nil, fmt.Errorf("transcript: decode segments: %w", err)
		}
		fileID, records = sf.FileID, sf.Segments
	}

	segments = make([]Segment, len(records))
	var errs []error
	for i, rec := range records {
		if rec.EndTime < rec.StartTime {
			errs = append(errs, fmt.Errorf("segment %d: endTime %.3f before startTime %.3f", i, rec.EndTime, rec.StartTime))
		}
		label := strings.TrimSpace(rec.SpeakerLabel)
		if label == "" {
			label = ResolveSpeakerLabel(strings.TrimSpace(rec.SpeakerName), strings.TrimSpace(rec.SpeakerTag))
		}
		segments[i] = Segment{
			Index:        i,
			Text:         strings.TrimSpace(rec.Text),
			StartTime:    rec.StartTime,
			EndTime:      rec.EndTime,
			SpeakerLabel: label,
			Alternatives: rec.Alternatives,
		}
	}
	if err := errors.Join(errs...); err != nil {
		return "", nil, fmt.Errorf("transcript: invalid segments: %w", err)
	}
	return fileID, segments, nil
}
