package audio

import (
	"fmt"
	"strings"
)

// Segment owns a contiguous, ordered run of CanonicalFrames belonging to one
// speech burst, as produced by the VAD segmenter.
type Segment struct {
	SessionID     string
	CorrelationID string
	SpeakerID     string
	LanguageHint  string
	StartMS       int64
	EndMS         int64
	Frames        []CanonicalFrame
}

// NewSegment validates frame contiguity and duration before returning a Segment.
func NewSegment(sessionID, correlationID string, startMS int64, frames []CanonicalFrame) (Segment, error) {
	if len(frames) == 0 {
		return Segment{}, fmt.Errorf("segment: no frames")
	}
	for i := 1; i < len(frames); i++ {
		if frames[i].Seq() != frames[i-1].Seq()+1 {
			return Segment{}, fmt.Errorf("segment: frames not contiguous at index %d (seq %d after %d)", i, frames[i].Seq(), frames[i-1].Seq())
		}
	}
	endMS := startMS + int64(len(frames)*FrameMS)
	return Segment{
		SessionID:     sessionID,
		CorrelationID: correlationID,
		StartMS:       startMS,
		EndMS:         endMS,
		Frames:        frames,
	}, nil
}

// DurationMS returns frames(s)*20, the invariant duration.
func (s Segment) DurationMS() int64 { return int64(len(s.Frames) * FrameMS) }

// Samples flattens the segment's frames into one contiguous sample slice.
func (s Segment) Samples() []float32 {
	out := make([]float32, 0, len(s.Frames)*SamplesPerFrame)
	for _, f := range s.Frames {
		out = append(out, f.Samples()...)
	}
	return out
}

// ProcessedStatus is the outcome of running STT over a Segment.
type ProcessedStatus string

const (
	StatusOK     ProcessedStatus = "ok"
	StatusEmpty  ProcessedStatus = "empty"
	StatusFailed ProcessedStatus = "failed"
)

// ProcessedSegment is the result of STT over a Segment.
type ProcessedSegment struct {
	SegmentID     string
	Transcript    string
	Confidence    *float64
	Language      *string
	WordTimings   []WordTiming
	Status        ProcessedStatus
	CorrelationID string
}

// WordTiming is one word-level timing entry, when the STT backend supplies them.
type WordTiming struct {
	Word      string
	StartMS   int64
	EndMS     int64
	Confidence float64
}

const maxTranscriptRunes = 4000

// TrimTranscript bounds and trims STT output per §4.3's "trimmed and
// length-bounded" requirement.
func TrimTranscript(s string) string {
	runes := []rune(s)
	if len(runes) > maxTranscriptRunes {
		runes = runes[:maxTranscriptRunes]
	}
	return strings.TrimSpace(string(runes))
}
