package audio

import (
	"fmt"
	"time"
)

const (
	// SampleRate is the only sample rate a CanonicalFrame may carry.
	SampleRate = 48000
	// Channels is the only channel count a CanonicalFrame may carry.
	Channels = 1
	// FrameMS is the duration every CanonicalFrame represents.
	FrameMS = 20
	// SamplesPerFrame is the exact sample count for 20ms at 48kHz mono.
	SamplesPerFrame = SampleRate * FrameMS / 1000
)

// CanonicalFrame is the sole internal audio unit: 48kHz mono float32 PCM,
// exactly 960 samples (20ms). It is immutable once constructed; NewFrame
// rejects any shape that does not satisfy the invariant.
type CanonicalFrame struct {
	samples   []float32
	seq       uint64
	ingressAt time.Time
}

// NewFrame validates samples and wraps them in an immutable CanonicalFrame.
// The caller's slice is copied so later mutation by the caller cannot violate
// the frame's immutability.
func NewFrame(samples []float32, seq uint64, ingressAt time.Time) (CanonicalFrame, error) {
	if len(samples) != SamplesPerFrame {
		return CanonicalFrame{}, fmt.Errorf("canonical frame: want %d samples, got %d", SamplesPerFrame, len(samples))
	}
	owned := make([]float32, SamplesPerFrame)
	copy(owned, samples)
	return CanonicalFrame{samples: owned, seq: seq, ingressAt: ingressAt}, nil
}

// Samples returns a copy of the frame's PCM buffer; callers may not mutate
// the frame through the returned slice.
func (f CanonicalFrame) Samples() []float32 {
	out := make([]float32, len(f.samples))
	copy(out, f.samples)
	return out
}

func (f CanonicalFrame) Seq() uint64          { return f.seq }
func (f CanonicalFrame) IngressAt() time.Time { return f.ingressAt }
func (f CanonicalFrame) SampleRate() int      { return SampleRate }
func (f CanonicalFrame) Channels() int        { return Channels }
func (f CanonicalFrame) DurationMS() int      { return FrameMS }

// Framer buffers decoded samples and emits exactly-sized CanonicalFrames,
// carrying any partial trailing data forward until Flush is called.
type Framer struct {
	pending []float32
	nextSeq uint64
}

// NewFramer creates a Framer with an empty carry buffer.
func NewFramer() *Framer { return &Framer{} }

// Push appends newly decoded samples and returns every complete frame that
// can be formed. Trailing partial data is retained for the next call.
func (fr *Framer) Push(samples []float32) ([]CanonicalFrame, error) {
	fr.pending = append(fr.pending, samples...)
	var frames []CanonicalFrame
	now := time.Now()
	for len(fr.pending) >= SamplesPerFrame {
		f, err := NewFrame(fr.pending[:SamplesPerFrame], fr.nextSeq, now)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		fr.nextSeq++
		fr.pending = fr.pending[SamplesPerFrame:]
	}
	return frames, nil
}

// Flush zero-pads any remaining partial frame and emits it, resetting the
// carry buffer. Returns no frame if nothing is pending.
func (fr *Framer) Flush() (*CanonicalFrame, error) {
	if len(fr.pending) == 0 {
		return nil, nil
	}
	padded := make([]float32, SamplesPerFrame)
	copy(padded, fr.pending)
	f, err := NewFrame(padded, fr.nextSeq, time.Now())
	if err != nil {
		return nil, err
	}
	fr.nextSeq++
	fr.pending = nil
	return &f, nil
}
