package audio

import (
	"fmt"
	"math"

	"layeh.com/gopus"
)

// Discord and WebRTC voice both carry 48kHz stereo Opus at 20ms frames,
// matching the canonical frame duration exactly once downmixed to mono.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSize   = opusSampleRate * FrameMS / 1000
)

// OpusCodec wraps one gopus decoder/encoder pair. Opus carries state across
// packets, so a codec instance belongs to a single stream, never shared.
type OpusCodec struct {
	dec *gopus.Decoder
	enc *gopus.Encoder
}

// NewOpusCodec constructs a decoder/encoder pair for one adapter stream.
func NewOpusCodec() (*OpusCodec, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &OpusCodec{dec: dec, enc: enc}, nil
}

// Decode turns one Opus packet into mono float32 samples in [-1, 1].
func (c *OpusCodec) Decode(packet []byte) ([]float32, error) {
	pcm, err := c.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return downmixInt16Stereo(pcm), nil
}

// Encode turns mono float32 samples (exactly one 20ms frame) into an Opus
// packet, duplicating the mono channel to stereo for the wire.
func (c *OpusCodec) Encode(samples []float32) ([]byte, error) {
	stereo := upmixMonoToInt16Stereo(samples)
	packet, err := c.enc.Encode(stereo, opusFrameSize, len(stereo)*2)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return packet, nil
}

// decodeOpus decodes a single standalone Opus packet without retaining
// cross-packet decoder state; used by the package-level Decode facade for
// one-shot conversions (e.g. file adapter reads of Opus-encoded clips).
func decodeOpus(data []byte) ([]float32, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	pcm, err := dec.Decode(data, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return downmixInt16Stereo(pcm), nil
}

func downmixInt16Stereo(pcm []int16) []float32 {
	frames := len(pcm) / 2
	out := make([]float32, frames)
	for i := range frames {
		l := float32(pcm[i*2])
		r := float32(pcm[i*2+1])
		out[i] = (l + r) / 2 / math.MaxInt16
	}
	return out
}

func upmixMonoToInt16Stereo(samples []float32) []int16 {
	out := make([]int16, len(samples)*2)
	for i, s := range samples {
		clamped := max(float32(-1.0), min(float32(1.0), s))
		v := int16(clamped * math.MaxInt16)
		out[i*2] = v
		out[i*2+1] = v
	}
	return out
}
