package audio

import "math"

// Resample converts samples from srcRate to dstRate using linear interpolation.
// Returns the input unchanged if rates already match.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]float32, outLen)

	for i := range outLen {
		srcIdx := float64(i) * ratio
		idx := int(srcIdx)
		frac := float32(srcIdx - float64(idx))
		out[i] = interpolate(samples, idx, frac)
	}

	return out
}

func interpolate(samples []float32, idx int, frac float32) float32 {
	if idx+1 >= len(samples) {
		return samples[len(samples)-1]
	}
	return samples[idx]*(1-frac) + samples[idx+1]*frac
}

// ResampleSegmentToPCM16 resamples a segment's frames to targetRate and
// encodes them as 16-bit LE PCM bytes, the exact shape the STT boundary
// requires (16kHz mono int16 LE per §4.1).
func ResampleSegmentToPCM16(samples []float32, srcRate, targetRate int) []byte {
	resampled := Resample(samples, srcRate, targetRate)
	out := make([]byte, len(resampled)*2)
	for i, s := range resampled {
		clamped := max(float32(-1.0), min(float32(1.0), s))
		v := int16(clamped * math.MaxInt16)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
