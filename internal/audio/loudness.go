package audio

import "math"

// LoudnessConfig holds the egress loudness-normalization target. Defaults
// match §4.1: I=-16 LUFS, TP<=-1.5 dBFS, LRA=11.
type LoudnessConfig struct {
	TargetLUFS   float64
	TruePeakDBFS float64
	LRA          float64
}

// DefaultLoudnessConfig returns the spec-mandated defaults.
func DefaultLoudnessConfig() LoudnessConfig {
	return LoudnessConfig{TargetLUFS: -16, TruePeakDBFS: -1.5, LRA: 11}
}

// LoudnessNormalize applies gain to bring samples toward the configured
// integrated loudness target, then limits true peak. This is a practical
// RMS-gated approximation of ITU-R BS.1770 gating (no ecosystem loudness
// library exists anywhere in the retrieval pack; see DESIGN.md), applied
// only at egress to playback, never mid-pipeline.
func LoudnessNormalize(samples []float32, cfg LoudnessConfig) []float32 {
	if len(samples) == 0 {
		return samples
	}

	measured := integratedLoudnessLUFS(samples)
	gainDB := cfg.TargetLUFS - measured
	gain := dbToLinear(gainDB)

	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s * float32(gain)
	}

	return limitTruePeak(out, cfg.TruePeakDBFS)
}

// integratedLoudnessLUFS approximates BS.1770 integrated loudness: mean
// square of the samples whose own level is above an absolute -70 gate
// (gated per sample, not per block), converted to LUFS.
func integratedLoudnessLUFS(samples []float32) float64 {
	var sum float64
	gated := 0
	for _, s := range samples {
		v := float64(s) * float64(s)
		block := 10 * math.Log10(v+1e-12)
		if block < -70 {
			continue
		}
		sum += v
		gated++
	}
	if gated == 0 {
		return -70
	}
	meanSquare := sum / float64(gated)
	return -0.691 + 10*math.Log10(meanSquare+1e-12)
}

func dbToLinear(db float64) float64 { return math.Pow(10, db/20) }

func linearToDB(v float64) float64 {
	if v < 1e-12 {
		return -240
	}
	return 20 * math.Log10(v)
}

// limitTruePeak scales samples down (never up) so the highest absolute
// sample does not exceed the configured true-peak ceiling.
func limitTruePeak(samples []float32, ceilingDBFS float64) []float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return samples
	}
	peakDB := linearToDB(float64(peak))
	if peakDB <= ceilingDBFS {
		return samples
	}
	reduction := dbToLinear(ceilingDBFS - peakDB)
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s * float32(reduction)
	}
	return out
}

// ToPlaybackPCM converts canonical frames to 16-bit LE PCM bytes at 48kHz
// mono, the egress wire format.
func ToPlaybackPCM(frames []CanonicalFrame) []byte {
	out := make([]byte, 0, len(frames)*SamplesPerFrame*2)
	for _, f := range frames {
		for _, s := range f.Samples() {
			clamped := max(float32(-1.0), min(float32(1.0), s))
			v := int16(clamped * math.MaxInt16)
			out = append(out, byte(v), byte(v>>8))
		}
	}
	return out
}
