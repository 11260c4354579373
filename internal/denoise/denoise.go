// Package denoise wraps RNNoise for in-process noise suppression on
// canonical 48kHz frames, the denoiser external collaborator named
// alongside ASR/LLM/TTS in the fabric's component list. Wired in as an
// optional pre-VAD stage so a noisy input adapter can still produce clean
// segmentation and transcription.
package denoise

/*
#cgo CFLAGS: -I${SRCDIR}/rnnoise -O2
#cgo LDFLAGS: -lm
#include "rnnoise.h"
*/
import "C"
import "unsafe"

// frameSize is RNNoise's native frame size at 48kHz; a canonical 20ms frame
// (960 samples) is exactly two RNNoise frames.
const frameSize = 480

const pcm16Scale = 32768

// Denoiser wraps one RNNoise state. Not safe for concurrent use; the
// orchestrator allocates one per session.
type Denoiser struct {
	st *C.DenoiseState
}

// New allocates an RNNoise denoiser using its default model.
func New() *Denoiser {
	return &Denoiser{st: C.rnnoise_create(nil)}
}

// Close frees the C-side denoiser state. Safe to call more than once.
func (d *Denoiser) Close() {
	if d.st == nil {
		return
	}
	C.rnnoise_destroy(d.st)
	d.st = nil
}

// Denoise suppresses noise on a canonical frame's normalized [-1, 1]
// float32 samples. RNNoise operates on int16-scaled floats, so samples are
// scaled up before processing and back down after. Any tail shorter than
// one native RNNoise frame passes through unprocessed.
func (d *Denoiser) Denoise(samples []float32) []float32 {
	if len(samples) == 0 {
		return samples
	}

	scaled := make([]float32, len(samples))
	for i, s := range samples {
		scaled[i] = s * pcm16Scale
	}

	nFrames := len(scaled) / frameSize
	for i := range nFrames {
		off := i * frameSize
		frame := scaled[off : off+frameSize]
		C.rnnoise_process_frame(d.st, (*C.float)(unsafe.Pointer(&frame[0])), (*C.float)(unsafe.Pointer(&frame[0])))
	}

	out := make([]float32, len(scaled))
	for i, s := range scaled {
		out[i] = s / pcm16Scale
	}
	return out
}
