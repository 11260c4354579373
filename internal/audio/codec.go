package audio

import (
	"fmt"

	"github.com/gabrielpreston/voxfabric/internal/errs"
)

type Codec string

const (
	CodecPCM      Codec = "pcm"
	CodecG711Ulaw Codec = "g711_ulaw"
	CodecG711Alaw Codec = "g711_alaw"
	CodecOpus     Codec = "opus"
	CodecWAV      Codec = "wav"
)

// Decode converts encoded audio bytes to float32 PCM samples normalized to
// [-1, 1], alongside the sample rate the codec natively produced. Opus and
// the voice-chat/webrtc-class adapters both speak 48kHz, matching the
// canonical rate directly; G711 is 8kHz and must pass through Resample
// before framing.
func Decode(data []byte, codec Codec, sampleRate int) ([]float32, int, error) {
	switch codec {
	case CodecPCM:
		return decodePCM(data), sampleRate, nil
	case CodecWAV:
		samples, rate, err := decodeWAV(data)
		if err != nil {
			return nil, 0, errs.Wrap(errs.KindCodec, "decode wav", err)
		}
		return samples, rate, nil
	case CodecG711Ulaw:
		return decodeG711Ulaw(data), 8000, nil
	case CodecG711Alaw:
		return decodeG711Alaw(data), 8000, nil
	case CodecOpus:
		samples, err := decodeOpus(data)
		if err != nil {
			return nil, 0, errs.Wrap(errs.KindCodec, "decode opus", err)
		}
		return samples, SampleRate, nil
	default:
		return nil, 0, errs.New(errs.KindUnsupportedFormat, fmt.Sprintf("unsupported codec: %s", codec))
	}
}
