package ioadapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/audio"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// WebRTCInput streams CanonicalFrames read off a single remote Opus audio
// track of a Pion PeerConnection, the WebRTC-class transport used by mobile
// clients per §1.
type WebRTCInput struct {
	pc     *webrtc.PeerConnection
	frames chan audio.CanonicalFrame
	active atomic.Bool
	framer *audio.Framer
}

// NewWebRTCInput constructs a WebRTCInput; config key "remote_offer_sdp"
// carries the client's SDP offer.
func NewWebRTCInput(config map[string]string) (InputAdapter, error) {
	offerSDP, ok := config["remote_offer_sdp"]
	if !ok || offerSDP == "" {
		return nil, fmt.Errorf("webrtc-class input adapter: missing remote_offer_sdp")
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("webrtc-class input: new peer connection: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("webrtc-class input: add audio transceiver: %w", err)
	}

	a := &WebRTCInput{pc: pc, frames: make(chan audio.CanonicalFrame, 64), framer: audio.NewFramer()}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		a.active.Store(true)
		go a.readTrack(track)
	})

	if err := negotiate(pc, offerSDP); err != nil {
		return nil, err
	}

	return a, nil
}

func negotiate(pc *webrtc.PeerConnection, offerSDP string) error {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("webrtc-class: set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("webrtc-class: create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("webrtc-class: set local description: %w", err)
	}
	return nil
}

func (a *WebRTCInput) readTrack(track *webrtc.TrackRemote) {
	defer close(a.frames)
	defer a.active.Store(false)

	codec, err := audio.NewOpusCodec()
	if err != nil {
		slog.Error("webrtc-class input: create opus codec", "error", err)
		return
	}

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		samples, err := codec.Decode(pkt.Payload)
		if err != nil {
			slog.Warn("webrtc-class input: opus decode", "error", err)
			continue
		}
		frames, err := a.framer.Push(samples)
		if err != nil {
			continue
		}
		for _, f := range frames {
			a.frames <- f
		}
	}
}

func (a *WebRTCInput) Start(ctx context.Context) error { return nil }
func (a *WebRTCInput) Stop() error {
	a.active.Store(false)
	return a.pc.Close()
}
func (a *WebRTCInput) Stream() <-chan audio.CanonicalFrame { return a.frames }
func (a *WebRTCInput) IsActive() bool                       { return a.active.Load() }

// WebRTCOutput plays CanonicalFrames back onto an Opus local track of a
// Pion PeerConnection.
type WebRTCOutput struct {
	pc      *webrtc.PeerConnection
	track   *webrtc.TrackLocalStaticSample
	codec   *audio.OpusCodec
	playing atomic.Bool
}

// NewWebRTCOutput constructs a WebRTCOutput sharing the same offer/answer
// negotiation as NewWebRTCInput.
func NewWebRTCOutput(config map[string]string) (OutputAdapter, error) {
	offerSDP, ok := config["remote_offer_sdp"]
	if !ok || offerSDP == "" {
		return nil, fmt.Errorf("webrtc-class output adapter: missing remote_offer_sdp")
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("webrtc-class output: new peer connection: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: 2},
		"audio", "voxfabric",
	)
	if err != nil {
		return nil, fmt.Errorf("webrtc-class output: new local track: %w", err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		return nil, fmt.Errorf("webrtc-class output: add track: %w", err)
	}
	codec, err := audio.NewOpusCodec()
	if err != nil {
		return nil, fmt.Errorf("webrtc-class output: create opus codec: %w", err)
	}

	if err := negotiate(pc, offerSDP); err != nil {
		return nil, err
	}

	return &WebRTCOutput{pc: pc, track: track, codec: codec}, nil
}

func (a *WebRTCOutput) Start(ctx context.Context) error { return nil }

func (a *WebRTCOutput) Play(frames <-chan audio.CanonicalFrame) error {
	a.playing.Store(true)
	go func() {
		defer a.playing.Store(false)
		for f := range frames {
			packet, err := a.codec.Encode(f.Samples())
			if err != nil {
				slog.Warn("webrtc-class output: opus encode", "error", err)
				continue
			}
			if err := a.track.WriteSample(media.Sample{Data: packet, Duration: audio.FrameMS * time.Millisecond}); err != nil {
				slog.Warn("webrtc-class output: write sample", "error", err)
			}
		}
	}()
	return nil
}

func (a *WebRTCOutput) Stop() error {
	a.playing.Store(false)
	return a.pc.Close()
}

func (a *WebRTCOutput) IsPlaying() bool { return a.playing.Load() }
