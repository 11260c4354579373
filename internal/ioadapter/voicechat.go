package ioadapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/gabrielpreston/voxfabric/internal/audio"
)

// VoiceChatInput streams CanonicalFrames demuxed from a Discord-class voice
// channel, decoded from Opus via the codec facade. One decoder instance is
// kept per remote SSRC since Opus carries cross-packet state.
type VoiceChatInput struct {
	session   *discordgo.Session
	guildID   string
	channelID string

	vc     *discordgo.VoiceConnection
	frames chan audio.CanonicalFrame
	active atomic.Bool
	framer *audio.Framer
}

// NewVoiceChatInput constructs a VoiceChatInput adapter from config keys
// "bot_token", "guild_id", "channel_id".
func NewVoiceChatInput(config map[string]string) (InputAdapter, error) {
	token, guild, channel := config["bot_token"], config["guild_id"], config["channel_id"]
	if token == "" || guild == "" || channel == "" {
		return nil, fmt.Errorf("voice-chat input adapter: missing bot_token/guild_id/channel_id")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("voice-chat input: create session: %w", err)
	}
	return &VoiceChatInput{
		session:   session,
		guildID:   guild,
		channelID: channel,
		frames:    make(chan audio.CanonicalFrame, 64),
		framer:    audio.NewFramer(),
	}, nil
}

func (a *VoiceChatInput) Start(ctx context.Context) error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("voice-chat input: open session: %w", err)
	}

	return reconnectWithBackoff(ctx, "voice-chat-input", func() error {
		vc, err := a.session.ChannelVoiceJoin(a.guildID, a.channelID, false, false)
		if err != nil {
			return err
		}
		a.vc = vc
		a.active.Store(true)
		go a.recvLoop(ctx)
		return nil
	})
}

func (a *VoiceChatInput) recvLoop(ctx context.Context) {
	decoders := make(map[uint32]*audio.OpusCodec)
	defer close(a.frames)
	defer a.active.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-a.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}
			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = audio.NewOpusCodec()
				if err != nil {
					slog.Error("voice-chat input: create opus decoder", "ssrc", pkt.SSRC, "error", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			samples, err := dec.Decode(pkt.Opus)
			if err != nil {
				slog.Warn("voice-chat input: opus decode", "ssrc", pkt.SSRC, "error", err)
				continue
			}

			frames, err := a.framer.Push(samples)
			if err != nil {
				slog.Warn("voice-chat input: frame", "error", err)
				continue
			}
			for _, f := range frames {
				select {
				case a.frames <- f:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (a *VoiceChatInput) Stop() error {
	a.active.Store(false)
	if a.vc != nil {
		return a.vc.Disconnect()
	}
	return nil
}

func (a *VoiceChatInput) Stream() <-chan audio.CanonicalFrame { return a.frames }
func (a *VoiceChatInput) IsActive() bool                       { return a.active.Load() }

// VoiceChatOutput plays CanonicalFrames back into a Discord-class voice
// channel by Opus-encoding each frame and writing it to the connection's
// send channel.
type VoiceChatOutput struct {
	session   *discordgo.Session
	guildID   string
	channelID string

	vc      *discordgo.VoiceConnection
	playing atomic.Bool
	codec   *audio.OpusCodec
}

// NewVoiceChatOutput constructs a VoiceChatOutput adapter sharing the same
// config shape as NewVoiceChatInput.
func NewVoiceChatOutput(config map[string]string) (OutputAdapter, error) {
	token, guild, channel := config["bot_token"], config["guild_id"], config["channel_id"]
	if token == "" || guild == "" || channel == "" {
		return nil, fmt.Errorf("voice-chat output adapter: missing bot_token/guild_id/channel_id")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("voice-chat output: create session: %w", err)
	}
	codec, err := audio.NewOpusCodec()
	if err != nil {
		return nil, fmt.Errorf("voice-chat output: create opus codec: %w", err)
	}
	return &VoiceChatOutput{session: session, guildID: guild, channelID: channel, codec: codec}, nil
}

func (a *VoiceChatOutput) Start(ctx context.Context) error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("voice-chat output: open session: %w", err)
	}
	return reconnectWithBackoff(ctx, "voice-chat-output", func() error {
		vc, err := a.session.ChannelVoiceJoin(a.guildID, a.channelID, false, true)
		if err != nil {
			return err
		}
		a.vc = vc
		return nil
	})
}

func (a *VoiceChatOutput) Play(frames <-chan audio.CanonicalFrame) error {
	a.playing.Store(true)
	_ = a.vc.Speaking(true)
	go func() {
		defer a.playing.Store(false)
		defer a.vc.Speaking(false)
		for f := range frames {
			packet, err := a.codec.Encode(f.Samples())
			if err != nil {
				slog.Warn("voice-chat output: opus encode", "error", err)
				continue
			}
			a.vc.OpusSend <- packet
		}
	}()
	return nil
}

func (a *VoiceChatOutput) Stop() error {
	a.playing.Store(false)
	if a.vc != nil {
		return a.vc.Disconnect()
	}
	return nil
}

func (a *VoiceChatOutput) IsPlaying() bool { return a.playing.Load() }
