package ioadapter

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/gabrielpreston/voxfabric/internal/audio"
)

// FileInput streams CanonicalFrames decoded from a WAV file on disk. Used
// for offline testing and batch transcription, not live traffic.
type FileInput struct {
	path   string
	frames chan audio.CanonicalFrame
	active atomic.Bool
}

// NewFileInput constructs a FileInput adapter; config key "path" is required.
func NewFileInput(config map[string]string) (InputAdapter, error) {
	path, ok := config["path"]
	if !ok || path == "" {
		return nil, fmt.Errorf("file input adapter: missing \"path\"")
	}
	return &FileInput{path: path, frames: make(chan audio.CanonicalFrame, 32)}, nil
}

func (f *FileInput) Start(ctx context.Context) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("file input: read %s: %w", f.path, err)
	}

	samples, rate, err := audio.Decode(data, audio.CodecWAV, 0)
	if err != nil {
		return fmt.Errorf("file input: decode %s: %w", f.path, err)
	}
	samples = audio.Resample(samples, rate, audio.SampleRate)

	f.active.Store(true)
	framer := audio.NewFramer()
	frames, err := framer.Push(samples)
	if err != nil {
		return err
	}
	if tail, err := framer.Flush(); err == nil && tail != nil {
		frames = append(frames, *tail)
	}

	go func() {
		defer close(f.frames)
		defer f.active.Store(false)
		for _, fr := range frames {
			select {
			case f.frames <- fr:
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (f *FileInput) Stop() error {
	f.active.Store(false)
	return nil
}

func (f *FileInput) Stream() <-chan audio.CanonicalFrame { return f.frames }
func (f *FileInput) IsActive() bool                       { return f.active.Load() }

// FileOutput writes played-back frames to a WAV file on disk.
type FileOutput struct {
	path     string
	playing  atomic.Bool
	samples  []float32
}

// NewFileOutput constructs a FileOutput adapter; config key "path" is required.
func NewFileOutput(config map[string]string) (OutputAdapter, error) {
	path, ok := config["path"]
	if !ok || path == "" {
		return nil, fmt.Errorf("file output adapter: missing \"path\"")
	}
	return &FileOutput{path: path}, nil
}

func (f *FileOutput) Start(ctx context.Context) error { return nil }

func (f *FileOutput) Play(frames <-chan audio.CanonicalFrame) error {
	f.playing.Store(true)
	go func() {
		defer f.playing.Store(false)
		for fr := range frames {
			f.samples = append(f.samples, fr.Samples()...)
		}
		_ = os.WriteFile(f.path, audio.SamplesToWAV(f.samples, audio.SampleRate), 0o644)
	}()
	return nil
}

func (f *FileOutput) Stop() error {
	f.playing.Store(false)
	return nil
}

func (f *FileOutput) IsPlaying() bool { return f.playing.Load() }
