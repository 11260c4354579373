// Package jitter smooths the cadence of ingress (and, symmetrically,
// egress playback) CanonicalFrames between a single producer and single
// consumer, per §4.2.
package jitter

import (
	"sync"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/audio"
)

// Config controls buffer depth targets.
type Config struct {
	TargetFrames int // default 3 (60ms)
	MaxFrames    int // default 8 (160ms), hard cap
}

// DefaultConfig matches the spec's configuration defaults.
func DefaultConfig() Config {
	return Config{TargetFrames: 3, MaxFrames: 8}
}

// Buffer is a FIFO of CanonicalFrames with drop-oldest overflow and
// silence-frame underrun. One instance serves exactly one producer and one
// consumer; all access is serialized by a single lock.
type Buffer struct {
	mu      sync.Mutex
	cfg     Config
	frames  []audio.CanonicalFrame
	dropped uint64
	depth   int // reported by Depth()
}

// New constructs a Buffer with the given config.
func New(cfg Config) *Buffer {
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = 8
	}
	return &Buffer{cfg: cfg, frames: make([]audio.CanonicalFrame, 0, cfg.MaxFrames)}
}

// Push enqueues a frame. If the buffer is at its hard cap, the oldest frame
// is dropped and frames_dropped_total{reason="overflow"} is incremented by
// the caller (Dropped() reports the running count).
func (b *Buffer) Push(f audio.CanonicalFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) >= b.cfg.MaxFrames {
		b.frames = b.frames[1:]
		b.dropped++
	}
	b.frames = append(b.frames, f)
	b.depth = len(b.frames)
}

// Pop dequeues the oldest frame. If the buffer is empty (underrun), it
// returns a silence frame instead of blocking, per §4.2's egress symmetry.
func (b *Buffer) Pop(nextSeq uint64) audio.CanonicalFrame {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) == 0 {
		silence, _ := audio.NewFrame(make([]float32, audio.SamplesPerFrame), nextSeq, time.Now())
		return silence
	}

	f := b.frames[0]
	b.frames = b.frames[1:]
	b.depth = len(b.frames)
	return f
}

// Depth reports the current buffer occupancy, exported as a gauge.
func (b *Buffer) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.depth
}

// Dropped reports the cumulative overflow-drop count.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
