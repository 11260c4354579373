package jitter

import (
	"testing"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/audio"
)

func mustFrame(t *testing.T, seq uint64) audio.CanonicalFrame {
	t.Helper()
	f, err := audio.NewFrame(make([]float32, audio.SamplesPerFrame), seq, time.Now())
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	return f
}

func TestBufferOverflowDropsOldest(t *testing.T) {
	b := New(Config{TargetFrames: 3, MaxFrames: 8})

	for i := range uint64(12) {
		b.Push(mustFrame(t, i))
	}

	if got := b.Depth(); got != 8 {
		t.Fatalf("depth = %d, want 8", got)
	}
	if got := b.Dropped(); got < 4 {
		t.Fatalf("dropped = %d, want >= 4", got)
	}

	first := b.Pop(0)
	if first.Seq() != 4 {
		t.Fatalf("oldest surviving seq = %d, want 4 (frames 0-3 dropped)", first.Seq())
	}
}

func TestBufferUnderrunEmitsSilence(t *testing.T) {
	b := New(DefaultConfig())
	f := b.Pop(42)
	if f.Seq() != 42 {
		t.Fatalf("seq = %d, want 42", f.Seq())
	}
	for _, s := range f.Samples() {
		if s != 0 {
			t.Fatalf("expected silence, got non-zero sample %v", s)
		}
	}
}

func TestBufferNeverExceedsMax(t *testing.T) {
	b := New(Config{TargetFrames: 3, MaxFrames: 8})
	for i := range uint64(100) {
		b.Push(mustFrame(t, i))
		if d := b.Depth(); d > 8 {
			t.Fatalf("depth exceeded max: %d", d)
		}
	}
}
