package vad

import (
	"testing"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/audio"
)

func speechFrame(t *testing.T, seq uint64, amplitude float32) audio.CanonicalFrame {
	t.Helper()
	samples := make([]float32, audio.SamplesPerFrame)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	f, err := audio.NewFrame(samples, seq, time.Now())
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	return f
}

func silentFrame(t *testing.T, seq uint64) audio.CanonicalFrame {
	t.Helper()
	f, err := audio.NewFrame(make([]float32, audio.SamplesPerFrame), seq, time.Now())
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	return f
}

func TestSegmenterEmitsSegmentAfterSilenceHysteresis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CalibrationDuration = 0
	cfg.MinSegmentMS = 100
	cfg.PaddingMS = 60
	s := New(cfg)

	var seq uint64
	var emitted *audio.Segment
	for range 10 {
		r := s.Process("sess-1", "corr-1", speechFrame(t, seq, 0.5))
		if r.Segment != nil {
			t.Fatalf("unexpected early segment")
		}
		seq++
	}
	for range 5 {
		r := s.Process("sess-1", "corr-1", silentFrame(t, seq))
		seq++
		if r.Segment != nil {
			emitted = r.Segment
			break
		}
	}

	if emitted == nil {
		t.Fatalf("expected a segment to close after silence hysteresis")
	}
	if emitted.DurationMS() != int64(len(emitted.Frames)*audio.FrameMS) {
		t.Fatalf("duration invariant violated")
	}
}

func TestSegmenterDiscardsShortBursts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CalibrationDuration = 0
	cfg.MinSegmentMS = 500
	cfg.PaddingMS = 40
	s := New(cfg)

	var seq uint64
	r := s.Process("sess-1", "corr-1", speechFrame(t, seq, 0.5))
	seq++
	if r.Segment != nil {
		t.Fatalf("unexpected segment")
	}
	for range 4 {
		r = s.Process("sess-1", "corr-1", silentFrame(t, seq))
		seq++
		if r.Segment != nil {
			t.Fatalf("burst shorter than MinSegmentMS should be discarded, not emitted")
		}
	}
	if s.DiscardedCount() != 1 {
		t.Fatalf("DiscardedCount = %d, want 1", s.DiscardedCount())
	}
}

func TestSegmenterClosesAtMaxSegmentCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CalibrationDuration = 0
	cfg.MaxSegmentMS = 200 // 10 frames
	cfg.MinSegmentMS = 20
	s := New(cfg)

	var seq uint64
	var emitted *audio.Segment
	for range 20 {
		r := s.Process("sess-1", "corr-1", speechFrame(t, seq, 0.5))
		seq++
		if r.Segment != nil {
			emitted = r.Segment
			break
		}
	}

	if emitted == nil {
		t.Fatalf("expected segment to close at max cap")
	}
	if emitted.DurationMS() > int64(cfg.MaxSegmentMS) {
		t.Fatalf("segment exceeded max cap: %dms", emitted.DurationMS())
	}
}
