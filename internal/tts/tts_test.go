package tts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gabrielpreston/voxfabric/internal/audio"
)

func wavHandler(calls *int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*calls++
		samples := make([]float32, audio.SamplesPerFrame*2)
		for i := range samples {
			samples[i] = 0.1
		}
		w.Write(audio.SamplesToWAV(samples, audio.SampleRate))
	}
}

func TestSynthesizeCacheHitAvoidsSecondUpstreamCall(t *testing.T) {
	var calls int
	srv := httptest.NewServer(wavHandler(&calls))
	defer srv.Close()

	c := New(srv.URL, 4, Config{})

	first, err := c.Synthesize(context.Background(), "Good morning", "v2/en_speaker_1")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	second, err := c.Synthesize(context.Background(), "Good morning", "v2/en_speaker_1")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", calls)
	}
	if len(first) != len(second) {
		t.Fatalf("cached result differs in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached result differs at %d", i)
		}
	}
}

func TestSynthesizeRejectsOverlongText(t *testing.T) {
	c := New("http://unused", 4, Config{})
	_, err := c.Synthesize(context.Background(), strings.Repeat("a", maxTextChars+1), "v1")
	if err == nil {
		t.Fatalf("expected rejection of overlong text")
	}
}
