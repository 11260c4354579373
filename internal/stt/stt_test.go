package stt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/audio"
)

func testSegment(t *testing.T) audio.Segment {
	t.Helper()
	frames := make([]audio.CanonicalFrame, 0, 10)
	for i := range uint64(10) {
		f, err := audio.NewFrame(make([]float32, audio.SamplesPerFrame), i, time.Now())
		if err != nil {
			t.Fatalf("NewFrame: %v", err)
		}
		frames = append(frames, f)
	}
	seg, err := audio.NewSegment("sess-1", "corr-1", 0, frames)
	if err != nil {
		t.Fatalf("NewSegment: %v", err)
	}
	return seg
}

func TestTranscribeEmptyTextYieldsEmptyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": ""})
	}))
	defer srv.Close()

	c := New(srv.URL, 4)
	got, err := c.Transcribe(context.Background(), testSegment(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Status != audio.StatusEmpty {
		t.Fatalf("status = %v, want empty", got.Status)
	}
}

func TestTranscribeOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hello world"})
	}))
	defer srv.Close()

	c := New(srv.URL, 4)
	got, err := c.Transcribe(context.Background(), testSegment(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got.Status != audio.StatusOK || got.Transcript != "hello world" {
		t.Fatalf("got %+v", got)
	}
}

func TestTranscribeRetriesOn5xxThenFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, 4)
	_, err := c.Transcribe(context.Background(), testSegment(t))
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != maxRetries+1 {
		t.Fatalf("calls = %d, want %d", calls, maxRetries+1)
	}
}
