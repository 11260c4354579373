package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/agent"
	"github.com/gabrielpreston/voxfabric/internal/audio"
	"github.com/gabrielpreston/voxfabric/internal/ioadapter"
	"github.com/gabrielpreston/voxfabric/internal/jitter"
	"github.com/gabrielpreston/voxfabric/internal/session"
	"github.com/gabrielpreston/voxfabric/internal/stt"
	"github.com/gabrielpreston/voxfabric/internal/tts"
	"github.com/gabrielpreston/voxfabric/internal/vad"
)

// fakeInput replays a fixed set of frames then closes its stream, mimicking
// FileInput's one-shot playback without touching disk.
type fakeInput struct {
	frames chan audio.CanonicalFrame
	active atomic.Bool
}

func newFakeInput(frames []audio.CanonicalFrame) *fakeInput {
	ch := make(chan audio.CanonicalFrame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return &fakeInput{frames: ch}
}

func (f *fakeInput) Start(context.Context) error      { f.active.Store(true); return nil }
func (f *fakeInput) Stop() error                      { f.active.Store(false); return nil }
func (f *fakeInput) Stream() <-chan audio.CanonicalFrame { return f.frames }
func (f *fakeInput) IsActive() bool                   { return f.active.Load() }

// fakeOutput records every frame handed to it via Play, to assert the
// session loop actually reached playback.
type fakeOutput struct {
	mu      sync.Mutex
	frames  []audio.CanonicalFrame
	playing atomic.Bool
}

func (o *fakeOutput) Start(context.Context) error { return nil }
func (o *fakeOutput) Stop() error                 { return nil }
func (o *fakeOutput) IsPlaying() bool             { return o.playing.Load() }

func (o *fakeOutput) Play(frames <-chan audio.CanonicalFrame) error {
	o.playing.Store(true)
	go func() {
		defer o.playing.Store(false)
		for f := range frames {
			o.mu.Lock()
			o.frames = append(o.frames, f)
			o.mu.Unlock()
		}
	}()
	return nil
}

func (o *fakeOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

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

func buildTestFrames(t *testing.T) []audio.CanonicalFrame {
	t.Helper()
	var seq uint64
	var frames []audio.CanonicalFrame
	for range 10 {
		frames = append(frames, speechFrame(t, seq, 0.5))
		seq++
	}
	for range 6 {
		frames = append(frames, silentFrame(t, seq))
		seq++
	}
	return frames
}

func testVADConfig() vad.Config {
	cfg := vad.DefaultConfig()
	cfg.CalibrationDuration = 0
	cfg.MinSegmentMS = 100
	cfg.PaddingMS = 60
	return cfg
}

func TestSessionLoopTranscribesAndPlaysBack(t *testing.T) {
	sttSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hello there"})
	}))
	defer sttSrv.Close()

	ttsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		samples := make([]float32, audio.SamplesPerFrame*2)
		for i := range samples {
			if i%2 == 0 {
				samples[i] = 0.3
			} else {
				samples[i] = -0.3
			}
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.SamplesToWAV(samples, audio.SampleRate))
	}))
	defer ttsSrv.Close()

	registry := ioadapter.NewRegistry()
	input := newFakeInput(buildTestFrames(t))
	output := &fakeOutput{}
	registry.RegisterInput("fake", func(map[string]string) (ioadapter.InputAdapter, error) { return input, nil })
	registry.RegisterOutput("fake", func(map[string]string) (ioadapter.OutputAdapter, error) { return output, nil })

	agents := agent.NewRegistry(5 * time.Second)
	agents.Register(agent.EchoAgent{})

	store := session.NewMemoryStore(session.MemoryConfig{})

	cfg := Config{
		Adapters: registry,
		Sessions: store,
		Agents:   agents,
		STT:      stt.New(sttSrv.URL, 2),
		TTS:      tts.New(ttsSrv.URL, 2, tts.Config{}),
		VAD:      testVADConfig(),
		Jitter:   jitter.DefaultConfig(),
		DrainGrace: 2 * time.Second,
	}

	mgr := NewManager(cfg)
	req := StartRequest{
		SessionID:         "sess-test-1",
		OwnerID:           "owner-1",
		ChannelID:         "chan-1",
		InputAdapterName:  "fake",
		OutputAdapterName: "fake",
	}
	if err := mgr.Start(context.Background(), req); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if output.count() > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if output.count() == 0 {
		t.Fatalf("expected the output adapter to receive playback frames")
	}

	if err := mgr.Stop(req.SessionID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	convCtx, err := store.GetContext(context.Background(), req.SessionID)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if len(convCtx.History) == 0 {
		t.Fatalf("expected at least one turn persisted to history")
	}
	if convCtx.History[0].UserUtterance != "hello there" {
		t.Fatalf("unexpected transcript persisted: %+v", convCtx.History[0])
	}
}

func TestManagerStopIsNoopForUnknownSession(t *testing.T) {
	mgr := NewManager(Config{Adapters: ioadapter.NewRegistry()})
	if err := mgr.Stop("does-not-exist"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
