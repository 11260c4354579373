// Package orchestrator implements the per-session orchestration loop (C14):
// one Manager owns every active session, each session runs its four
// concurrent tasks under an errgroup bound to a per-session context, and
// session teardown finishes in-flight work while Stop waits for it only up
// to a grace period; nothing forces the loop closed. Grounded on the teacher's internal/pipeline.Pipeline
// (one struct per call, constructed at WebSocket upgrade and torn down at
// disconnect), but replaces its single-goroutine ProcessChunk dispatch with
// the spec's explicit four-task concurrency model via golang.org/x/sync/errgroup.
// The health-probing and Docker-Compose service-lifecycle management this
// package used to hold (ServiceManager/ServiceInfo) has moved to
// internal/controlplane, which only probes dependency health and never
// starts or stops them; this fabric has no sidecar lifecycle to manage.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/agent"
	"github.com/gabrielpreston/voxfabric/internal/errs"
	"github.com/gabrielpreston/voxfabric/internal/guardrail"
	"github.com/gabrielpreston/voxfabric/internal/ioadapter"
	"github.com/gabrielpreston/voxfabric/internal/jitter"
	"github.com/gabrielpreston/voxfabric/internal/metrics"
	"github.com/gabrielpreston/voxfabric/internal/session"
	"github.com/gabrielpreston/voxfabric/internal/stt"
	"github.com/gabrielpreston/voxfabric/internal/tool"
	voxtrace "github.com/gabrielpreston/voxfabric/internal/trace"
	"github.com/gabrielpreston/voxfabric/internal/tts"
	"github.com/gabrielpreston/voxfabric/internal/vad"
)

// Default per-operation budgets from §5.
const (
	DefaultSTTTimeout    = 8 * time.Second
	DefaultTTSTimeout    = 30 * time.Second
	DefaultDrainGrace    = 3 * time.Second
	DefaultBargeInWindow = 250 * time.Millisecond
)

const apologyPhrase = "Sorry, I had trouble with that. Could you say it again?"
const guardrailCannedResponse = "I can't help with that request."

// Config holds the collaborators every session loop shares; one Config is
// built once at process start and passed to every session.
type Config struct {
	Adapters  *ioadapter.Registry
	Sessions  session.Store
	Agents    *agent.Registry
	Tools     *tool.Registry
	Guardrail *guardrail.Client
	STT       *stt.Client
	TTS       *tts.Client

	// TraceStore persists per-turn/per-stage trace data when non-nil; each
	// session opens its own Tracer against it and closes it on teardown.
	// Left nil, sessions run without call-level tracing.
	TraceStore *voxtrace.Store

	TTSVoiceID string

	VAD            vad.Config
	Jitter         jitter.Config
	DenoiseEnabled bool

	STTTimeout    time.Duration
	TTSTimeout    time.Duration
	DrainGrace    time.Duration
	BargeInWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.STTTimeout <= 0 {
		c.STTTimeout = DefaultSTTTimeout
	}
	if c.TTSTimeout <= 0 {
		c.TTSTimeout = DefaultTTSTimeout
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = DefaultDrainGrace
	}
	if c.BargeInWindow <= 0 {
		c.BargeInWindow = DefaultBargeInWindow
	}
	if c.TTSVoiceID == "" {
		c.TTSVoiceID = "default"
	}
	return c
}

// StartRequest describes one session to bring up: which adapters to use
// and the identity to attach to its Session record.
type StartRequest struct {
	SessionID         string
	OwnerID           string
	ChannelID         string
	InputAdapterName  string
	OutputAdapterName string
	AdapterConfig     map[string]string
}

// Manager owns the set of active sessions and their lifecycles.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*runningSession
}

type runningSession struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager constructs a Manager over the shared Config, applying
// defaults for any zero-valued timeout/grace fields.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults(), sessions: make(map[string]*runningSession)}
}

// Start brings up a new session: constructs its adapters, registers it
// with the session store, and launches its four concurrent tasks. Start
// returns once the adapters are up; the loop itself runs in the
// background until Stop or an AdapterFatal failure ends it.
func (m *Manager) Start(ctx context.Context, req StartRequest) error {
	input, err := m.cfg.Adapters.GetInput(req.InputAdapterName, req.AdapterConfig)
	if err != nil {
		return err
	}
	output, err := m.cfg.Adapters.GetOutput(req.OutputAdapterName, req.AdapterConfig)
	if err != nil {
		return err
	}

	now := time.Now()
	sess := &session.Session{
		ID:           req.SessionID,
		State:        session.StateNew,
		CreatedAt:    now,
		LastActiveAt: now,
		OwnerID:      req.OwnerID,
		ChannelID:    req.ChannelID,
	}
	if err := m.cfg.Sessions.CreateSession(ctx, sess); err != nil {
		return err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	rs := &runningSession{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if _, exists := m.sessions[req.SessionID]; exists {
		m.mu.Unlock()
		cancel()
		return errs.New(errs.KindConfig, fmt.Sprintf("session %s already running", req.SessionID))
	}
	m.sessions[req.SessionID] = rs
	m.mu.Unlock()
	metrics.ActiveSessions.Inc()

	loop := newSessionLoop(req.SessionID, input, output, m.cfg)
	if err := loop.startAdapters(sessCtx); err != nil {
		m.mu.Lock()
		delete(m.sessions, req.SessionID)
		m.mu.Unlock()
		metrics.ActiveSessions.Dec()
		cancel()
		close(rs.done)
		return err
	}

	go func() {
		defer close(rs.done)
		defer metrics.ActiveSessions.Dec()
		loop.run(sessCtx)

		m.mu.Lock()
		delete(m.sessions, req.SessionID)
		m.mu.Unlock()
	}()

	return nil
}

// Stop signals sessionID's loop to drain and tear down, waiting up to the
// configured grace period plus one second before returning; a loop still
// running then keeps running in the background. Stop on an unknown session
// is a no-op.
func (m *Manager) Stop(sessionID string) error {
	m.mu.Lock()
	rs, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	rs.cancel()
	select {
	case <-rs.done:
	case <-time.After(m.cfg.DrainGrace + time.Second):
	}
	return nil
}

// Active lists the session IDs currently running.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// StopAll drains every running session, used at process shutdown.
func (m *Manager) StopAll() {
	for _, id := range m.Active() {
		_ = m.Stop(id)
	}
}
