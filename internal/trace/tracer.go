package trace

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// maxTraceFieldLen caps the length of transcript/response/input/output
	// strings stored in trace spans, so one noisy turn can't blow up row
	// size in the trace database.
	maxTraceFieldLen = 500

	// traceChannelBuffer is how many trace messages can queue before the
	// background drain goroutine writes them to the store.
	traceChannelBuffer = 64
)

type traceMsg struct {
	kind string // "turn_create", "turn_update", "stage_span"
	// turn fields
	turnID     string
	sessionID  string
	durationMs float64
	transcript string
	response   string
	status     string
	// span fields
	span StageSpan
}

// Tracer writes one call session's turn/span trace data asynchronously via
// a buffered channel, so the hot pipeline path (internal/orchestrator's
// sessionLoop) never blocks on a trace database round trip. All methods
// are nil-safe (no-op on nil receiver) so a session started with tracing
// disabled can call them unconditionally.
type Tracer struct {
	store     *Store
	sessionID string
	ch        chan traceMsg
	done      chan struct{}
}

// NewTracer creates a tracer bound to one call session.
// Launches a background goroutine (drain) that writes trace messages to the
// store sequentially. Callers MUST call Close() when done to flush pending
// writes and stop the goroutine — otherwise writes are lost and the
// goroutine leaks.
func NewTracer(store *Store, sessionID string) *Tracer {
	t := &Tracer{
		store:     store,
		sessionID: sessionID,
		ch:        make(chan traceMsg, traceChannelBuffer),
		done:      make(chan struct{}),
	}
	go t.drain()
	return t
}

func (t *Tracer) drain() {
	defer close(t.done)
	for msg := range t.ch {
		t.handle(msg)
	}
}

func (t *Tracer) handle(m traceMsg) {
	err := t.dispatch(m)
	if err != nil {
		slog.Warn("trace write failed", "kind", m.kind, "error", err)
	}
}

func (t *Tracer) dispatch(m traceMsg) error {
	if m.kind == "turn_create" {
		return t.store.CreateTurn(m.turnID, m.sessionID)
	}
	if m.kind == "turn_update" {
		return t.store.UpdateTurn(m.turnID, m.durationMs, m.transcript, m.response, m.status)
	}
	if m.kind == "stage_span" {
		return t.store.CreateStageSpan(m.span)
	}
	return nil
}

// StartTurn begins a new turn and returns its ID.
func (t *Tracer) StartTurn() string {
	if t == nil {
		return ""
	}
	id := uuid.NewString()
	t.ch <- traceMsg{kind: "turn_create", turnID: id, sessionID: t.sessionID}
	return id
}

// EndTurn finalizes a turn.
func (t *Tracer) EndTurn(turnID string, durationMs float64, transcript, response, status string) {
	if t == nil {
		return
	}
	t.ch <- traceMsg{
		kind:       "turn_update",
		turnID:     turnID,
		durationMs: durationMs,
		transcript: truncate(transcript, maxTraceFieldLen),
		response:   truncate(response, maxTraceFieldLen),
		status:     status,
	}
}

// RecordStageSpan records one completed pipeline-stage span within a turn.
func (t *Tracer) RecordStageSpan(turnID, name string, startedAt time.Time, durationMs float64, input, output, status, errMsg string) {
	if t == nil {
		return
	}
	t.ch <- traceMsg{
		kind: "stage_span",
		span: StageSpan{
			ID:         uuid.NewString(),
			TurnID:     turnID,
			Name:       name,
			StartedAt:  startedAt,
			DurationMs: durationMs,
			Input:      truncate(input, maxTraceFieldLen),
			Output:     truncate(output, maxTraceFieldLen),
			Status:     status,
			Error:      errMsg,
		},
	}
}

// Close drains pending writes and shuts down the background goroutine.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	close(t.ch)
	<-t.done
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
