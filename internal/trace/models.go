package trace

import "time"

// CallSession represents one orchestrated voice session, independent of
// which ioadapter transport (Discord, WebRTC, browser-ws) carried it.
type CallSession struct {
	ID        string     `json:"id"`
	Metadata  string     `json:"metadata"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	TurnCount int        `json:"turn_count,omitempty"`
}

// Turn represents one segment's trip through the pipeline: STT, agent
// routing (including any LLM call), and TTS synthesis.
type Turn struct {
	ID         string  `json:"id"`
	SessionID  string  `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64 `json:"duration_ms,omitempty"`
	Transcript string  `json:"transcript,omitempty"`
	Response   string  `json:"response,omitempty"`
	Status     string  `json:"status"`
	SpanCount  int     `json:"span_count,omitempty"`
}

// StageSpan represents one pipeline stage's execution within a turn (stt,
// agent, tts, tool:<name>, ...).
type StageSpan struct {
	ID         string    `json:"id"`
	TurnID     string    `json:"turn_id"`
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Input      string    `json:"input,omitempty"`
	Output     string    `json:"output,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}
