// Package session implements the Context/Session Store (C13): per-session
// conversation history with TTL/LRU eviction across pluggable backends.
package session

import (
	"context"
	"time"
)

// State is a position in the session lifecycle: New -> Active -> Idle -> Expired.
type State string

const (
	StateNew     State = "new"
	StateActive  State = "active"
	StateIdle    State = "idle"
	StateExpired State = "expired"
)

const (
	// DefaultTTL is how long a session may sit with no interaction before
	// it is eligible for expiry.
	DefaultTTL = 60 * time.Minute
	// DefaultMaxSessions bounds the in-memory backend's LRU capacity.
	DefaultMaxSessions = 1000
	// DefaultMaxHistory bounds a ConversationContext's turn count.
	DefaultMaxHistory = 20
)

// Session is one caller's lifecycle record.
type Session struct {
	ID           string
	State        State
	CreatedAt    time.Time
	LastActiveAt time.Time
	OwnerID      string
	ChannelID    string
	Metadata     map[string]string
}

// Touch marks the session Active and refreshes LastActiveAt. Called on
// every interaction, from either New or Idle.
func (s *Session) Touch(now time.Time) {
	s.State = StateActive
	s.LastActiveAt = now
}

// HistoryEntry is one (user utterance, agent response) turn.
type HistoryEntry struct {
	UserUtterance string
	AgentResponse string
}

// ConversationContext is the bounded turn history owned exclusively by one
// Session. Overflow policy (drop-oldest or summarize-oldest) is applied by
// the owning Store when a turn is appended past MaxHistory.
type ConversationContext struct {
	SessionID    string
	History      []HistoryEntry
	CreatedAt    time.Time
	LastActiveAt time.Time
	Metadata     map[string]string
}

// ExecutionLogEntry records one agent invocation against a session, for
// audit and the persisted agent_log table.
type ExecutionLogEntry struct {
	SessionID  string
	Agent      string
	Transcript string
	Response   string
	LatencyMs  float64
	Timestamp  time.Time
}

// Store is the pluggable backend contract every implementation (memory,
// postgres, redis) satisfies identically.
type Store interface {
	// GetSession returns the session and reports whether it is still
	// live, advancing its state per the TTL rules on every access.
	GetSession(ctx context.Context, id string) (*Session, error)
	// CreateSession creates a new session record in StateNew.
	CreateSession(ctx context.Context, s *Session) error
	// SaveContext persists ctx, overwriting any existing context for the
	// same session id. Implementations apply the overflow policy before
	// the write lands, so ctx.History is already bounded when it returns.
	SaveContext(ctx context.Context, convCtx *ConversationContext) error
	// GetContext returns the conversation context for id, creating an
	// empty one if none exists yet.
	GetContext(ctx context.Context, id string) (*ConversationContext, error)
	// LogExecution appends an audit record of one agent invocation.
	LogExecution(ctx context.Context, entry ExecutionLogEntry) error
	// Close releases backend resources.
	Close() error
}

// OverflowPolicy decides how a ConversationContext sheds turns once it
// exceeds its configured maximum.
type OverflowPolicy int

const (
	// PolicyDropOldest discards the oldest turns, the spec default.
	PolicyDropOldest OverflowPolicy = iota
	// PolicySummarizeOldest condenses the oldest turns into one synthetic
	// entry via a registered summarizer agent.
	PolicySummarizeOldest
)

// Summarizer condenses entries into a single synthetic history turn. The
// agent package's SummarizerAgent.Summarize satisfies this signature.
type Summarizer func(ctx context.Context, entries []HistoryEntry) (string, error)

// applyOverflow trims history to maxTurns using policy, summarizing the
// evicted prefix via summarize when policy is PolicySummarizeOldest and a
// summarizer is available. It never fails the write: summarization errors
// fall back to drop-oldest so SaveContext always succeeds.
func applyOverflow(ctx context.Context, history []HistoryEntry, maxTurns int, policy OverflowPolicy, summarize Summarizer) []HistoryEntry {
	if maxTurns <= 0 || len(history) <= maxTurns {
		return history
	}

	overflow := len(history) - maxTurns
	if policy == PolicySummarizeOldest && summarize != nil {
		evicted := history[:overflow+1]
		if summary, err := summarize(ctx, evicted); err == nil {
			synthetic := HistoryEntry{UserUtterance: "(summary)", AgentResponse: summary}
			return append([]HistoryEntry{synthetic}, history[overflow+1:]...)
		}
	}
	return history[overflow:]
}
