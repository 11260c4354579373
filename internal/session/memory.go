package session

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/gabrielpreston/voxfabric/internal/errs"
)

// MemoryStore is the default, single-node Store backend: an
// insertion-ordered map with per-operation locking, LRU eviction at
// capacity and TTL eviction on access, grounded on the teacher's gpuHub
// (cmd/orchestrator/gpu.go) mutex-guarded map pattern.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	contexts   map[string]*ConversationContext
	order      *list.List
	elements   map[string]*list.Element
	ttl        time.Duration
	maxSize    int
	maxTurns   int
	policy     OverflowPolicy
	summarize  Summarizer
	execLog    []ExecutionLogEntry
}

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	TTL        time.Duration
	MaxSize    int
	MaxTurns   int
	Policy     OverflowPolicy
	Summarizer Summarizer
}

// NewMemoryStore builds an in-memory Store. Zero-valued fields in cfg take
// the spec defaults (60min TTL, 1000 sessions, 20 turns, drop-oldest).
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSessions
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxHistory
	}
	return &MemoryStore{
		sessions:  make(map[string]*Session),
		contexts:  make(map[string]*ConversationContext),
		order:     list.New(),
		elements:  make(map[string]*list.Element),
		ttl:       cfg.TTL,
		maxSize:   cfg.MaxSize,
		maxTurns:  cfg.MaxTurns,
		policy:    cfg.Policy,
		summarize: cfg.Summarizer,
	}
}

func (m *MemoryStore) touchLRU(id string) {
	if el, ok := m.elements[id]; ok {
		m.order.MoveToFront(el)
		return
	}
	m.elements[id] = m.order.PushFront(id)
}

func (m *MemoryStore) evictLocked(now time.Time) {
	for id, s := range m.sessions {
		if now.Sub(s.LastActiveAt) > m.ttl {
			s.State = StateExpired
			delete(m.sessions, id)
			delete(m.contexts, id)
			if el, ok := m.elements[id]; ok {
				m.order.Remove(el)
				delete(m.elements, id)
			}
		}
	}
	for m.order.Len() > m.maxSize {
		back := m.order.Back()
		if back == nil {
			break
		}
		id := back.Value.(string)
		m.order.Remove(back)
		delete(m.elements, id)
		delete(m.sessions, id)
		delete(m.contexts, id)
	}
}

// CreateSession inserts s in StateNew.
func (m *MemoryStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.State = StateNew
	m.sessions[s.ID] = s
	m.touchLRU(s.ID)
	m.evictLocked(time.Now())
	return nil
}

// GetSession returns the session, transitioning Idle sessions back to
// Active and evicting anything past hard TTL on the way.
func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.evictLocked(now)

	s, ok := m.sessions[id]
	if !ok {
		return nil, errs.New(errs.KindSessionNotFound, "session "+id+" not found")
	}
	s.Touch(now)
	m.touchLRU(id)
	return s, nil
}

// GetContext returns id's conversation context, creating an empty one on
// first access.
func (m *MemoryStore) GetContext(_ context.Context, id string) (*ConversationContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx, ok := m.contexts[id]; ok {
		return ctx, nil
	}
	now := time.Now()
	ctx := &ConversationContext{SessionID: id, CreatedAt: now, LastActiveAt: now}
	m.contexts[id] = ctx
	return ctx, nil
}

// SaveContext overwrites the stored context for convCtx.SessionID, applying
// the overflow policy and bumping LastActiveAt.
func (m *MemoryStore) SaveContext(ctx context.Context, convCtx *ConversationContext) error {
	convCtx.LastActiveAt = time.Now()
	convCtx.History = applyOverflow(ctx, convCtx.History, m.maxTurns, m.policy, m.summarize)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[convCtx.SessionID] = convCtx
	if s, ok := m.sessions[convCtx.SessionID]; ok {
		s.Touch(convCtx.LastActiveAt)
	}
	return nil
}

// LogExecution appends entry to the in-memory audit log.
func (m *MemoryStore) LogExecution(_ context.Context, entry ExecutionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execLog = append(m.execLog, entry)
	return nil
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error { return nil }
