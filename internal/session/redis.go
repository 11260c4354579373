package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gabrielpreston/voxfabric/internal/errs"
)

// RedisStore persists sessions and contexts to Redis as JSON values under
// TTL-bearing keys, grounded on lookatitude-beluga-ai's redis.MessageStore
// (client passed in, JSON-marshaled values) and iamprashant-voice-ai's
// RTPPortAllocator (the only other pack user of github.com/redis/go-redis/v9,
// confirming the per-instance TTL-refresh idiom this backend reuses).
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	maxTurns  int
	policy    OverflowPolicy
	summarize Summarizer
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Client is the Redis client to use. Required.
	Client *redis.Client
	// KeyPrefix namespaces this store's keys. Defaults to "voxfabric:session:".
	KeyPrefix  string
	TTL        time.Duration
	MaxTurns   int
	Policy     OverflowPolicy
	Summarizer Summarizer
}

// NewRedisStore builds a RedisStore over an already-constructed client.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("session: redis client is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "voxfabric:session:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxHistory
	}
	return &RedisStore{
		client:    cfg.Client,
		keyPrefix: prefix,
		ttl:       ttl,
		maxTurns:  maxTurns,
		policy:    cfg.Policy,
		summarize: cfg.Summarizer,
	}, nil
}

func (r *RedisStore) sessionKey(id string) string { return r.keyPrefix + id }
func (r *RedisStore) contextKey(id string) string { return r.keyPrefix + id + ":context" }

type storedSession struct {
	ID           string            `json:"id"`
	State        State             `json:"state"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActiveAt time.Time         `json:"last_active_at"`
	OwnerID      string            `json:"owner_id"`
	ChannelID    string            `json:"channel_id"`
	Metadata     map[string]string `json:"metadata"`
}

// CreateSession writes s in StateNew with the store's TTL.
func (r *RedisStore) CreateSession(ctx context.Context, s *Session) error {
	s.State = StateNew
	data, err := json.Marshal(toStoredSession(s))
	if err != nil {
		return fmt.Errorf("session: marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.sessionKey(s.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set session: %w", err)
	}
	return nil
}

// GetSession returns the session, refreshing its TTL and state on access.
// A Redis-expired key and a session this store has already logically
// expired are indistinguishable, so both surface as KindSessionNotFound.
func (r *RedisStore) GetSession(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, errs.New(errs.KindSessionNotFound, "session "+id+" not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindDependencyUnavailable, "redis get session", err)
	}

	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("session: decode session: %w", err)
	}
	s := fromStoredSession(stored)
	s.Touch(time.Now())

	refreshed, err := json.Marshal(toStoredSession(s))
	if err != nil {
		return nil, fmt.Errorf("session: marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.sessionKey(id), refreshed, r.ttl).Err(); err != nil {
		return nil, fmt.Errorf("session: redis touch session: %w", err)
	}
	return s, nil
}

// GetContext returns id's conversation context, creating an empty one on
// first access.
func (r *RedisStore) GetContext(ctx context.Context, id string) (*ConversationContext, error) {
	data, err := r.client.Get(ctx, r.contextKey(id)).Bytes()
	if err == redis.Nil {
		now := time.Now()
		return &ConversationContext{SessionID: id, CreatedAt: now, LastActiveAt: now}, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindDependencyUnavailable, "redis get context", err)
	}

	var convCtx ConversationContext
	if err := json.Unmarshal(data, &convCtx); err != nil {
		return nil, fmt.Errorf("session: decode context: %w", err)
	}
	return &convCtx, nil
}

// SaveContext overwrites the stored context, applying the overflow policy
// and refreshing its TTL.
func (r *RedisStore) SaveContext(ctx context.Context, convCtx *ConversationContext) error {
	convCtx.LastActiveAt = time.Now()
	convCtx.History = applyOverflow(ctx, convCtx.History, r.maxTurns, r.policy, r.summarize)

	data, err := json.Marshal(convCtx)
	if err != nil {
		return fmt.Errorf("session: marshal context: %w", err)
	}
	if err := r.client.Set(ctx, r.contextKey(convCtx.SessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set context: %w", err)
	}
	return nil
}

// LogExecution appends entry to a capped Redis list under the session's
// audit key.
func (r *RedisStore) LogExecution(ctx context.Context, entry ExecutionLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("session: marshal log entry: %w", err)
	}
	key := r.keyPrefix + entry.SessionID + ":log"
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -500, -1)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: redis log execution: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func toStoredSession(s *Session) storedSession {
	return storedSession{
		ID:           s.ID,
		State:        s.State,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		OwnerID:      s.OwnerID,
		ChannelID:    s.ChannelID,
		Metadata:     s.Metadata,
	}
}

func fromStoredSession(stored storedSession) *Session {
	return &Session{
		ID:           stored.ID,
		State:        stored.State,
		CreatedAt:    stored.CreatedAt,
		LastActiveAt: stored.LastActiveAt,
		OwnerID:      stored.OwnerID,
		ChannelID:    stored.ChannelID,
		Metadata:     stored.Metadata,
	}
}
