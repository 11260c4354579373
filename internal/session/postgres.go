package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gabrielpreston/voxfabric/internal/errs"
)

// PostgresStore persists sessions and conversation contexts to PostgreSQL
// via a pgxpool.Pool, grounded on MrWong99-glyphoxa's postgres.Store/
// SessionStoreImpl (pool-holding struct, pgx.CollectRows scans) and the
// teacher's internal/trace/store.go migration-on-boot pattern.
type PostgresStore struct {
	pool      *pgxpool.Pool
	maxTurns  int
	policy    OverflowPolicy
	summarize Summarizer
}

// PostgresConfig configures a PostgresStore.
type PostgresConfig struct {
	DSN        string
	MaxTurns   int
	Policy     OverflowPolicy
	Summarizer Summarizer
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	state          TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	last_active_at TIMESTAMPTZ NOT NULL,
	owner          TEXT,
	channel        TEXT,
	metadata_json  JSONB
);

CREATE TABLE IF NOT EXISTS contexts (
	session_id     TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
	history_json   JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_log (
	id          BIGSERIAL PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	agent       TEXT NOT NULL,
	transcript  TEXT NOT NULL,
	response    TEXT NOT NULL,
	latency_ms  DOUBLE PRECISION NOT NULL,
	ts          TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects to cfg.DSN, ensures the session/context/log
// schema exists, and returns a ready Store.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("session: postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session: postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session: postgres migrate: %w", err)
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxHistory
	}
	return &PostgresStore{pool: pool, maxTurns: maxTurns, policy: cfg.Policy, summarize: cfg.Summarizer}, nil
}

// CreateSession inserts s in StateNew.
func (p *PostgresStore) CreateSession(ctx context.Context, s *Session) error {
	s.State = StateNew
	metadata, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("session: marshal metadata: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO sessions (id, state, created_at, last_active_at, owner, channel, metadata_json)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		s.ID, s.State, s.CreatedAt, s.LastActiveAt, s.OwnerID, s.ChannelID, metadata,
	)
	if err != nil {
		return fmt.Errorf("session: insert session: %w", err)
	}
	return nil
}

// GetSession returns the session, advancing state per TTL rules and
// persisting the touch.
func (p *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	var metadata []byte
	err := p.pool.QueryRow(ctx,
		`SELECT id, state, created_at, last_active_at, owner, channel, metadata_json FROM sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.State, &s.CreatedAt, &s.LastActiveAt, &s.OwnerID, &s.ChannelID, &metadata)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errs.New(errs.KindSessionNotFound, "session "+id+" not found")
		}
		return nil, fmt.Errorf("session: query session: %w", err)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &s.Metadata)
	}

	now := time.Now()
	if now.Sub(s.LastActiveAt) > DefaultTTL {
		return nil, errs.New(errs.KindSessionNotFound, "session "+id+" expired")
	}
	s.Touch(now)
	if _, err := p.pool.Exec(ctx, `UPDATE sessions SET state = $1, last_active_at = $2 WHERE id = $3`, s.State, s.LastActiveAt, s.ID); err != nil {
		return nil, fmt.Errorf("session: touch session: %w", err)
	}
	return &s, nil
}

// GetContext returns id's conversation context, creating an empty one on
// first access.
func (p *PostgresStore) GetContext(ctx context.Context, id string) (*ConversationContext, error) {
	var historyJSON []byte
	var createdAt, updatedAt time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT history_json, created_at, updated_at FROM contexts WHERE session_id = $1`, id,
	).Scan(&historyJSON, &createdAt, &updatedAt)
	if err == pgx.ErrNoRows {
		now := time.Now()
		return &ConversationContext{SessionID: id, CreatedAt: now, LastActiveAt: now}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: query context: %w", err)
	}

	var history []HistoryEntry
	if err := json.Unmarshal(historyJSON, &history); err != nil {
		return nil, fmt.Errorf("session: decode history: %w", err)
	}
	return &ConversationContext{SessionID: id, History: history, CreatedAt: createdAt, LastActiveAt: updatedAt}, nil
}

// SaveContext upserts convCtx, applying the overflow policy first.
func (p *PostgresStore) SaveContext(ctx context.Context, convCtx *ConversationContext) error {
	convCtx.LastActiveAt = time.Now()
	convCtx.History = applyOverflow(ctx, convCtx.History, p.maxTurns, p.policy, p.summarize)

	historyJSON, err := json.Marshal(convCtx.History)
	if err != nil {
		return fmt.Errorf("session: marshal history: %w", err)
	}
	createdAt := convCtx.CreatedAt
	if createdAt.IsZero() {
		createdAt = convCtx.LastActiveAt
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO contexts (session_id, history_json, created_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO UPDATE SET history_json = $2, updated_at = $4`,
		convCtx.SessionID, historyJSON, createdAt, convCtx.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("session: upsert context: %w", err)
	}
	return nil
}

// LogExecution appends one agent-invocation audit record.
func (p *PostgresStore) LogExecution(ctx context.Context, entry ExecutionLogEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO agent_log (session_id, agent, transcript, response, latency_ms, ts) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.SessionID, entry.Agent, entry.Transcript, entry.Response, entry.LatencyMs, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("session: log execution: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
