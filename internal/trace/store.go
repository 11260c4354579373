package trace

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// maxCallSessions bounds how many call sessions the local trace store
// retains; CreateCallSession prunes the oldest beyond this on every insert
// so a long-running orchestrator doesn't grow this table unbounded.
const maxCallSessions = 100

// Store persists call session/turn/span trace data to PostgreSQL, the
// read side the control plane's trace routes and the local OTel exporter
// fallback both draw from.
type Store struct {
	db *sql.DB
}

// Open connects to a PostgreSQL trace database at connStr and applies any
// outstanding migrations.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("trace open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateCallSession inserts a new call session and prunes the oldest
// sessions beyond maxCallSessions.
func (s *Store) CreateCallSession(id, metadata string) error {
	_, err := s.db.Exec(
		`INSERT INTO call_sessions (id, metadata, started_at) VALUES ($1, $2, $3)`,
		id, metadata, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`DELETE FROM call_sessions WHERE id NOT IN (SELECT id FROM call_sessions ORDER BY started_at DESC LIMIT $1)`,
		maxCallSessions,
	)
	return err
}

// EndCallSession sets the ended_at timestamp.
func (s *Store) EndCallSession(id string) error {
	_, err := s.db.Exec(
		`UPDATE call_sessions SET ended_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	return err
}

// CreateTurn inserts a new turn.
func (s *Store) CreateTurn(id, sessionID string) error {
	_, err := s.db.Exec(
		`INSERT INTO turns (id, session_id, started_at, status) VALUES ($1, $2, $3, 'running')`,
		id, sessionID, time.Now().UTC(),
	)
	return err
}

// UpdateTurn sets a turn's final fields once its pipeline run completes.
func (s *Store) UpdateTurn(id string, durationMs float64, transcript, response, status string) error {
	_, err := s.db.Exec(
		`UPDATE turns SET duration_ms = $1, transcript = $2, response = $3, status = $4 WHERE id = $5`,
		durationMs, transcript, response, status, id,
	)
	return err
}

// CreateStageSpan inserts a pipeline-stage span.
func (s *Store) CreateStageSpan(sp StageSpan) error {
	_, err := s.db.Exec(
		`INSERT INTO stage_spans (id, turn_id, name, started_at, duration_ms, input, output, status, error_msg)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sp.ID, sp.TurnID, sp.Name, sp.StartedAt.UTC(),
		sp.DurationMs, sp.Input, sp.Output, sp.Status, sp.Error,
	)
	return err
}

// ListCallSessions returns call sessions ordered newest first, with turn
// counts.
func (s *Store) ListCallSessions(limit, offset int) ([]CallSession, int, error) {
	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM call_sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT cs.id, cs.metadata, cs.started_at, cs.ended_at, COUNT(t.id) as turn_count
		FROM call_sessions cs
		LEFT JOIN turns t ON t.session_id = cs.id
		GROUP BY cs.id
		ORDER BY cs.started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []CallSession
	for rows.Next() {
		var sess CallSession
		var endedAt sql.NullTime
		if err = rows.Scan(&sess.ID, &sess.Metadata, &sess.StartedAt, &endedAt, &sess.TurnCount); err != nil {
			return nil, 0, err
		}
		if endedAt.Valid {
			sess.EndedAt = &endedAt.Time
		}
		sessions = append(sessions, sess)
	}
	return sessions, total, rows.Err()
}

// GetCallSession returns a single call session with its turns.
func (s *Store) GetCallSession(id string) (*CallSession, []Turn, error) {
	var sess CallSession
	var endedAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, metadata, started_at, ended_at FROM call_sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.Metadata, &sess.StartedAt, &endedAt)
	if err != nil {
		return nil, nil, err
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}

	rows, err := s.db.Query(`
		SELECT t.id, t.session_id, t.started_at, t.duration_ms, t.transcript, t.response, t.status,
		       COUNT(sp.id) as span_count
		FROM turns t
		LEFT JOIN stage_spans sp ON sp.turn_id = t.id
		WHERE t.session_id = $1
		GROUP BY t.id
		ORDER BY t.started_at ASC
	`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err = rows.Scan(&t.ID, &t.SessionID, &t.StartedAt, &t.DurationMs, &t.Transcript, &t.Response, &t.Status, &t.SpanCount); err != nil {
			return nil, nil, err
		}
		turns = append(turns, t)
	}
	return &sess, turns, rows.Err()
}

// GetTurn returns a single turn with its stage spans.
func (s *Store) GetTurn(sessionID, turnID string) (*Turn, []StageSpan, error) {
	var t Turn
	err := s.db.QueryRow(
		`SELECT id, session_id, started_at, duration_ms, transcript, response, status FROM turns WHERE id = $1 AND session_id = $2`,
		turnID, sessionID,
	).Scan(&t.ID, &t.SessionID, &t.StartedAt, &t.DurationMs, &t.Transcript, &t.Response, &t.Status)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, turn_id, name, started_at, duration_ms, input, output, status, error_msg FROM stage_spans WHERE turn_id = $1 ORDER BY started_at ASC`,
		turnID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var spans []StageSpan
	for rows.Next() {
		var sp StageSpan
		if err = rows.Scan(&sp.ID, &sp.TurnID, &sp.Name, &sp.StartedAt, &sp.DurationMs, &sp.Input, &sp.Output, &sp.Status, &sp.Error); err != nil {
			return nil, nil, err
		}
		spans = append(spans, sp)
	}
	return &t, spans, rows.Err()
}
