// Package recorder persists session history. The orchestrator treats every
// recorder as best-effort, so implementations report errors but must never
// be load-bearing for guidance.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/ajmerced/sherpa-cli/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Store is the PostgreSQL recorder.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Recorder = (*Store)(nil)

// schemaStatements are idempotent so a fresh database works out of the box.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS guide_sessions (
        id         TEXT PRIMARY KEY,
        goal       TEXT NOT NULL,
        started_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS guide_steps (
        id           TEXT PRIMARY KEY,
        session_id   TEXT NOT NULL REFERENCES guide_sessions(id),
        description  TEXT NOT NULL,
        label        TEXT NOT NULL,
        shape        TEXT NOT NULL,
        is_final     BOOLEAN NOT NULL,
        is_substep   BOOLEAN NOT NULL,
        completed_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS guide_failures (
        session_id  TEXT NOT NULL,
        stage       TEXT NOT NULL,
        message     TEXT NOT NULL,
        occurred_at TIMESTAMPTZ NOT NULL
    );`,
}

// New creates the store, verifies connectivity, and ensures the schema.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		pool: pool,
		log:  logger.Named("recorder"),
	}

	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to ensure recorder schema: %w", err)
		}
	}
	return s, nil
}

// RecordSessionStart inserts the session row.
func (s *Store) RecordSessionStart(ctx context.Context, session schemas.Session) error {
	const sql = `INSERT INTO guide_sessions (id, goal, started_at) VALUES ($1, $2, $3);`

	if _, err := s.pool.Exec(ctx, sql, session.ID, session.Goal, session.StartedAt.UTC()); err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

// RecordStepCompletion inserts one completed step.
func (s *Store) RecordStepCompletion(ctx context.Context, sessionID string, step schemas.Instruction, completedAt time.Time) error {
	const sql = `
        INSERT INTO guide_steps (id, session_id, description, label, shape, is_final, is_substep, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err := s.pool.Exec(ctx, sql,
		step.ID, sessionID, step.Description, step.Label, string(step.Shape),
		step.IsFinal, step.IsSubstep, completedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record step completion: %w", err)
	}
	return nil
}

// RecordFailure appends a failure event for the session.
func (s *Store) RecordFailure(ctx context.Context, sessionID string, stage schemas.Stage, cause error) error {
	const sql = `INSERT INTO guide_failures (session_id, stage, message, occurred_at) VALUES ($1, $2, $3, $4);`

	message := ""
	if cause != nil {
		message = cause.Error()
	}
	if _, err := s.pool.Exec(ctx, sql, sessionID, string(stage), message, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

// SessionSteps returns the completed steps of a session in completion order.
func (s *Store) SessionSteps(ctx context.Context, sessionID string) ([]schemas.Instruction, error) {
	const sql = `
        SELECT id, description, label, shape, is_final, is_substep
        FROM guide_steps
        WHERE session_id = $1
        ORDER BY completed_at ASC;`

	rows, err := s.pool.Query(ctx, sql, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session steps: %w", err)
	}
	defer rows.Close()

	var steps []schemas.Instruction
	for rows.Next() {
		var step schemas.Instruction
		var shape string
		if err := rows.Scan(&step.ID, &step.Description, &step.Label, &shape, &step.IsFinal, &step.IsSubstep); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		step.Shape = schemas.Shape(shape)
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return steps, nil
}
