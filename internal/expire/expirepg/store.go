// Package expirepg provides the Postgres-backed expiration task store. Every
// state transition is a single UPDATE guarded by the expected current state,
// so a row can never skip a step or be claimed twice.
package expirepg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"folio/internal/expire"
)

// Store implements expire.TaskStore on database/sql. It is safe for multiple
// workers: ClaimDue uses FOR UPDATE SKIP LOCKED so concurrent sweeps never
// claim the same row.
type Store struct {
	db *sql.DB
}

// New returns a store writing to db. The expiration_tasks table is owned by
// the migrations in internal/db.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, t *expire.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expiration_tasks
			(id, target, ttl_seconds, state, expires_at, attempts, next_attempt_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8, $8)
	`, t.ID, t.Target, int64(t.TTL.Seconds()), expire.StateScheduled, t.ExpiresAt, t.Attempts, t.NextAttemptAt, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) Arm(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, expire.StateScheduled, `
		UPDATE expiration_tasks
		SET state = $2, updated_at = now()
		WHERE id = $1 AND state = $3
	`, expire.StateWaiting)
}

func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]expire.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE expiration_tasks
		SET state = $4, updated_at = now()
		WHERE id IN (
			SELECT id FROM expiration_tasks
			WHERE state IN ($1, $2) AND next_attempt_at <= $3
			ORDER BY next_attempt_at ASC
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, target, ttl_seconds, state, expires_at, attempts, next_attempt_at, last_error, created_at, updated_at
	`, expire.StateWaiting, expire.StateRetrying, now, expire.StateDispatching, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []expire.Task
	for rows.Next() {
		var (
			t          expire.Task
			ttlSeconds int64
			state      string
		)
		if err := rows.Scan(&t.ID, &t.Target, &ttlSeconds, &state, &t.ExpiresAt,
			&t.Attempts, &t.NextAttemptAt, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.TTL = time.Duration(ttlSeconds) * time.Second
		t.State = expire.State(state)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id, expire.StateDispatching, `
		UPDATE expiration_tasks
		SET state = $2, updated_at = now()
		WHERE id = $1 AND state = $3
	`, expire.StateCompleted)
}

func (s *Store) MarkRetrying(ctx context.Context, id uuid.UUID, attempts int, next time.Time, cause string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE expiration_tasks
		SET state = $2, attempts = $3, next_attempt_at = $4, last_error = $5, updated_at = now()
		WHERE id = $1 AND state = $6
	`, id, expire.StateRetrying, attempts, next, cause, expire.StateDispatching)
	if err != nil {
		return fmt.Errorf("mark task %s retrying: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *Store) MarkAbandoned(ctx context.Context, id uuid.UUID, cause string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE expiration_tasks
		SET state = $2, last_error = $3, updated_at = now()
		WHERE id = $1 AND state = $4
	`, id, expire.StateAbandoned, cause, expire.StateDispatching)
	if err != nil {
		return fmt.Errorf("mark task %s abandoned: %w", id, err)
	}
	return requireRow(res, id)
}

func (s *Store) RecoverDispatching(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE expiration_tasks
		SET state = $1, updated_at = now()
		WHERE state = $2
	`, expire.StateWaiting, expire.StateDispatching)
	if err != nil {
		return 0, fmt.Errorf("recover dispatching tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover dispatching tasks: %w", err)
	}
	return int(n), nil
}

// transition runs a guarded single-row state change.
func (s *Store) transition(ctx context.Context, id uuid.UUID, from expire.State, query string, to expire.State) error {
	res, err := s.db.ExecContext(ctx, query, id, to, from)
	if err != nil {
		return fmt.Errorf("transition task %s to %s: %w", id, to, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("task %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, expire.ErrTaskNotFound)
	}
	return nil
}
