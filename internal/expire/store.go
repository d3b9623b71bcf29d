package expire

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrTaskNotFound is returned by TaskStore methods that target a specific
// task when no row matches the id and expected state.
var ErrTaskNotFound = errors.New("expiration task not found")

// TaskStore persists expiration tasks and their state transitions. The
// Postgres implementation lives in expirepg; MemoryStore backs tests.
//
// Implementations must make every transition durable before returning, so a
// crash at any point leaves the task either finishable or cleanly
// restartable — never silently lost.
type TaskStore interface {
	// Create persists a new task in StateScheduled.
	Create(ctx context.Context, t *Task) error

	// Arm moves a scheduled task to StateWaiting. The deadline was fixed at
	// creation; arming only makes the task eligible for claiming.
	Arm(ctx context.Context, id uuid.UUID) error

	// ClaimDue atomically moves up to limit due tasks (waiting or retrying,
	// next attempt at or before now) to StateDispatching and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Task, error)

	// MarkCompleted finishes a dispatching task successfully.
	MarkCompleted(ctx context.Context, id uuid.UUID) error

	// MarkRetrying records a failed attempt and schedules the next one.
	MarkRetrying(ctx context.Context, id uuid.UUID, attempts int, next time.Time, cause string) error

	// MarkAbandoned finishes a dispatching task after exhausting retries.
	MarkAbandoned(ctx context.Context, id uuid.UUID, cause string) error

	// RecoverDispatching returns tasks stuck in StateDispatching to
	// StateWaiting. Called on worker start so a crash mid-dispatch leads to
	// a re-attempt (the deletion activity is idempotent).
	RecoverDispatching(ctx context.Context) (int, error)
}
