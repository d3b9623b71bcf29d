// Package expire implements the durable expiration workflow: delete a stored
// file after its time-to-live has elapsed, surviving process restarts and
// retrying transient failures.
//
// Instead of relying on a workflow engine's replay semantics, each task is an
// explicit state machine whose transitions are persisted by a TaskStore.
// Recovery after a crash means resuming from the last persisted state, never
// re-running history.
package expire

import (
	"time"

	"github.com/google/uuid"
)

// State is the persisted lifecycle state of an expiration task.
type State string

const (
	// StateScheduled: the task is durably recorded but not yet counting down.
	StateScheduled State = "scheduled"
	// StateWaiting: the deadline is armed; the worker picks the task up once
	// next_attempt_at has passed.
	StateWaiting State = "waiting"
	// StateDispatching: a worker has claimed the task and is running the
	// deletion activity.
	StateDispatching State = "dispatching"
	// StateRetrying: the last attempt failed transiently; the task waits out
	// a backoff before the next attempt.
	StateRetrying State = "retrying"
	// StateCompleted: terminal; the deletion activity succeeded.
	StateCompleted State = "completed"
	// StateAbandoned: terminal; all attempts were exhausted. Surfaced in the
	// operational log only — the upload already returned success.
	StateAbandoned State = "abandoned"
)

// Task is one scheduled deletion. Target is the path of the stored file
// relative to the storage root. ExpiresAt is fixed at creation time, so a
// restart never re-charges the TTL.
type Task struct {
	ID            uuid.UUID
	Target        string
	TTL           time.Duration
	State         State
	ExpiresAt     time.Time
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clock abstracts time so TTL logic can be tested deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}
