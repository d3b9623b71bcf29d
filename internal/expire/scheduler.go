package expire

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"folio/internal/logger"
)

// Scheduler is the submission side of the expiration workflow. It persists a
// task and arms its deadline; the Worker does the rest. Once armed, a task
// always eventually runs to a terminal state — there is no cancellation.
type Scheduler struct {
	store TaskStore
	clock Clock
	log   *logger.Logger
}

// NewScheduler returns a scheduler writing to store.
func NewScheduler(store TaskStore, clock Clock, log *logger.Logger) *Scheduler {
	return &Scheduler{store: store, clock: clock, log: log}
}

// Schedule durably registers the deletion of target after ttl and returns the
// task id. The deadline is computed once, here; a later restart resumes the
// remaining wait from the persisted deadline instead of restarting the TTL.
// An error means the task is not durably registered and the caller must fail
// its own operation.
func (s *Scheduler) Schedule(ctx context.Context, target string, ttl time.Duration) (uuid.UUID, error) {
	now := s.clock.Now().UTC()
	t := &Task{
		ID:            uuid.New(),
		Target:        target,
		TTL:           ttl,
		State:         StateScheduled,
		ExpiresAt:     now.Add(ttl),
		NextAttemptAt: now.Add(ttl),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, t); err != nil {
		return uuid.Nil, fmt.Errorf("persist expiration task: %w", err)
	}
	if err := s.store.Arm(ctx, t.ID); err != nil {
		return uuid.Nil, fmt.Errorf("arm expiration task: %w", err)
	}

	s.log.Info().
		Str("task_id", t.ID.String()).
		Str("target", target).
		Dur("ttl", ttl).
		Time("expires_at", t.ExpiresAt).
		Msg("expiration scheduled")

	return t.ID, nil
}
