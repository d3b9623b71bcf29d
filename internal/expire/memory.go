package expire

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory TaskStore. It backs unit tests and lets the
// scheduler core be exercised without a database; it is not durable.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[uuid.UUID]*Task)}
}

func (m *MemoryStore) Create(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	cp.State = StateScheduled
	m.tasks[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Arm(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || t.State != StateScheduled {
		return ErrTaskNotFound
	}
	t.State = StateWaiting
	return nil
}

func (m *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*Task
	for _, t := range m.tasks {
		if (t.State == StateWaiting || t.State == StateRetrying) && !t.NextAttemptAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]Task, 0, len(due))
	for _, t := range due {
		t.State = StateDispatching
		t.UpdatedAt = now
		claimed = append(claimed, *t)
	}
	return claimed, nil
}

func (m *MemoryStore) MarkCompleted(_ context.Context, id uuid.UUID) error {
	return m.transition(id, StateDispatching, func(t *Task) {
		t.State = StateCompleted
	})
}

func (m *MemoryStore) MarkRetrying(_ context.Context, id uuid.UUID, attempts int, next time.Time, cause string) error {
	return m.transition(id, StateDispatching, func(t *Task) {
		t.State = StateRetrying
		t.Attempts = attempts
		t.NextAttemptAt = next
		t.LastError = cause
	})
}

func (m *MemoryStore) MarkAbandoned(_ context.Context, id uuid.UUID, cause string) error {
	return m.transition(id, StateDispatching, func(t *Task) {
		t.State = StateAbandoned
		t.LastError = cause
	})
}

func (m *MemoryStore) RecoverDispatching(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.tasks {
		if t.State == StateDispatching {
			t.State = StateWaiting
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the task, for assertions in tests.
func (m *MemoryStore) Get(id uuid.UUID) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

func (m *MemoryStore) transition(id uuid.UUID, from State, apply func(*Task)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || t.State != from {
		return ErrTaskNotFound
	}
	apply(t)
	return nil
}
