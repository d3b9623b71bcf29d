package expire

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/logger"
	"folio/internal/pathutil"
	"folio/internal/storage"
)

// manualClock is advanced explicitly by tests.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store  *MemoryStore
	files  *storage.Store
	clock  *manualClock
	sched  *Scheduler
	worker *Worker
}

func newFixture(t *testing.T, archiver Archiver, maxAttempts int) *fixture {
	t.Helper()

	store := NewMemoryStore()
	files := storage.New(afero.NewMemMapFs())
	clock := newManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	return &fixture{
		store: store,
		files: files,
		clock: clock,
		sched: NewScheduler(store, clock, logger.Nop()),
		worker: NewWorker(store, files, archiver, clock, nil, logger.Nop(), WorkerConfig{
			PollInterval:    time.Second,
			ActivityTimeout: 10 * time.Second,
			MaxAttempts:     maxAttempts,
			ClaimLimit:      100,
		}),
	}
}

func (f *fixture) putFile(t *testing.T, name, content string) pathutil.RelativePath {
	t.Helper()
	p, err := pathutil.Resolve(name)
	require.NoError(t, err)
	require.NoError(t, f.files.Create(p, strings.NewReader(content)))
	return p
}

func TestSchedule_PersistsArmedTask(t *testing.T) {
	f := newFixture(t, nil, 3)
	ctx := context.Background()

	id, err := f.sched.Schedule(ctx, "doomed.txt", time.Hour)
	require.NoError(t, err)

	task, ok := f.store.Get(id)
	require.True(t, ok)
	assert.Equal(t, StateWaiting, task.State)
	assert.Equal(t, "doomed.txt", task.Target)
	assert.Equal(t, f.clock.Now().Add(time.Hour), task.ExpiresAt)
}

func TestWorker_DoesNotFireBeforeDeadline(t *testing.T) {
	f := newFixture(t, nil, 3)
	ctx := context.Background()

	p := f.putFile(t, "early.txt", "x")
	_, err := f.sched.Schedule(ctx, "early.txt", time.Hour)
	require.NoError(t, err)

	f.clock.Advance(59 * time.Minute)
	f.worker.Sweep(ctx)

	ok, err := f.files.Exists(p)
	require.NoError(t, err)
	assert.True(t, ok, "file must survive until the deadline")
}

func TestWorker_DeletesAfterDeadline(t *testing.T) {
	f := newFixture(t, nil, 3)
	ctx := context.Background()

	p := f.putFile(t, "doomed.txt", "x")
	id, err := f.sched.Schedule(ctx, "doomed.txt", time.Hour)
	require.NoError(t, err)

	f.clock.Advance(time.Hour + time.Second)
	f.worker.Sweep(ctx)

	ok, err := f.files.Exists(p)
	require.NoError(t, err)
	assert.False(t, ok)

	task, _ := f.store.Get(id)
	assert.Equal(t, StateCompleted, task.State)
}

func TestWorker_AbsentTargetIsSuccess(t *testing.T) {
	f := newFixture(t, nil, 3)
	ctx := context.Background()

	// Schedule for a file that was deleted through the HTTP API before the
	// timer fired. The activity is delete-if-exists and must complete.
	id, err := f.sched.Schedule(ctx, "already-gone.txt", time.Minute)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	f.worker.Sweep(ctx)

	task, _ := f.store.Get(id)
	assert.Equal(t, StateCompleted, task.State)
}

func TestWorker_RetriesThenAbandons(t *testing.T) {
	failing := &failingArchiver{err: errors.New("bucket unreachable")}
	f := newFixture(t, failing, 3)
	ctx := context.Background()

	f.putFile(t, "stuck.txt", "x")
	id, err := f.sched.Schedule(ctx, "stuck.txt", time.Minute)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)

	// Attempt 1: fails, backs off.
	f.worker.Sweep(ctx)
	task, _ := f.store.Get(id)
	assert.Equal(t, StateRetrying, task.State)
	assert.Equal(t, 1, task.Attempts)
	assert.True(t, task.NextAttemptAt.After(f.clock.Now()), "retry must back off")
	assert.Contains(t, task.LastError, "bucket unreachable")

	// Attempt 2: still failing.
	f.clock.Advance(5 * time.Minute)
	f.worker.Sweep(ctx)
	task, _ = f.store.Get(id)
	assert.Equal(t, StateRetrying, task.State)
	assert.Equal(t, 2, task.Attempts)

	// Attempt 3: budget exhausted, task abandoned.
	f.clock.Advance(5 * time.Minute)
	f.worker.Sweep(ctx)
	task, _ = f.store.Get(id)
	assert.Equal(t, StateAbandoned, task.State)
}

func TestWorker_RecoversFromRetryableFailure(t *testing.T) {
	failing := &failingArchiver{err: errors.New("transient")}
	f := newFixture(t, failing, 5)
	ctx := context.Background()

	p := f.putFile(t, "flaky.txt", "x")
	id, err := f.sched.Schedule(ctx, "flaky.txt", time.Minute)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	f.worker.Sweep(ctx)

	// Archiver heals; the retry succeeds.
	failing.setErr(nil)
	f.clock.Advance(5 * time.Minute)
	f.worker.Sweep(ctx)

	task, _ := f.store.Get(id)
	assert.Equal(t, StateCompleted, task.State)

	ok, err := f.files.Exists(p)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorker_ArchivesBeforeDelete(t *testing.T) {
	rec := &recordingArchiver{}
	f := newFixture(t, rec, 3)
	ctx := context.Background()

	f.putFile(t, "keep-a-copy.txt", "precious bytes")
	_, err := f.sched.Schedule(ctx, "keep-a-copy.txt", time.Minute)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	f.worker.Sweep(ctx)

	require.Len(t, rec.objects, 1)
	assert.Equal(t, "keep-a-copy.txt", rec.objects[0].name)
	assert.Equal(t, "precious bytes", rec.objects[0].content)
}

func TestRecoverDispatching(t *testing.T) {
	f := newFixture(t, nil, 3)
	ctx := context.Background()

	id, err := f.sched.Schedule(ctx, "crashed.txt", time.Minute)
	require.NoError(t, err)

	// Simulate a crash mid-dispatch: the task was claimed but never marked.
	f.clock.Advance(2 * time.Minute)
	claimed, err := f.store.ClaimDue(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := f.store.RecoverDispatching(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, _ := f.store.Get(id)
	assert.Equal(t, StateWaiting, task.State)

	// The recovered task is picked up by the next sweep and completes.
	f.worker.Sweep(ctx)
	task, _ = f.store.Get(id)
	assert.Equal(t, StateCompleted, task.State)
}

func TestRetryDelay_GrowsWithAttempts(t *testing.T) {
	f := newFixture(t, nil, 3)

	d1 := f.worker.retryDelay(1)
	d5 := f.worker.retryDelay(5)

	assert.Greater(t, d1, time.Duration(0))
	assert.Greater(t, d5, d1)
	assert.LessOrEqual(t, d5, 2*f.worker.cfg.RetryMaxInterval)
}

type failingArchiver struct {
	mu  sync.Mutex
	err error
}

func (a *failingArchiver) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *failingArchiver) Archive(context.Context, string, io.Reader, int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

type archivedObject struct {
	name    string
	content string
}

type recordingArchiver struct {
	objects []archivedObject
}

func (a *recordingArchiver) Archive(_ context.Context, name string, r io.Reader, _ int64) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	a.objects = append(a.objects, archivedObject{name: name, content: string(b)})
	return nil
}
