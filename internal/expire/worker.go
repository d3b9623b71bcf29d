package expire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"folio/internal/logger"
	"folio/internal/pathutil"
	"folio/internal/storage"
)

// Archiver copies a file's bytes to secondary storage before it is deleted.
// Optional; the MinIO implementation lives in internal/archive.
type Archiver interface {
	Archive(ctx context.Context, name string, r io.Reader, size int64) error
}

// Stats receives task outcome notifications. Optional; the HTTP metrics
// endpoint implements it.
type Stats interface {
	ExpireCompleted()
	ExpireRetried()
	ExpireAbandoned()
}

// WorkerConfig tunes the worker loop.
type WorkerConfig struct {
	// PollInterval is the delay between sweeps for due tasks.
	PollInterval time.Duration
	// ActivityTimeout bounds one deletion attempt.
	ActivityTimeout time.Duration
	// MaxAttempts is the attempt budget before a task is abandoned.
	MaxAttempts int
	// ClaimLimit caps how many tasks one sweep claims.
	ClaimLimit int
	// RetryInitialInterval and RetryMaxInterval shape the backoff between
	// failed attempts. Zero values pick the backoff library defaults.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// Worker drains due expiration tasks: it claims them from the store and runs
// the idempotent deletion activity with bounded retries. Exactly one worker
// per store row is guaranteed by the store's claim semantics, not by the
// worker itself.
type Worker struct {
	store    TaskStore
	files    *storage.Store
	archiver Archiver
	clock    Clock
	stats    Stats
	log      *logger.Logger
	cfg      WorkerConfig
}

// NewWorker wires a worker. archiver and stats may be nil.
func NewWorker(store TaskStore, files *storage.Store, archiver Archiver, clock Clock, stats Stats, log *logger.Logger, cfg WorkerConfig) *Worker {
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = time.Second
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = time.Minute
	}
	return &Worker{
		store:    store,
		files:    files,
		archiver: archiver,
		clock:    clock,
		stats:    stats,
		log:      log,
		cfg:      cfg,
	}
}

// Run executes the worker loop until ctx is cancelled. Tasks left in
// dispatching by a previous crash are recovered first, then a sweep runs
// immediately and on every tick.
func (w *Worker) Run(ctx context.Context) {
	recovered, err := w.store.RecoverDispatching(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to recover in-flight tasks")
	} else if recovered > 0 {
		w.log.Info().Int("tasks", recovered).Msg("recovered in-flight tasks from previous run")
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("expiration worker shutting down")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep claims all currently due tasks and dispatches them once.
func (w *Worker) Sweep(ctx context.Context) {
	now := w.clock.Now().UTC()

	tasks, err := w.store.ClaimDue(ctx, now, w.cfg.ClaimLimit)
	if err != nil {
		w.log.Error().Err(err).Msg("failed to claim due tasks")
		return
	}

	for _, t := range tasks {
		w.dispatch(ctx, t, now)
	}
}

// dispatch runs the deletion activity for one claimed task and persists the
// outcome.
func (w *Worker) dispatch(ctx context.Context, t Task, now time.Time) {
	log := w.log.Logger.With().
		Str("task_id", t.ID.String()).
		Str("target", t.Target).
		Logger()

	err := w.runActivity(ctx, t)
	if err == nil {
		if err := w.store.MarkCompleted(ctx, t.ID); err != nil {
			log.Error().Err(err).Msg("failed to mark task completed")
			return
		}
		if w.stats != nil {
			w.stats.ExpireCompleted()
		}
		log.Info().Msg("expiration completed")
		return
	}

	attempts := t.Attempts + 1
	if attempts >= w.cfg.MaxAttempts {
		if mErr := w.store.MarkAbandoned(ctx, t.ID, err.Error()); mErr != nil {
			log.Error().Err(mErr).Msg("failed to mark task abandoned")
			return
		}
		if w.stats != nil {
			w.stats.ExpireAbandoned()
		}
		log.Error().Err(err).Int("attempts", attempts).Msg("expiration abandoned after exhausting retries")
		return
	}

	next := now.Add(w.retryDelay(attempts))
	if mErr := w.store.MarkRetrying(ctx, t.ID, attempts, next, err.Error()); mErr != nil {
		log.Error().Err(mErr).Msg("failed to mark task for retry")
		return
	}
	if w.stats != nil {
		w.stats.ExpireRetried()
	}
	log.Warn().Err(err).Int("attempts", attempts).Time("next_attempt_at", next).Msg("expiration attempt failed, will retry")
}

// runActivity executes the delete-if-exists activity under the per-attempt
// timeout. The activity runs in its own goroutine so a filesystem call that
// never returns cannot wedge the worker loop past the timeout.
func (w *Worker) runActivity(ctx context.Context, t Task) error {
	actx, cancel := context.WithTimeout(ctx, w.cfg.ActivityTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- w.deleteTarget(actx, t)
	}()

	select {
	case <-actx.Done():
		return fmt.Errorf("deletion activity for %s: %w", t.Target, actx.Err())
	case err := <-done:
		return err
	}
}

// deleteTarget is the deletion activity: archive (when configured), then
// delete-if-exists. A target that is already gone is logged and treated as
// success — deleting an absent file twice must never fail the task.
func (w *Worker) deleteTarget(ctx context.Context, t Task) error {
	rel, err := pathutil.Resolve(t.Target)
	if err != nil {
		return fmt.Errorf("resolve target %q: %w", t.Target, err)
	}

	if w.archiver != nil {
		if err := w.archiveTarget(ctx, rel); err != nil {
			return err
		}
	}

	removed, err := w.files.RemoveIfExists(rel)
	if err != nil {
		return err
	}
	if !removed {
		w.log.Warn().Str("target", t.Target).Msg("file already absent at expiry")
	}
	return nil
}

// archiveTarget copies the file to the archiver before deletion. An absent
// file skips archival (nothing to preserve); any other failure is transient
// and retried, so bytes are never dropped silently.
func (w *Worker) archiveTarget(ctx context.Context, rel pathutil.RelativePath) error {
	info, err := w.files.Stat(rel)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	f, err := w.files.Open(rel)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := w.archiver.Archive(ctx, rel.String(), f, info.Size()); err != nil {
		return fmt.Errorf("archive %s: %w", rel, err)
	}
	return nil
}

// retryDelay derives the wait before the given attempt number from an
// exponential backoff schedule.
func (w *Worker) retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.RetryInitialInterval
	b.MaxInterval = w.cfg.RetryMaxInterval
	b.MaxElapsedTime = 0

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
