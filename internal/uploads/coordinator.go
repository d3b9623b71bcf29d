package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"folio/internal/logger"
	"folio/internal/pathutil"
	"folio/internal/storage"
)

// maxIDAttempts bounds the generate-until-free loop. Hitting the bound with
// 62^8 possible ids means the id space is effectively exhausted or the random
// source is broken; either way the upload fails instead of spinning.
const maxIDAttempts = 16

// ErrIDSpaceExhausted is returned when no free identifier was found within
// the attempt bound.
var ErrIDSpaceExhausted = errors.New("could not find a free upload id")

// Scheduler registers durable expiration tasks. Implemented by
// expire.Scheduler in production and by in-memory fakes in tests.
type Scheduler interface {
	Schedule(ctx context.Context, target string, ttl time.Duration) (uuid.UUID, error)
}

// Result describes a finished upload.
type Result struct {
	ID       ID
	FileName string
	// PublicPath is the externally visible location, e.g. "/files/x7Gh2bQ9.txt".
	PublicPath string
}

// Coordinator services anonymous uploads: it picks a free identifier,
// persists the content and, when a TTL is requested, registers the
// expiration task for the stored path.
type Coordinator struct {
	store *storage.Store
	ids   *IDGenerator
	sched Scheduler
	log   *logger.Logger
}

// NewCoordinator wires the upload flow together.
func NewCoordinator(store *storage.Store, ids *IDGenerator, sched Scheduler, log *logger.Logger) *Coordinator {
	return &Coordinator{store: store, ids: ids, sched: sched, log: log}
}

// Upload persists content under a generated name and schedules its deletion
// after ttl. A ttl of zero means the file never expires. The extension, when
// present, is appended verbatim to the generated id.
//
// Name selection relies on the store's exclusive create: a candidate that
// exists (or loses a concurrent race) is discarded and a new id is drawn.
// When a TTL is requested and the task cannot be durably registered, the
// just-written file is removed and the upload fails; a success response must
// never hide a dropped TTL.
func (c *Coordinator) Upload(ctx context.Context, content io.Reader, ext string, ttl time.Duration) (Result, error) {
	var (
		id  ID
		rel pathutil.RelativePath
	)

	stored := false
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id = c.ids.Generate()
		name := id.FileName(ext)

		p, err := pathutil.Resolve(name)
		if err != nil {
			return Result{}, fmt.Errorf("resolve upload name %q: %w", name, err)
		}

		err = c.store.Create(p, content)
		if errors.Is(err, storage.ErrAlreadyExists) {
			c.log.Debug().Str("id", string(id)).Msg("upload id collision, retrying")
			continue
		}
		if err != nil {
			return Result{}, err
		}

		rel = p
		stored = true
		break
	}
	if !stored {
		return Result{}, ErrIDSpaceExhausted
	}

	if ttl > 0 {
		if _, err := c.sched.Schedule(ctx, rel.String(), ttl); err != nil {
			// Without a durable task the file would linger forever; undo the
			// write and surface the failure to the caller.
			if _, rmErr := c.store.RemoveIfExists(rel); rmErr != nil {
				c.log.Error().Err(rmErr).Str("path", rel.String()).
					Msg("failed to remove file after scheduling failure")
			}
			return Result{}, fmt.Errorf("schedule expiration for %s: %w", rel, err)
		}
	}

	name := id.FileName(ext)
	return Result{
		ID:         id,
		FileName:   name,
		PublicPath: "/files/" + name,
	}, nil
}
