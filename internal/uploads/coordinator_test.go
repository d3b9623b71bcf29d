package uploads

import (
	"context"
	"errors"
	mrand "math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/logger"
	"folio/internal/pathutil"
	"folio/internal/storage"
)

// fakeScheduler records schedule calls and can be told to fail.
type fakeScheduler struct {
	calls []scheduleCall
	err   error
}

type scheduleCall struct {
	target string
	ttl    time.Duration
}

func (f *fakeScheduler) Schedule(_ context.Context, target string, ttl time.Duration) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.calls = append(f.calls, scheduleCall{target: target, ttl: ttl})
	return uuid.New(), nil
}

func newTestCoordinator(t *testing.T, sched Scheduler) (*Coordinator, *storage.Store) {
	t.Helper()
	store := storage.New(afero.NewMemMapFs())
	ids := NewIDGeneratorWithSource(8, mrand.NewPCG(42, 7))
	return NewCoordinator(store, ids, sched, logger.Nop()), store
}

func TestUpload_StoresContent(t *testing.T) {
	sched := &fakeScheduler{}
	c, store := newTestCoordinator(t, sched)

	res, err := c.Upload(context.Background(), strings.NewReader("hello"), "txt", 0)
	require.NoError(t, err)

	assert.Len(t, string(res.ID), 8)
	assert.Equal(t, string(res.ID)+".txt", res.FileName)
	assert.Equal(t, "/files/"+res.FileName, res.PublicPath)
	assert.Empty(t, sched.calls, "no ttl means no expiration task")

	p, err := pathutil.Resolve(res.FileName)
	require.NoError(t, err)
	f, err := store.Open(p)
	require.NoError(t, err)
	defer f.Close()
	b, err := afero.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestUpload_SchedulesExpiration(t *testing.T) {
	sched := &fakeScheduler{}
	c, _ := newTestCoordinator(t, sched)

	res, err := c.Upload(context.Background(), strings.NewReader("x"), "txt", time.Hour)
	require.NoError(t, err)

	require.Len(t, sched.calls, 1)
	assert.Equal(t, res.FileName, sched.calls[0].target)
	assert.Equal(t, time.Hour, sched.calls[0].ttl)
}

func TestUpload_RetriesOnCollision(t *testing.T) {
	sched := &fakeScheduler{}
	c, store := newTestCoordinator(t, sched)

	// Pre-create the file the first generated id would claim.
	first := NewIDGeneratorWithSource(8, mrand.NewPCG(42, 7)).Generate()
	p, err := pathutil.Resolve(first.FileName("txt"))
	require.NoError(t, err)
	require.NoError(t, store.Create(p, strings.NewReader("occupied")))

	res, err := c.Upload(context.Background(), strings.NewReader("fresh"), "txt", 0)
	require.NoError(t, err)
	assert.NotEqual(t, first, res.ID, "collided id must not be reused")

	// The occupied file is untouched.
	f, err := store.Open(p)
	require.NoError(t, err)
	defer f.Close()
	b, err := afero.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "occupied", string(b))
}

func TestUpload_SchedulingFailureFailsUpload(t *testing.T) {
	sched := &fakeScheduler{err: errors.New("task store down")}
	c, store := newTestCoordinator(t, sched)

	_, err := c.Upload(context.Background(), strings.NewReader("x"), "txt", time.Minute)
	require.Error(t, err)

	// The write is rolled back: nothing may linger without its task. The
	// generator is seeded identically, so the chosen name is predictable.
	chosen := NewIDGeneratorWithSource(8, mrand.NewPCG(42, 7)).Generate()
	p, perr := pathutil.Resolve(chosen.FileName("txt"))
	require.NoError(t, perr)
	ok, serr := store.Exists(p)
	require.NoError(t, serr)
	assert.False(t, ok)
}
