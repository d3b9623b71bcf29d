package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	mrand "math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folio/internal/expire"
	"folio/internal/logger"
	"folio/internal/storage"
	"folio/internal/uploads"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
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

// fixture assembles the whole request path on in-memory pieces: MemMapFs
// storage, the in-memory task store and a manually advanced clock shared by
// scheduler and worker.
type fixture struct {
	handler http.Handler
	fs      afero.Fs
	files   *storage.Store
	tasks   *expire.MemoryStore
	clock   *manualClock
	worker  *expire.Worker
	metrics *Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	files := storage.New(fs)
	tasks := expire.NewMemoryStore()
	clock := &manualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	sched := expire.NewScheduler(tasks, clock, logger.Nop())
	worker := expire.NewWorker(tasks, files, nil, clock, nil, logger.Nop(), expire.WorkerConfig{
		PollInterval:    time.Second,
		ActivityTimeout: time.Second,
		MaxAttempts:     3,
		ClaimLimit:      10,
	})

	coord := uploads.NewCoordinator(files,
		uploads.NewIDGeneratorWithSource(8, mrand.NewPCG(11, 23)), sched, logger.Nop())

	metrics := NewMetrics()
	srv := New(Config{
		Addr:        ":0",
		Build:       BuildInfo{Version: "test", Commit: "none"},
		Files:       files,
		Uploads:     coord,
		DefaultTTL:  168 * time.Hour,
		CORSOrigins: []string{"*"},
		Log:         logger.Nop(),
		Metrics:     metrics,
	})

	return &fixture{
		handler: srv.Handler(),
		fs:      fs,
		files:   files,
		tasks:   tasks,
		clock:   clock,
		worker:  worker,
		metrics: metrics,
	}
}

func (f *fixture) do(t *testing.T, method, target, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body messageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Message
}

func decodeUpload(t *testing.T, rec *httptest.ResponseRecorder) uploadResponse {
	t.Helper()

	var body uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// multipartBody builds a multipart/form-data payload with a single file field.
func multipartBody(t *testing.T, field, filename, contentType, content string) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return &buf, w.FormDataContentType()
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestReadyWithoutDatabase(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsCountsRequests(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodGet, "/health", "", nil)
	f.do(t, http.MethodDelete, "/files/missing.txt", "", nil)

	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "folio_requests_total 2\n")
	assert.Contains(t, rec.Body.String(), "folio_request_errors_4xx_total 1\n")
}

func TestUploadThenExpireEndToEnd(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/uploads?expire=30m", "text/plain", strings.NewReader("hello"))
	require.Equal(t, http.StatusCreated, rec.Code)

	up := decodeUpload(t, rec)
	assert.Equal(t, "file uploaded successfully", up.Message)
	assert.Regexp(t, `^/files/[0-9A-Za-z]{8}\.txt$`, up.Path)

	get := f.do(t, http.MethodGet, up.Path, "", nil)
	require.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, "hello", get.Body.String())

	// Not due yet.
	f.clock.Advance(29 * time.Minute)
	f.worker.Sweep(context.Background())
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, up.Path, "", nil).Code)

	// Past the deadline the file is removed by the worker.
	f.clock.Advance(2 * time.Minute)
	f.worker.Sweep(context.Background())
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, up.Path, "", nil).Code)
}
