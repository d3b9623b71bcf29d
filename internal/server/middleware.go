package server

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"folio/internal/logger"
)

// requestLogger emits one structured line per request and attaches a
// request-scoped logger to the context so handlers can log with the request
// id without threading it explicitly.
func requestLogger(log *logger.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rid := chimw.GetReqID(r.Context())

			reqLog := log.Logger.With().Str("request_id", rid).Logger()
			r = r.WithContext(reqLog.WithContext(r.Context()))

			lw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(lw, r)

			reqLog.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", lw.status).
				Dur("duration", time.Since(start)).
				Int("bytes", lw.size).
				Str("remote", r.RemoteAddr).
				Msg("request")

			metrics.RecordRequest(lw.status)
		})
	}
}

// statusWriter captures the response status and size for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}
