package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Metrics holds in-process counters exposed at /metrics in Prometheus text
// format. It also implements expire.Stats so the worker can report task
// outcomes.
type Metrics struct {
	mu sync.Mutex

	requestsTotal    int64
	requestErrors4xx int64
	requestErrors5xx int64

	uploadsTotal int64

	expireCompletedTotal int64
	expireRetriedTotal   int64
	expireAbandonedTotal int64
}

// NewMetrics returns a zeroed metrics registry.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordRequest counts one finished HTTP request.
func (m *Metrics) RecordRequest(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestsTotal++
	switch {
	case status >= 500:
		m.requestErrors5xx++
	case status >= 400:
		m.requestErrors4xx++
	}
}

// RecordUpload counts one successful upload.
func (m *Metrics) RecordUpload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadsTotal++
}

// ExpireCompleted implements expire.Stats.
func (m *Metrics) ExpireCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireCompletedTotal++
}

// ExpireRetried implements expire.Stats.
func (m *Metrics) ExpireRetried() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireRetriedTotal++
}

// ExpireAbandoned implements expire.Stats.
func (m *Metrics) ExpireAbandoned() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireAbandonedTotal++
}

// Handler serves the counters in Prometheus text exposition format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		counters := []struct {
			name  string
			help  string
			value int64
		}{
			{"folio_requests_total", "Total HTTP requests handled", m.requestsTotal},
			{"folio_request_errors_4xx_total", "HTTP requests answered with a 4xx status", m.requestErrors4xx},
			{"folio_request_errors_5xx_total", "HTTP requests answered with a 5xx status", m.requestErrors5xx},
			{"folio_uploads_total", "Successful anonymous uploads", m.uploadsTotal},
			{"folio_expirations_completed_total", "Expiration tasks completed", m.expireCompletedTotal},
			{"folio_expirations_retried_total", "Expiration attempts scheduled for retry", m.expireRetriedTotal},
			{"folio_expirations_abandoned_total", "Expiration tasks abandoned after exhausting retries", m.expireAbandonedTotal},
		}
		m.mu.Unlock()

		var out strings.Builder
		for _, c := range counters {
			fmt.Fprintf(&out, "# HELP %s %s\n", c.name, c.help)
			fmt.Fprintf(&out, "# TYPE %s counter\n", c.name)
			fmt.Fprintf(&out, "%s %d\n", c.name, c.value)
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(out.String()))
	}
}
