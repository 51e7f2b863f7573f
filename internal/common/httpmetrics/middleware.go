package httpmetrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/boxchat/authd/internal/observability/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Wrap records request count, in-flight gauge and latency for every
// request passing through.
func Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := NormalizePath(r.URL.Path)

		metrics.AuthRequestsTotal.WithLabelValues(r.Method, path).Inc()
		metrics.AuthRequestsInFlight.Inc()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.AuthRequestsInFlight.Dec()
		statusClass := fmt.Sprintf("%dxx", rec.status/100)
		metrics.AuthRequestDurationSeconds.
			WithLabelValues(r.Method, path, statusClass).
			Observe(time.Since(start).Seconds())
	})
}
