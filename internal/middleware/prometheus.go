// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/procnanny/nanny/internal/logging"
	"github.com/procnanny/nanny/internal/metrics"
)

// PrometheusMetrics records request duration and in-flight count for
// every inspection/control API call via internal/metrics, and logs a
// warning for any mutating request (non-GET) that did not succeed —
// the audit trail for "an operator tried to change fleet state and it
// was rejected", which the metrics histogram alone doesn't surface by
// itself. A nil log discards that warning.
func PrometheusMetrics(log logging.Logger) func(http.HandlerFunc) http.HandlerFunc {
	if log == nil {
		log = logging.Nop()
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			metrics.TrackActiveRequest(true)
			defer metrics.TrackActiveRequest(false)

			start := time.Now()
			wrapper := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next(wrapper, r)
			duration := time.Since(start)

			metrics.RecordAPIRequest(r.Method, r.URL.Path, strconv.Itoa(wrapper.statusCode), duration)

			if r.Method != http.MethodGet && wrapper.statusCode >= http.StatusBadRequest {
				log.Warn("mutating request failed", logging.Fields{
					"request_id": GetRequestID(r.Context()),
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     wrapper.statusCode,
				})
			}
		}
	}
}

// statusResponseWriter wraps http.ResponseWriter to capture the status
// code a handler actually wrote, since http.ResponseWriter itself
// exposes no way to read it back.
type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
