// SPDX-License-Identifier: Apache-2.0

// Package middleware holds the inspection API's HTTP-layer cross-cutting
// concerns: request-ID correlation and Prometheus instrumentation. Both
// are plain net/http middleware (func(http.HandlerFunc) http.HandlerFunc)
// so they work whether or not the caller has a router with its own
// middleware chain; internal/api adapts them into chi's shape.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/procnanny/nanny/internal/logging"
)

type contextKey string

const requestIDContextKey contextKey = "request_id"

// RequestID assigns every inbound request a stable ID — reusing an
// upstream-supplied X-Request-ID if present, otherwise minting one —
// stashes it on the request context for downstream handlers and
// middleware (GetRequestID), and echoes it in the response header.
// log receives a debug line per request carrying that ID, so an
// operator can correlate a control-plane call (e.g. POST
// /v1/workers/{id}/stop) with the state-transition log lines
// cluster.Supervisor emits for that LogicalId through the same Logger
// capability. A nil log discards these lines.
func RequestID(log logging.Logger) func(http.HandlerFunc) http.HandlerFunc {
	if log == nil {
		log = logging.Nop()
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)

			log.Debug("request received", logging.Fields{
				"request_id": id,
				"method":     r.Method,
				"path":       r.URL.Path,
			})

			ctx := context.WithValue(r.Context(), requestIDContextKey, id)
			next(w, r.WithContext(ctx))
		}
	}
}

// GetRequestID extracts the ID set by RequestID from ctx, or "" if
// RequestID was never in the chain that produced ctx.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}
