// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/procnanny/nanny/internal/logging"
	"github.com/procnanny/nanny/internal/middleware"
)

// buildCORS returns a CORS handler restricted to origins, matching the
// dashboard's cross-origin read of ClusterSupervisorState.
func buildCORS(origins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// buildRateLimit throttles control endpoints by client IP so a
// misbehaving dashboard cannot hot-loop worker restarts. perMinute <= 0
// disables limiting entirely.
func buildRateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(perMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
}

// securityHeaders sets the handful of response headers appropriate for
// a same-origin-by-default control API.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// adaptHandlerFunc lifts the nanny process's own http.HandlerFunc
// middleware into chi's func(http.Handler) http.Handler shape.
func adaptHandlerFunc(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

func requestIDMiddleware(log logging.Logger) func(http.Handler) http.Handler {
	return adaptHandlerFunc(middleware.RequestID(log))
}

func prometheusMiddleware(log logging.Logger) func(http.Handler) http.Handler {
	return adaptHandlerFunc(middleware.PrometheusMetrics(log))
}

var recoverer = chimiddleware.Recoverer
