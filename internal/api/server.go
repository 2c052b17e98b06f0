// SPDX-License-Identifier: Apache-2.0

// Package api implements the inspection and control HTTP surface: a
// JSON snapshot of the fleet, a Prometheus scrape endpoint, and a
// small set of operator actions gated behind a bearer-token-for-JWT
// exchange when a control-plane secret is configured.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/procnanny/nanny/internal/cluster"
	"github.com/procnanny/nanny/internal/config"
	"github.com/procnanny/nanny/internal/logging"
	"github.com/procnanny/nanny/internal/worker"
)

// clusterControl is the subset of *cluster.Supervisor the API depends
// on, narrow enough to fake in tests without standing up a real fleet.
type clusterControl interface {
	Inspect() cluster.Snapshot
	Stop(onDone func())
	StopWorker(id worker.LogicalId) bool
}

var _ clusterControl = (*cluster.Supervisor)(nil)

type handlers struct {
	cluster clusterControl
	auth    *authenticator
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// status returns the ClusterSupervisorState snapshot: every worker
// slot and load balancer, point-in-time.
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cluster.Inspect())
}

// healthz reports the process's own liveness. It never inspects worker
// health: that's what /v1/status and the metrics endpoint are for.
func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// stopCluster requests a graceful full-cluster stop. It returns
// immediately; convergence happens asynchronously and is observable
// via /v1/status or the observation feed.
func (h *handlers) stopCluster(w http.ResponseWriter, r *http.Request) {
	h.cluster.Stop(nil)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// stopWorker requests a graceful stop of one slot, which rejoins the
// fleet through the normal restart path unless the cluster itself is
// stopping.
func (h *handlers) stopWorker(w http.ResponseWriter, r *http.Request) {
	id := worker.LogicalId(chi.URLParam(r, "id"))
	if !h.cluster.StopWorker(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown worker %q", id))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping", "logicalId": string(id)})
}

// Server is the supervised HTTP inspection and control service.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
}

// New builds the API server for cfg, routing against sup and logging
// through log (internal/middleware.RequestID and .PrometheusMetrics
// both log through it). A nil log discards everything. New returns an
// error only if the auth configuration is unusable: an AuthSecret with
// no JWTSecret to sign sessions with, or an AuthSecret bcrypt fails to
// hash.
func New(cfg config.APIConfig, sup clusterControl, log logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Nop()
	}

	auth, err := newAuthenticator(cfg.AuthSecret, cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	h := &handlers{cluster: sup, auth: auth}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(log))
	r.Use(recoverer)
	r.Use(buildCORS(cfg.CORSOrigins))
	r.Use(prometheusMiddleware(log))
	r.Use(securityHeaders)

	r.Get("/v1/status", h.status)
	r.Get("/v1/healthz", h.healthz)
	r.Post("/v1/session", auth.exchangeHandler)

	r.Group(func(r chi.Router) {
		r.Use(buildRateLimit(cfg.RateLimitPerMin))
		r.With(adaptHandlerFunc(auth.requireSession)).Post("/v1/stop", h.stopCluster)
		r.With(adaptHandlerFunc(auth.requireSession)).Post("/v1/workers/{id}/stop", h.stopWorker)
	})

	// promhttp.Handler() serves prometheus.DefaultGatherer, the same
	// registry every promauto.New*Vec call in internal/metrics
	// registers against.
	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		shutdownTimeout: 10 * time.Second,
	}, nil
}

// Serve implements suture.Service: it runs the HTTP server until ctx
// is canceled, then drains in-flight requests within shutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *Server) String() string { return "inspection-api" }
