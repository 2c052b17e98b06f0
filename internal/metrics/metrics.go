// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus instrumentation for the nanny
// process: fleet-level gauges and counters plus HTTP request
// instrumentation for the inspection API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsDispatched counts connections handed to a worker,
	// labeled by logical_id — the primary signal for verifying
	// round-robin fairness in production.
	ConnectionsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nanny",
		Name:      "connections_dispatched_total",
		Help:      "Total connections dispatched to a worker.",
	}, []string{"logical_id", "balancer"})

	// BacklogDepth reports the current size of a LoadBalancer's
	// pending-connection FIFO.
	BacklogDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nanny",
		Name:      "backlog_depth",
		Help:      "Current backlog size for a load balancer.",
	}, []string{"balancer"})

	// WorkerState is a 1/0 gauge per (logical_id, state), so the
	// current state of every slot is queryable without scraping logs.
	WorkerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nanny",
		Name:      "worker_state",
		Help:      "1 if the worker is currently in this state, 0 otherwise.",
	}, []string{"logical_id", "state"})

	// RestartsTotal counts restart attempts per worker slot.
	RestartsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nanny",
		Name:      "worker_restarts_total",
		Help:      "Total restart attempts for a worker slot.",
	}, []string{"logical_id"})

	// ForcedStopsTotal counts forced terminations after the grace
	// window elapsed.
	ForcedStopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nanny",
		Name:      "worker_forced_stops_total",
		Help:      "Total forced terminations after the grace window elapsed.",
	}, []string{"logical_id"})

	// PulseDuration observes how long one health-pulse tick takes to
	// evaluate every running worker.
	PulseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nanny",
		Name:      "pulse_duration_seconds",
		Help:      "Time taken to evaluate the health policy across all running workers in one pulse tick.",
		Buckets:   prometheus.DefBuckets,
	})

	// APIRequestDuration observes inspection/control API request
	// latency, labeled by method, path, and status.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nanny",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration for the inspection and control API.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	// ActiveAPIRequests tracks in-flight API requests.
	ActiveAPIRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nanny",
		Subsystem: "api",
		Name:      "active_requests",
		Help:      "Number of in-flight inspection/control API requests.",
	})
)

// TrackActiveRequest increments or decrements the in-flight API
// request gauge.
func TrackActiveRequest(active bool) {
	if active {
		ActiveAPIRequests.Inc()
		return
	}
	ActiveAPIRequests.Dec()
}

// RecordAPIRequest records one completed API request's duration.
func RecordAPIRequest(method, path, status string, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordDispatch increments the dispatched-connections counter for
// one worker on one balancer.
func RecordDispatch(logicalID, balancer string) {
	ConnectionsDispatched.WithLabelValues(logicalID, balancer).Inc()
}

// SetWorkerState zeroes every other state's gauge for logicalID and
// sets the current one to 1.
func SetWorkerState(logicalID string, states []string, current string) {
	for _, s := range states {
		if s == current {
			WorkerState.WithLabelValues(logicalID, s).Set(1)
		} else {
			WorkerState.WithLabelValues(logicalID, s).Set(0)
		}
	}
}
