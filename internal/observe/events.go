// SPDX-License-Identifier: Apache-2.0

// Package observe implements the live observation feed: a read-only
// WebSocket broadcast of worker and load balancer state transitions,
// so a dashboard can render the fleet without polling the inspection
// API itself.
package observe

import (
	"github.com/procnanny/nanny/internal/loadbalancer"
	"github.com/procnanny/nanny/internal/worker"
)

// Event types broadcast on the feed.
const (
	EventWorkerStateChanged   = "worker_state_changed"
	EventBalancerStateChanged = "balancer_state_changed"
	EventSnapshot             = "snapshot"
)

// Event is the envelope every feed message is wrapped in.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// WorkerStateChanged reports one worker slot's new state.
type WorkerStateChanged struct {
	LogicalId worker.LogicalId `json:"logicalId"`
	State     worker.State     `json:"state"`
}

// BalancerStateChanged reports one load balancer's new state.
type BalancerStateChanged struct {
	Identity loadbalancer.Identity `json:"identity"`
	State    loadbalancer.State    `json:"state"`
}
