// SPDX-License-Identifier: Apache-2.0

// Package cluster implements the ClusterSupervisor state machine: it
// owns every worker slot and every LoadBalancer, drives the
// standby/starting/running/stopping lifecycle for each worker, and runs
// the health-pulse loop that gates restart on liveness.
package cluster

import (
	"strconv"
	"time"

	"github.com/procnanny/nanny/internal/clock"
	"github.com/procnanny/nanny/internal/health"
	"github.com/procnanny/nanny/internal/loadbalancer"
	"github.com/procnanny/nanny/internal/logging"
	"github.com/procnanny/nanny/internal/worker"
)

// EnvironmentFactory produces the environment passed to a worker child
// at start, keyed by its LogicalId. The default is an empty
// environment.
type EnvironmentFactory func(id worker.LogicalId) map[string]string

// EventSink is how a worker.Supervisor implementation reports the
// events the ClusterSupervisor's event loop reacts to: a listening
// address, a health report, or the child having exited. The core
// never spawns a process itself; this is the seam an out-of-scope
// process-supervision mechanism reports through.
type EventSink interface {
	Listening(id worker.LogicalId, port int, address string)
	Health(id worker.LogicalId, report health.Report)
	Exited(id worker.LogicalId)
}

// SupervisorFactory constructs the worker.Supervisor capability
// implementation for a given slot, wired to report back through sink.
// This is how the out-of-scope process-spawning mechanism is plugged
// into the cluster.
type SupervisorFactory func(id worker.LogicalId, sink EventSink) worker.Supervisor

// Config configures a ClusterSupervisor.
type Config struct {
	// WorkerCount creates that many slots with integer LogicalIds
	// "0".."N-1". Ignored if LogicalIds is non-empty.
	WorkerCount int
	// LogicalIds, if non-empty, wins over WorkerCount and sets it to
	// len(LogicalIds).
	LogicalIds []worker.LogicalId

	// NewSupervisor builds the worker.Supervisor for a slot.
	NewSupervisor SupervisorFactory

	// CreateEnvironment is the per-slot environment factory. Defaults
	// to an empty environment.
	CreateEnvironment EnvironmentFactory

	// Pulse is the health-pulse interval. Default 5s.
	Pulse time.Duration

	// IsHealthy is the health policy predicate. Default: always true.
	IsHealthy health.Policy

	// GraceWindow is the duration between a stop request and forced
	// termination for a worker. Default 10s.
	GraceWindow time.Duration

	// ShouldRestart decides, for a slot that just reached Standby
	// while the cluster is running, whether it should be restarted.
	// Default: always restart while running and not administratively
	// disabled (spec.md §9's open question, resolved this way).
	ShouldRestart func(id worker.LogicalId, forcedStop bool) bool

	// BalancerFor maps a listening (address, port) pair reported by a
	// worker to the LoadBalancer identity it should register with.
	// Default: one LoadBalancer per distinct (address, port).
	BalancerFor func(address string, port int) loadbalancer.Identity

	// NewBalancer builds a LoadBalancer for an identity discovered
	// lazily on first worker listen.
	NewBalancer func(loadbalancer.Identity) *loadbalancer.LoadBalancer

	// RestartBreakerThreshold is the number of consecutive rapid
	// restart failures (child exits before ever reaching Running)
	// that trips a slot's restart breaker open. Default 5.
	RestartBreakerThreshold uint32
	// RestartBreakerCooldown is how long a tripped breaker holds a
	// slot in Standby before permitting another restart attempt.
	// Default 30s.
	RestartBreakerCooldown time.Duration

	Clock  clock.Clock
	Logger logging.Logger
}

func (c *Config) applyDefaults() {
	if c.CreateEnvironment == nil {
		c.CreateEnvironment = func(worker.LogicalId) map[string]string { return map[string]string{} }
	}
	if c.Pulse <= 0 {
		c.Pulse = 5 * time.Second
	}
	if c.IsHealthy == nil {
		c.IsHealthy = health.AlwaysHealthy
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = 10 * time.Second
	}
	if c.ShouldRestart == nil {
		c.ShouldRestart = func(worker.LogicalId, bool) bool { return true }
	}
	if c.BalancerFor == nil {
		c.BalancerFor = func(address string, port int) loadbalancer.Identity {
			return loadbalancer.Identity{Address: address, Port: port}
		}
	}
	if c.RestartBreakerThreshold == 0 {
		c.RestartBreakerThreshold = 5
	}
	if c.RestartBreakerCooldown <= 0 {
		c.RestartBreakerCooldown = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.System()
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
}

func (c *Config) slotIDs() []worker.LogicalId {
	if len(c.LogicalIds) > 0 {
		return c.LogicalIds
	}
	ids := make([]worker.LogicalId, c.WorkerCount)
	for i := range ids {
		ids[i] = worker.LogicalId(strconv.Itoa(i))
	}
	return ids
}
