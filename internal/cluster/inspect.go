// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"time"

	"github.com/procnanny/nanny/internal/health"
	"github.com/procnanny/nanny/internal/loadbalancer"
	"github.com/procnanny/nanny/internal/worker"
)

// WorkerSnapshot is one worker slot's inspection entry.
type WorkerSnapshot struct {
	LogicalId       worker.LogicalId `json:"logicalId"`
	State           worker.State     `json:"state"`
	StartingAt      *time.Time       `json:"startingAt,omitempty"`
	StopRequestedAt *time.Time       `json:"stopRequestedAt,omitempty"`
	ForceStopAt     *time.Time       `json:"forceStopAt,omitempty"`
	ForcedStop      bool             `json:"forcedStop"`
	Health          *health.Report   `json:"health,omitempty"`
	ListenPort      int              `json:"listenPort,omitempty"`
}

// BalancerSnapshot is one LoadBalancer's inspection entry.
type BalancerSnapshot struct {
	Identity loadbalancer.Identity `json:"identity"`
	loadbalancer.Snapshot
}

// Snapshot is the point-in-time ClusterSupervisorState: captured on
// the event loop and returned by value.
type Snapshot struct {
	Active    bool               `json:"active"`
	Stopping  bool               `json:"stopping"`
	Workers   []WorkerSnapshot   `json:"workers"`
	Balancers []BalancerSnapshot `json:"balancers"`
}

// Inspect returns a snapshot of every worker slot and LoadBalancer.
func (s *Supervisor) Inspect() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Active: s.active, Stopping: s.stopping}
	for id, slot := range s.slots {
		w := WorkerSnapshot{
			LogicalId:  id,
			State:      slot.State,
			ForcedStop: slot.ForcedStop,
			Health:     slot.Health,
			ListenPort: slot.ListenPort,
		}
		if !slot.StartingAt.IsZero() {
			t := slot.StartingAt
			w.StartingAt = &t
		}
		if !slot.StopRequestedAt.IsZero() {
			t := slot.StopRequestedAt
			w.StopRequestedAt = &t
		}
		if !slot.ForceStopAt.IsZero() {
			t := slot.ForceStopAt
			w.ForceStopAt = &t
		}
		snap.Workers = append(snap.Workers, w)
	}

	for id, lb := range s.balancers {
		snap.Balancers = append(snap.Balancers, BalancerSnapshot{
			Identity: id,
			Snapshot: lb.Inspect(),
		})
	}

	return snap
}

// CountWorkers returns the total number of configured slots.
func (s *Supervisor) CountWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// CountRunningWorkers returns the number of slots in Running.
func (s *Supervisor) CountRunningWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, slot := range s.slots {
		if slot.State == worker.Running {
			n++
		}
	}
	return n
}

// CountActiveWorkers returns the number of slots in Starting, Running,
// or Stopping.
func (s *Supervisor) CountActiveWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, slot := range s.slots {
		if slot.IsActive() {
			n++
		}
	}
	return n
}

// CountRunningLoadBalancers returns the number of LoadBalancers in
// Running.
func (s *Supervisor) CountRunningLoadBalancers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, lb := range s.balancers {
		if lb.Inspect().State == loadbalancer.Running {
			n++
		}
	}
	return n
}

// CountActiveLoadBalancers returns the number of LoadBalancers in
// Starting, Running, or Stopping.
func (s *Supervisor) CountActiveLoadBalancers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, lb := range s.balancers {
		switch lb.Inspect().State {
		case loadbalancer.Starting, loadbalancer.Running, loadbalancer.Stopping:
			n++
		}
	}
	return n
}
