// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"time"

	"github.com/procnanny/nanny/internal/health"
)

// Slot is the ClusterSupervisor's bookkeeping record for one worker
// slot: its identity, its lifecycle state, the timestamps that bound a
// stop's grace window, and the most recent health report.
//
// Slot is not safe for concurrent use; it is only ever mutated from
// the ClusterSupervisor's event loop.
type Slot struct {
	ID    LogicalId
	State State

	// StartingAt is set on entry to Starting or Running and cleared on
	// reaching Standby.
	StartingAt time.Time

	// StopRequestedAt and ForceStopAt bound the grace window: the
	// invariant StopRequestedAt <= ForceStopAt always holds, and their
	// difference is fixed at the moment stop is requested.
	StopRequestedAt time.Time
	ForceStopAt     time.Time

	// ForcedStop is true once the child was terminated forcibly
	// because it had not exited by ForceStopAt.
	ForcedStop bool

	// Health is only meaningful in Running or Stopping and is replaced
	// atomically by each pulse tick.
	Health *health.Report

	// Supervisor is the capability implementation backing this slot.
	Supervisor Supervisor

	// ListenPort is the port this worker is currently registered
	// against, if any (0 means not yet registered with a balancer).
	ListenPort int
}

// NewSlot returns a Slot in Standby for the given identity and
// capability implementation.
func NewSlot(id LogicalId, sup Supervisor) *Slot {
	return &Slot{ID: id, State: Standby, Supervisor: sup}
}

// EnterStarting transitions the slot to Starting, recording StartingAt.
func (s *Slot) EnterStarting(now time.Time) {
	s.State = Starting
	s.StartingAt = now
}

// EnterRunning transitions the slot to Running and registers the port
// it is now listening on.
func (s *Slot) EnterRunning(port int) {
	s.State = Running
	s.ListenPort = port
}

// EnterStopping transitions the slot to Stopping, arming the grace
// window's deadline.
func (s *Slot) EnterStopping(now time.Time, grace time.Duration) {
	s.State = Stopping
	s.StopRequestedAt = now
	s.ForceStopAt = now.Add(grace)
}

// EnterStandby returns the slot to Standby, clearing per-run state so
// a later restart starts clean while keeping the same LogicalId.
func (s *Slot) EnterStandby() {
	s.State = Standby
	s.StartingAt = time.Time{}
	s.StopRequestedAt = time.Time{}
	s.ForceStopAt = time.Time{}
	s.ForcedStop = false
	s.Health = nil
	s.ListenPort = 0
}

// IsActive reports whether the slot counts toward countActiveWorkers
// (running, starting, or stopping).
func (s *Slot) IsActive() bool {
	return s.State == Starting || s.State == Running || s.State == Stopping
}
