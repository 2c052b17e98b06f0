// SPDX-License-Identifier: Apache-2.0

// Package worker holds the data model and external capability contract
// for a single worker slot: its identity, its lifecycle state, and the
// Supervisor interface a LoadBalancer and a ClusterSupervisor use to
// drive an actual child process without knowing how one is spawned.
package worker

import (
	"context"
	"net"
)

// LogicalId is an opaque, stable identifier for a worker slot. It
// survives restarts of the child occupying the slot.
type LogicalId string

// State is a worker slot's lifecycle state. A slot occupies exactly
// one State at a time.
type State int

const (
	// Standby: no child process is running for this slot.
	Standby State = iota
	// Starting: a start request has been issued; the child is coming
	// up and has not yet reported its listening address.
	Starting
	// Running: the child has reported its listening address and is
	// registered with its LoadBalancer.
	Running
	// Stopping: a stop request has been issued; waiting for the child
	// to exit, or for the forced-stop deadline.
	Stopping
)

// String renders State for logs and inspection payloads.
func (s State) String() string {
	switch s {
	case Standby:
		return "standby"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalJSON renders State using its String form.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Supervisor is the external capability a ClusterSupervisor and the
// LoadBalancers it registers workers with depend on. It represents one
// worker slot's actual child process. Its implementation — spawning,
// stdio, health reporting — is deliberately out of scope for the core;
// internal/procworker provides a reference implementation.
type Supervisor interface {
	// ID returns this slot's LogicalId.
	ID() LogicalId

	// Start asks the supervisor to bring the child up. Non-blocking;
	// completion is observed via the child reporting its listening
	// address through the cluster supervisor's event channel.
	Start(ctx context.Context, env map[string]string) error

	// Stop asks the supervisor to begin a graceful shutdown of the
	// child. Non-blocking.
	Stop(ctx context.Context) error

	// ForceStop terminates the child immediately, bypassing graceful
	// shutdown. Called when the grace window has elapsed.
	ForceStop(ctx context.Context) error

	// SendAddress informs the worker that port is now listening at
	// address. Idempotent; may be called again on re-listen.
	SendAddress(port int, address string)

	// SendError informs the worker that the listener for port has
	// failed. The worker must stop accepting on it.
	SendError(port int, err error)

	// HandleConnection transfers ownership of an accepted connection
	// to the worker. The caller must not touch conn afterwards.
	HandleConnection(port int, conn net.Conn)
}
