// SPDX-License-Identifier: Apache-2.0

// Package loadbalancer implements the per-address load balancer state
// machine: it owns a listening socket, a ring of registered workers, a
// backlog of connections awaiting a worker, and the restart policy that
// re-listens after a close when Start was called while stopping.
package loadbalancer

import (
	"errors"
	"fmt"

	"github.com/procnanny/nanny/internal/worker"
)

// State is a LoadBalancer's lifecycle state.
type State int

const (
	Standby State = iota
	Starting
	Running
	Stopping
)

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

// Identity is the (port, address, backlog) tuple that names a
// LoadBalancer. Port 0 means "let the OS choose"; the OS-assigned
// address is captured on entry to Running.
type Identity struct {
	// Port is the requested TCP port. 0 means the OS chooses one.
	Port int
	// Address is the requested bind address, e.g. "0.0.0.0" or "".
	Address string
	// ListenBacklog is the requested OS listen(2) backlog size. It is
	// part of the identity only: the listen call does not pass it to
	// the OS, so the runtime default backlog is always used.
	ListenBacklog int
}

// String renders the identity as "address:port".
func (id Identity) String() string {
	return fmt.Sprintf("%s:%d", id.Address, id.Port)
}

// Snapshot is the value returned by Inspect: a point-in-time view of a
// LoadBalancer's public state.
type Snapshot struct {
	State        State  `json:"state"`
	RequestedPort int   `json:"requestedPort"`
	Port         int    `json:"port"`
	Address      string `json:"address"`
	BacklogSize  int    `json:"backlogSize"`
	RingSize     int    `json:"ringSize"`
}

// ErrInvariantViolated is raised when a CLOSE or ERROR event is
// observed while the LoadBalancer is in Standby — the OS-facing layer
// should never emit either when no listen is outstanding.
var ErrInvariantViolated = errors.New("loadbalancer: close or error observed in standby")

// workerHandle pairs a registered LogicalId with the capability used
// to reach it. The Ring itself only stores the comparable LogicalId;
// this map is how the LoadBalancer turns a rotated id back into
// something it can call SendAddress/SendError/HandleConnection on.
type workerHandle = worker.Supervisor
