// SPDX-License-Identifier: Apache-2.0

/*
Package supervisor provides the root suture v4 supervision tree for a
nanny process. It gives the fleet, the load balancers, and the
observation surface Erlang/OTP-style supervision: automatic restart on
crash, exponential backoff on repeated failure, and independent failure
domains.

# Overview

The tree organizes services into three layers for failure isolation:

	nanny
	├── fleet-layer
	│   └── ClusterSupervisor.Serve   (worker lifecycle, health pulse)
	├── balancer-layer
	│   └── one LoadBalancer listen/accept loop per configured address
	└── observe-layer
	    ├── inspection/control HTTP API
	    └── observation feed WebSocket hub

This hierarchy ensures that:
  - a load balancer that keeps failing to bind its port does not take
    down the fleet layer's health pulse
  - a crash in the observation feed never disturbs an in-flight
    connection being handed to a worker
  - each layer restarts independently, with its own failure counter

# Usage

	logger := slog.Default()
	tree := supervisor.New(logger, supervisor.DefaultTreeConfig())

	tree.AddFleetService(clusterSupervisor)
	tree.TrackCluster(clusterSupervisor) // balancer-layer membership follows cluster.Supervisor
	tree.AddObserveService(inspectionServer)

	if err := tree.Serve(ctx); err != nil {
	    log.Printf("supervisor stopped: %v", err)
	}

	// Later, to retire an address:
	tree.RemoveBalancer(identity)

# Failure handling

Each layer maintains its own failure counter with exponential decay.
A single crash restarts immediately; five crashes within the decay
window trigger a backoff pause before the next restart. Failures in
one layer never affect the counters of another.

# Debugging shutdown issues

	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    log.Printf("service did not stop in time: %v", svc)
	}
*/
package supervisor
