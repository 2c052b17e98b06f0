// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"context"
	"time"

	"github.com/procnanny/nanny/internal/cluster"
	"github.com/procnanny/nanny/internal/loadbalancer"
	"github.com/procnanny/nanny/internal/worker"
)

// Snapshotter is the cluster capability the feed depends on. Satisfied
// by *cluster.Supervisor.
type Snapshotter interface {
	Inspect() cluster.Snapshot
}

// pollInterval is how often the feed diffs the cluster snapshot for
// state transitions. It trades a small amount of latency (at most one
// interval) for never having to instrument the core state machines
// with an observer callback.
const pollInterval = 250 * time.Millisecond

// Feed drives the Hub and watches a Snapshotter for state transitions,
// broadcasting one event per worker or load balancer that changed
// state since the last poll.
type Feed struct {
	hub    *Hub
	source Snapshotter

	lastWorker   map[worker.LogicalId]worker.State
	lastBalancer map[loadbalancer.Identity]loadbalancer.State
}

// NewFeed builds a Feed broadcasting on hub, sourced from source.
func NewFeed(hub *Hub, source Snapshotter) *Feed {
	return &Feed{
		hub:          hub,
		source:       source,
		lastWorker:   make(map[worker.LogicalId]worker.State),
		lastBalancer: make(map[loadbalancer.Identity]loadbalancer.State),
	}
}

// Serve implements suture.Service: it runs the Hub's event loop and
// the diff-and-broadcast poll loop until ctx is canceled.
func (f *Feed) Serve(ctx context.Context) error {
	hubErr := make(chan error, 1)
	go func() { hubErr <- f.hub.Run(ctx) }()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-hubErr
			return ctx.Err()
		case <-ticker.C:
			f.pollAndBroadcast()
		}
	}
}

func (f *Feed) pollAndBroadcast() {
	snap := f.source.Inspect()

	seenWorkers := make(map[worker.LogicalId]bool, len(snap.Workers))
	for _, w := range snap.Workers {
		seenWorkers[w.LogicalId] = true
		if prev, ok := f.lastWorker[w.LogicalId]; !ok || prev != w.State {
			f.lastWorker[w.LogicalId] = w.State
			f.hub.Broadcast(Event{
				Type: EventWorkerStateChanged,
				Data: WorkerStateChanged{LogicalId: w.LogicalId, State: w.State},
			})
		}
	}
	for id := range f.lastWorker {
		if !seenWorkers[id] {
			delete(f.lastWorker, id)
		}
	}

	seenBalancers := make(map[loadbalancer.Identity]bool, len(snap.Balancers))
	for _, b := range snap.Balancers {
		seenBalancers[b.Identity] = true
		if prev, ok := f.lastBalancer[b.Identity]; !ok || prev != b.State {
			f.lastBalancer[b.Identity] = b.State
			f.hub.Broadcast(Event{
				Type: EventBalancerStateChanged,
				Data: BalancerStateChanged{Identity: b.Identity, State: b.State},
			})
		}
	}
	for id := range f.lastBalancer {
		if !seenBalancers[id] {
			delete(f.lastBalancer, id)
		}
	}
}

func (f *Feed) String() string { return "observe-feed" }
