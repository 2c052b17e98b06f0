// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/procnanny/nanny/internal/cluster"
	"github.com/procnanny/nanny/internal/loadbalancer"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns production-ready defaults, matching suture's
// own built-in defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the root suture supervision tree for a nanny process. It is
// organized into three layers for failure isolation:
//
//   - fleet: the cluster.Supervisor's own event loop (worker lifecycle,
//     health pulse)
//   - balancers: one supervised service per LoadBalancer's listen/accept
//     loop, added and removed across the process's lifetime as
//     addresses come and go
//   - observe: the HTTP inspection API and the live state-change feed
//
// A crash restarting the observe layer never disturbs an in-flight
// connection being handed to a worker; a load balancer that keeps
// failing to bind its listener does not take down the fleet layer's
// health pulse.
//
// Unlike the fleet and observe layers, whose membership is fixed at
// startup, the balancer layer's membership tracks cluster.Supervisor's
// own balancers map one-for-one: a LoadBalancer is born the moment a
// worker first reports a listen address for an Identity the cluster
// hasn't seen before (cluster.Supervisor.OnBalancerCreated), and it
// lives until the process exits — nanny never retires an Identity on
// its own, but an operator driving the inspection API might one day
// want to. Tree keeps the suture.ServiceToken for every balancer it is
// handed, indexed by the LoadBalancer's own Identity, so that future
// removal doesn't require the caller to have held onto the token.
type Tree struct {
	root      *suture.Supervisor
	fleet     *suture.Supervisor
	balancers *suture.Supervisor
	observe   *suture.Supervisor
	config    TreeConfig

	mu             sync.Mutex
	balancerTokens map[loadbalancer.Identity]suture.ServiceToken
}

// New creates a new supervision tree with the given configuration.
func New(logger *slog.Logger, config TreeConfig) *Tree {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	handler := &sutureslog.Handler{Logger: logger}
	eventHook := handler.MustHook() // pointer receiver

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("nanny", rootSpec)
	fleet := suture.New("fleet-layer", childSpec)
	balancers := suture.New("balancer-layer", childSpec)
	observe := suture.New("observe-layer", childSpec)

	root.Add(fleet)
	root.Add(balancers)
	root.Add(observe)

	return &Tree{
		root:           root,
		fleet:          fleet,
		balancers:      balancers,
		observe:        observe,
		config:         config,
		balancerTokens: make(map[loadbalancer.Identity]suture.ServiceToken),
	}
}

// Root returns the root supervisor for direct access if needed.
func (t *Tree) Root() *suture.Supervisor { return t.root }

// AddFleetService adds a service to the fleet layer. Use this for the
// cluster.Supervisor's Serve loop.
func (t *Tree) AddFleetService(svc suture.Service) suture.ServiceToken {
	return t.fleet.Add(svc)
}

// AddObserveService adds a service to the observe layer. Use this for
// the inspection HTTP API and the observation feed's WebSocket hub.
func (t *Tree) AddObserveService(svc suture.Service) suture.ServiceToken {
	return t.observe.Add(svc)
}

// TrackCluster wires sup's lazy balancer creation into the balancer
// layer: every time sup starts supervising a new Identity, the
// resulting LoadBalancer is added here and its token recorded under
// that Identity, so a later RemoveBalancer(identity) needs nothing
// more than the Identity itself. It overwrites any OnBalancerCreated
// hook sup already has — call it once, before sup.Serve runs.
func (t *Tree) TrackCluster(sup *cluster.Supervisor) {
	sup.OnBalancerCreated = t.addBalancer
}

func (t *Tree) addBalancer(lb *loadbalancer.LoadBalancer) {
	token := t.balancers.Add(lb)

	t.mu.Lock()
	t.balancerTokens[lb.Identity()] = token
	t.mu.Unlock()
}

// RemoveBalancer stops and removes the balancer layer service for
// identity, e.g. when an operator administratively retires an
// address. It returns an error if identity was never tracked (by
// TrackCluster or AddBalancerService) or has already been removed.
func (t *Tree) RemoveBalancer(identity loadbalancer.Identity) error {
	t.mu.Lock()
	token, ok := t.balancerTokens[identity]
	if ok {
		delete(t.balancerTokens, identity)
	}
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("supervisor: no balancer tracked for %s", identity)
	}
	return t.balancers.Remove(token)
}

// AddBalancerService adds svc directly to the balancer layer and
// tracks its token under svc.Identity(), the same bookkeeping
// TrackCluster's callback performs. Most callers want TrackCluster
// instead; this exists for tests and any balancer built outside a
// cluster.Supervisor.
func (t *Tree) AddBalancerService(svc *loadbalancer.LoadBalancer) suture.ServiceToken {
	t.addBalancer(svc)
	t.mu.Lock()
	token := t.balancerTokens[svc.Identity()]
	t.mu.Unlock()
	return token
}

// Serve starts the tree and blocks until the context is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the tree in a background goroutine, returning
// a channel that receives the terminal error (or nil).
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport reports services that failed to stop within
// the configured shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
