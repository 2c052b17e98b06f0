// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/procnanny/nanny/internal/clock"
	"github.com/procnanny/nanny/internal/health"
	"github.com/procnanny/nanny/internal/loadbalancer"
	"github.com/procnanny/nanny/internal/logging"
	"github.com/procnanny/nanny/internal/metrics"
	"github.com/procnanny/nanny/internal/worker"
)

// workerStateNames lists every worker.State's String() form, the full
// label set metrics.SetWorkerState needs to zero out the states a
// slot just left.
var workerStateNames = []string{
	worker.Standby.String(),
	worker.Starting.String(),
	worker.Running.String(),
	worker.Stopping.String(),
}

func recordWorkerState(id worker.LogicalId, state worker.State) {
	metrics.SetWorkerState(string(id), workerStateNames, state.String())
}

// Supervisor is the ClusterSupervisor: it owns every worker slot and
// every LoadBalancer, drives each slot's standby/starting/running/
// stopping lifecycle, and runs the health-pulse loop. All mutation
// happens on a single logical event loop guarded by mu; public methods
// are non-blocking.
type Supervisor struct {
	cfg Config
	clk clock.Clock
	log logging.Logger

	mu        sync.Mutex
	ctx       context.Context
	slots     map[worker.LogicalId]*worker.Slot
	balancers map[loadbalancer.Identity]*loadbalancer.LoadBalancer

	active   bool // cluster-wide: has Start() been called
	stopping bool

	pulseTicker  *clock.Ticker
	pulseStop    chan struct{}
	forceTimers  map[worker.LogicalId]*clock.Timer
	restartRetry map[worker.LogicalId]*clock.Timer
	restartRec   map[worker.LogicalId]func(bool)
	breakers     *restartBreakers

	stopCallbacks []func()

	// OnBalancerCreated, if set, is invoked whenever a LoadBalancer is
	// created lazily on first worker listen. supervisor.Tree.TrackCluster
	// sets it to add the new LB to the tree's balancer layer.
	OnBalancerCreated func(*loadbalancer.LoadBalancer)
}

// New constructs a Supervisor with the given configuration. Slots are
// allocated immediately (in Standby) and persist for the life of the
// supervisor.
func New(cfg Config) *Supervisor {
	cfg.applyDefaults()

	s := &Supervisor{
		cfg:          cfg,
		clk:          cfg.Clock,
		log:          cfg.Logger,
		slots:        make(map[worker.LogicalId]*worker.Slot),
		balancers:    make(map[loadbalancer.Identity]*loadbalancer.LoadBalancer),
		forceTimers:  make(map[worker.LogicalId]*clock.Timer),
		restartRetry: make(map[worker.LogicalId]*clock.Timer),
		restartRec:   make(map[worker.LogicalId]func(bool)),
	}
	s.breakers = newRestartBreakers(cfg.RestartBreakerThreshold, cfg.RestartBreakerCooldown, s.onBreakerStateChange)

	for _, id := range cfg.slotIDs() {
		sup := cfg.NewSupervisor(id, s)
		s.slots[id] = worker.NewSlot(id, sup)
	}
	return s
}

func (s *Supervisor) onBreakerStateChange(id worker.LogicalId, from, to gobreaker.State) {
	s.log.Warn("restart breaker state change", logging.Fields{
		"logicalId": string(id), "from": from.String(), "to": to.String(),
	})
}

// Start spawns every configured worker slot and starts the
// health-pulse ticker.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return
	}
	s.active = true
	s.stopping = false
	s.ctx = ctx

	for id := range s.slots {
		s.startWorkerLocked(id)
	}

	s.pulseTicker = s.clk.NewTicker(s.cfg.Pulse)
	s.pulseStop = make(chan struct{})
	go s.pulseLoop(s.pulseTicker.C, s.pulseStop)
}

// Stop marks every worker for graceful stop and stops every
// LoadBalancer. onDone, if supplied, fires once every worker and every
// LoadBalancer has reached Standby.
func (s *Supervisor) Stop(onDone func()) {
	s.mu.Lock()

	if !s.active || s.stopping {
		s.mu.Unlock()
		if onDone != nil {
			onDone()
		}
		return
	}
	s.stopping = true

	if onDone != nil {
		s.stopCallbacks = append(s.stopCallbacks, onDone)
	}

	for id, slot := range s.slots {
		if slot.State != worker.Standby {
			s.stopWorkerLocked(id)
		}
	}

	var lbs []*loadbalancer.LoadBalancer
	for _, lb := range s.balancers {
		lbs = append(lbs, lb)
	}
	s.mu.Unlock()

	// lb.Stop may invoke its callback synchronously if the LB is
	// already Standby; that callback re-acquires mu, so it must run
	// outside this critical section to avoid a self-deadlock.
	for _, lb := range lbs {
		lb.Stop(func() {
			s.mu.Lock()
			s.checkShutdownConvergenceLocked()
			s.mu.Unlock()
		})
	}

	s.mu.Lock()
	s.checkShutdownConvergenceLocked()
	s.mu.Unlock()
}

// StopWorker requests a graceful stop of a single slot without
// touching the rest of the fleet. It is a no-op for an unknown id or a
// slot already stopping or in Standby. Whether the slot restarts
// afterward is governed by cfg.ShouldRestart, same as any other exit.
func (s *Supervisor) StopWorker(id worker.LogicalId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.slots[id]; !ok {
		return false
	}
	s.stopWorkerLocked(id)
	return true
}

// checkShutdownConvergenceLocked fires stop callbacks and halts the
// pulse ticker once every slot and every balancer has reached
// Standby. Callers must hold mu.
func (s *Supervisor) checkShutdownConvergenceLocked() {
	if !s.stopping {
		return
	}
	for _, slot := range s.slots {
		if slot.State != worker.Standby {
			return
		}
	}
	for _, lb := range s.balancers {
		if lb.Inspect().State != loadbalancer.Standby {
			return
		}
	}

	if s.pulseTicker != nil {
		s.pulseTicker.Stop()
		close(s.pulseStop)
		s.pulseTicker = nil
	}
	s.active = false

	callbacks := s.stopCallbacks
	s.stopCallbacks = nil

	s.mu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
	s.mu.Lock()
}

// startWorkerLocked issues a start request for id without consulting
// the restart breaker: Start calls it directly for the initial
// fleet-wide spawn, and attemptRestartLocked calls it only after the
// breaker has permitted a restart. Callers must hold mu.
func (s *Supervisor) startWorkerLocked(id worker.LogicalId) {
	slot := s.slots[id]
	slot.EnterStarting(s.clk.Now())
	recordWorkerState(id, slot.State)
	env := s.cfg.CreateEnvironment(id)

	if err := slot.Supervisor.Start(s.ctx, env); err != nil {
		s.log.Error("worker start failed", logging.Fields{"logicalId": string(id), "error": err.Error()})
		slot.EnterStandby()
		recordWorkerState(id, slot.State)
	}
}

// stopWorkerLocked begins a graceful stop of id: it is first removed
// from every LoadBalancer so new connections stop flowing, then asked
// to stop, with a forced-stop timer armed for the grace window.
// Callers must hold mu.
func (s *Supervisor) stopWorkerLocked(id worker.LogicalId) {
	slot := s.slots[id]
	if slot.State == worker.Standby || slot.State == worker.Stopping {
		return
	}

	for _, lb := range s.balancers {
		lb.RemoveWorker(id)
	}

	now := s.clk.Now()
	slot.EnterStopping(now, s.cfg.GraceWindow)
	recordWorkerState(id, slot.State)

	if err := slot.Supervisor.Stop(s.ctx); err != nil {
		s.log.Error("worker stop request failed", logging.Fields{"logicalId": string(id), "error": err.Error()})
	}

	s.forceTimers[id] = s.clk.AfterFunc(s.cfg.GraceWindow, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.forceStopLocked(id)
	})
}

func (s *Supervisor) forceStopLocked(id worker.LogicalId) {
	slot, ok := s.slots[id]
	if !ok || slot.State != worker.Stopping {
		return
	}
	slot.ForcedStop = true
	metrics.ForcedStopsTotal.WithLabelValues(string(id)).Inc()
	if err := slot.Supervisor.ForceStop(s.ctx); err != nil {
		s.log.Error("forced stop failed", logging.Fields{"logicalId": string(id), "error": err.Error()})
	}
}

// Listening implements EventSink: a worker has reported its listening
// address.
func (s *Supervisor) Listening(id worker.LogicalId, port int, address string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return
	}

	identity := s.cfg.BalancerFor(address, port)
	lb, ok := s.balancers[identity]
	if !ok {
		lb = s.cfg.NewBalancer(identity)
		s.balancers[identity] = lb
		if s.OnBalancerCreated != nil {
			s.OnBalancerCreated(lb)
		}
		lb.Start()
	}

	slot.EnterRunning(port)
	recordWorkerState(id, slot.State)
	lb.AddWorker(id, slot.Supervisor)

	if record, ok := s.restartRec[id]; ok {
		record(true)
		delete(s.restartRec, id)
	}
}

// Health implements EventSink: a worker has produced a health report
// for the current pulse window.
func (s *Supervisor) Health(id worker.LogicalId, report health.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok || (slot.State != worker.Running && slot.State != worker.Stopping) {
		return
	}
	r := report
	slot.Health = &r
}

// Exited implements EventSink: a worker's child process has exited.
func (s *Supervisor) Exited(id worker.LogicalId) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return
	}

	if t, ok := s.forceTimers[id]; ok {
		t.Stop()
		delete(s.forceTimers, id)
	}

	for _, lb := range s.balancers {
		lb.RemoveWorker(id)
	}

	wasForced := slot.ForcedStop
	slot.EnterStandby()
	recordWorkerState(id, slot.State)

	if record, ok := s.restartRec[id]; ok {
		record(false)
		delete(s.restartRec, id)
	}

	if s.stopping {
		s.checkShutdownConvergenceLocked()
		return
	}

	if s.cfg.ShouldRestart(id, wasForced) {
		s.attemptRestartLocked(id)
	}
}

// attemptRestartLocked consults the slot's restart breaker before
// restarting. Callers must hold mu.
func (s *Supervisor) attemptRestartLocked(id worker.LogicalId) {
	record, permitted := s.breakers.allowRestart(id)
	if !permitted {
		s.log.Warn("restart breaker open, deferring restart", logging.Fields{"logicalId": string(id)})
		s.restartRetry[id] = s.clk.AfterFunc(s.cfg.RestartBreakerCooldown, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.restartRetry, id)
			if s.active && !s.stopping {
				s.attemptRestartLocked(id)
			}
		})
		return
	}
	s.restartRec[id] = record
	metrics.RestartsTotal.WithLabelValues(string(id)).Inc()
	s.startWorkerLocked(id)
}

// pulseLoop evaluates the health policy against every running slot's
// most recent report, once per tick, until stopped.
func (s *Supervisor) pulseLoop(ticks <-chan time.Time, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ticks:
			s.pulseTick()
		}
	}
}

func (s *Supervisor) pulseTick() {
	start := s.clk.Now()
	defer func() { metrics.PulseDuration.Observe(s.clk.Now().Sub(start).Seconds()) }()

	s.mu.Lock()
	var unhealthy []worker.LogicalId
	for id, slot := range s.slots {
		if slot.State != worker.Running || slot.Health == nil {
			continue
		}
		if !s.cfg.IsHealthy(*slot.Health) {
			unhealthy = append(unhealthy, id)
		}
	}
	for _, id := range unhealthy {
		s.log.Info("worker failed health policy, requesting stop", logging.Fields{"logicalId": string(id)})
		s.stopWorkerLocked(id)
	}
	s.mu.Unlock()
}

// Serve implements suture.Service so the fleet layer of the supervisor
// tree can restart the cluster's own event loop wiring on crash.
func (s *Supervisor) Serve(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()

	done := make(chan struct{})
	s.Stop(func() { close(done) })

	select {
	case <-done:
	case <-time.After(30 * time.Second):
	}
	return nil
}
