// SPDX-License-Identifier: Apache-2.0

package loadbalancer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/procnanny/nanny/internal/backlog"
	"github.com/procnanny/nanny/internal/clock"
	"github.com/procnanny/nanny/internal/logging"
	"github.com/procnanny/nanny/internal/metrics"
	"github.com/procnanny/nanny/internal/ring"
	"github.com/procnanny/nanny/internal/worker"
)

// Config configures one LoadBalancer instance.
type Config struct {
	Identity Identity

	// RestartDelay is how long to wait after a close with a latched
	// restart intent (Start called while Stopping) before calling
	// Start again. Zero means "next tick".
	RestartDelay time.Duration

	// BacklogCap bounds the pending-connection FIFO. Zero means
	// unbounded, matching the source's historical default.
	BacklogCap int
	// BacklogDropPolicy chooses what to discard once BacklogCap is
	// reached.
	BacklogDropPolicy backlog.DropPolicy

	// DrainRate throttles how many backlog entries can be handed off
	// per second during a drain, guarding against a thundering herd
	// onto the first worker to join an empty ring. Zero disables
	// throttling.
	DrainRate  rate.Limit
	DrainBurst int

	Clock  clock.Clock
	Logger logging.Logger

	// Listen is the function used to open the listening socket.
	// Defaults to net.Listen; tests substitute a fake.
	Listen func(network, address string) (net.Listener, error)
}

// LoadBalancer is a per-address round-robin dispatcher. It implements
// suture.Service so a supervisor tree can restart it on crash.
//
// All state is guarded by mu; every public method other than Serve is
// non-blocking and returns immediately, matching the single-event-loop
// concurrency model — completion is observed through the LB's own
// later events or through an explicit done callback.
type LoadBalancer struct {
	cfg    Config
	clk    clock.Clock
	logger logging.Logger

	mu            sync.Mutex
	state         State
	nextState     State // Standby means "no latch"; Starting means latched restart
	address       string
	port          int
	listener      net.Listener
	ring          *ring.Ring[worker.LogicalId]
	workers       map[worker.LogicalId]workerHandle
	backlogFIFO   *backlog.Backlog[*pendingConn]
	restartTimer  *clock.Timer
	drainTimer    *clock.Timer
	drainLimiter  *rate.Limiter
	doneCallbacks []func()

	stopServe context.CancelFunc
}

// New constructs a LoadBalancer in Standby.
func New(cfg Config) *LoadBalancer {
	if cfg.Clock == nil {
		cfg.Clock = clock.System()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Listen == nil {
		cfg.Listen = net.Listen
	}

	var bl *backlog.Backlog[*pendingConn]
	if cfg.BacklogCap > 0 {
		bl = backlog.NewBounded[*pendingConn](cfg.BacklogCap, cfg.BacklogDropPolicy)
	} else {
		bl = backlog.New[*pendingConn]()
	}

	var limiter *rate.Limiter
	if cfg.DrainRate > 0 {
		burst := cfg.DrainBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.DrainRate, burst)
	}

	return &LoadBalancer{
		cfg:          cfg,
		clk:          cfg.Clock,
		logger:       cfg.Logger,
		state:        Standby,
		ring:         ring.New[worker.LogicalId](),
		workers:      make(map[worker.LogicalId]workerHandle),
		backlogFIFO:  bl,
		drainLimiter: limiter,
	}
}

// Identity returns the (port, address, backlog) tuple naming this LB.
func (l *LoadBalancer) Identity() Identity { return l.cfg.Identity }

// Start is idempotent. Standby -> Starting (and asks the OS to
// listen). Stopping latches nextState = Starting. Starting/Running are
// no-ops.
func (l *LoadBalancer) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startLocked()
}

func (l *LoadBalancer) startLocked() {
	switch l.state {
	case Standby:
		l.state = Starting
		go l.listenAsync()
	case Stopping:
		l.nextState = Starting
	case Starting, Running:
		// no-op
	}
}

// Stop is idempotent. Running issues an OS close and moves to
// Stopping. Starting moves to Stopping with the close deferred to the
// LISTENING event. Stopping/Standby are no-ops. If onDone is supplied
// it fires once the LB next reaches Standby (immediately if already
// there).
func (l *LoadBalancer) Stop(onDone func()) {
	l.mu.Lock()

	switch l.state {
	case Running:
		l.state = Stopping
		l.cancelRestartTimerLocked()
		ln := l.listener
		l.mu.Unlock()
		if ln != nil {
			_ = ln.Close()
		}
		l.mu.Lock()
	case Starting:
		l.state = Stopping
		l.cancelRestartTimerLocked()
	case Standby:
		// A restart may already be latched and waiting on a timer
		// from a prior stopping->standby transition; a stop() call
		// arriving before it fires cancels it.
		l.cancelRestartTimerLocked()
	case Stopping:
		// no-op
	}

	if onDone != nil {
		if l.state == Standby {
			l.mu.Unlock()
			onDone()
			return
		}
		l.doneCallbacks = append(l.doneCallbacks, onDone)
	}
	l.mu.Unlock()
}

// AddWorker appends w to the ring. If the LB is Running, w is told the
// current listening address and a backlog drain is triggered.
func (l *LoadBalancer) AddWorker(id worker.LogicalId, sup workerHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring.Push(id)
	l.workers[id] = sup

	if l.state == Running {
		sup.SendAddress(l.port, l.address)
		l.drainLocked()
	}
}

// RemoveWorker drops id from the ring. Absence is tolerated: this may
// be called both preemptively on stop-request and again on confirmed
// exit.
func (l *LoadBalancer) RemoveWorker(id worker.LogicalId) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring.Remove(id)
	delete(l.workers, id)
}

// ForEachWorker iterates the ring in order, for the cluster
// supervisor's drain coordination.
func (l *LoadBalancer) ForEachWorker(f func(worker.LogicalId)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring.ForEach(f)
}

// Inspect returns a point-in-time snapshot of public state.
func (l *LoadBalancer) Inspect() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		State:         l.state,
		RequestedPort: l.cfg.Identity.Port,
		Port:          l.port,
		Address:       l.address,
		BacklogSize:   l.backlogFIFO.Size(),
		RingSize:      l.ring.Size(),
	}
}

// listenAsync performs the actual OS-level listen off the event loop
// goroutine and reports the LISTENING event (or a listen-setup ERROR)
// back into the loop.
func (l *LoadBalancer) listenAsync() {
	addr := fmt.Sprintf("%s:%d", l.cfg.Identity.Address, l.cfg.Identity.Port)
	ln, err := l.cfg.Listen("tcp", addr)
	if err != nil {
		l.handleListenSetupError(err)
		return
	}
	l.handleListening(ln)
}

// handleListening processes the LISTENING event.
func (l *LoadBalancer) handleListening(ln net.Listener) {
	l.mu.Lock()

	switch l.state {
	case Starting:
		l.listener = ln
		l.port, l.address = addrParts(ln.Addr())
		l.state = Running
		l.logger.Info("load balancer listening", logging.Fields{
			"address": l.address, "port": l.port,
		})

		l.ring.ForEach(func(id worker.LogicalId) {
			l.workers[id].SendAddress(l.port, l.address)
		})
		l.drainLocked()
		l.mu.Unlock()
		go l.acceptLoop(ln)
		return

	case Stopping:
		// Close deferred from a stop-during-starting request. No
		// accept loop is ever started for this epoch, so nothing else
		// will report the CLOSE event; finish the transition here.
		_ = ln.Close()
		l.transitionToStandbyLocked()
		l.mu.Unlock()
		return

	default:
		l.mu.Unlock()
		_ = ln.Close()
		l.logger.Warn("listening event observed in unexpected state", logging.Fields{
			"state": l.state.String(),
		})
	}
}

// handleListenSetupError processes a failure of the initial net.Listen
// call — no listener was ever created.
func (l *LoadBalancer) handleListenSetupError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case Starting:
		l.logger.Warn("listen failed", logging.Fields{"error": err.Error()})
		l.transitionToStandbyLocked()
	case Stopping:
		l.transitionToStandbyLocked()
	case Standby:
		panic(fmt.Errorf("%w: listen error in standby: %v", ErrInvariantViolated, err))
	case Running:
		// Cannot happen: a listener already exists in Running.
	}
}

// acceptLoop runs on its own goroutine for the lifetime of one epoch
// (one Running interval). It exits when Accept fails, which is either
// an unsolicited/issued close or a genuine listener error.
func (l *LoadBalancer) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				l.handleClose()
			} else {
				l.handleListenError(err)
			}
			return
		}
		l.handleConnection(conn)
	}
}

// handleClose processes the CLOSE event: an issued or unsolicited
// close of the listening socket.
func (l *LoadBalancer) handleClose() {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case Running, Stopping:
		l.transitionToStandbyLocked()
	case Standby:
		panic(ErrInvariantViolated)
	case Starting:
		// Should not happen: acceptLoop only runs after Running.
	}
}

// handleListenError processes the ERROR event: an Accept failure that
// is not simply the listener being closed.
func (l *LoadBalancer) handleListenError(err error) {
	l.mu.Lock()

	switch l.state {
	case Running:
		l.logger.Error("listener error, fanning out to workers", logging.Fields{"error": err.Error()})
		l.ring.ForEach(func(id worker.LogicalId) {
			l.workers[id].SendError(l.port, err)
		})
		l.state = Stopping
		l.cancelRestartTimerLocked()
		ln := l.listener
		l.mu.Unlock()
		if ln != nil {
			_ = ln.Close()
		}
		return
	case Standby:
		l.mu.Unlock()
		panic(fmt.Errorf("%w: %v", ErrInvariantViolated, err))
	default:
		l.mu.Unlock()
	}
}

// handleConnection processes a freshly accepted connection: the
// CONNECTION event.
func (l *LoadBalancer) handleConnection(conn net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Running && l.ring.Size() > 0 {
		id, ok := l.ring.RotateHead()
		if ok {
			l.workers[id].HandleConnection(l.port, conn)
			metrics.RecordDispatch(string(id), l.cfg.Identity.String())
			return
		}
	}

	l.backlogFIFO.Push(newPendingConn(conn))
	metrics.BacklogDepth.WithLabelValues(l.cfg.Identity.String()).Set(float64(l.backlogFIFO.Size()))
	l.logger.Info("connection queued to backlog", logging.Fields{
		"backlogSize": l.backlogFIFO.Size(),
	})
}

// transitionToStandbyLocked moves the LB to Standby, re-arms a restart
// timer if a restart was latched, and fires done callbacks. Callers
// must hold mu.
func (l *LoadBalancer) transitionToStandbyLocked() {
	l.state = Standby
	l.listener = nil
	l.port = 0
	l.address = ""

	restart := l.nextState == Starting
	l.nextState = Standby

	callbacks := l.doneCallbacks
	l.doneCallbacks = nil

	if restart {
		delay := l.cfg.RestartDelay
		l.restartTimer = l.clk.AfterFunc(delay, func() {
			l.mu.Lock()
			shouldStart := l.state == Standby
			l.mu.Unlock()
			if shouldStart {
				l.Start()
			}
		})
	}

	l.mu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
	l.mu.Lock()
}

func (l *LoadBalancer) cancelRestartTimerLocked() {
	if l.restartTimer != nil {
		l.restartTimer.Stop()
		l.restartTimer = nil
	}
	l.nextState = Standby
}

// drainLocked drains the backlog into the ring, respecting the
// configured drain rate limiter so a single worker joining an empty
// ring cannot be handed the entire backlog in one tick. Callers must
// hold mu.
func (l *LoadBalancer) drainLocked() {
	if l.state != Running {
		return
	}

	l.backlogFIFO.DrainInto(func(p *pendingConn) bool {
		if l.ring.Size() == 0 {
			return false
		}
		if l.drainLimiter != nil && !l.drainLimiter.Allow() {
			l.armDrainRetryLocked()
			return false
		}
		id, ok := l.ring.RotateHead()
		if !ok {
			return false
		}
		l.workers[id].HandleConnection(l.port, p.Conn())
		metrics.RecordDispatch(string(id), l.cfg.Identity.String())
		return true
	})
	metrics.BacklogDepth.WithLabelValues(l.cfg.Identity.String()).Set(float64(l.backlogFIFO.Size()))
}

// armDrainRetryLocked schedules another drain attempt shortly after a
// throttled drain leaves entries queued. Callers must hold mu.
func (l *LoadBalancer) armDrainRetryLocked() {
	if l.drainTimer != nil {
		return
	}
	l.drainTimer = l.clk.AfterFunc(50*time.Millisecond, func() {
		l.mu.Lock()
		l.drainTimer = nil
		l.drainLocked()
		l.mu.Unlock()
	})
}

// Serve implements suture.Service. It blocks until ctx is canceled,
// then stops the LB and waits for it to reach Standby.
func (l *LoadBalancer) Serve(ctx context.Context) error {
	<-ctx.Done()

	done := make(chan struct{})
	l.Stop(func() { close(done) })

	select {
	case <-done:
	case <-time.After(10 * time.Second):
	}
	return nil
}

func addrParts(a net.Addr) (port int, address string) {
	if tcp, ok := a.(*net.TCPAddr); ok {
		return tcp.Port, tcp.IP.String()
	}
	return 0, a.String()
}
