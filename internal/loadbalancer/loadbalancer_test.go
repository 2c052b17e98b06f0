// SPDX-License-Identifier: Apache-2.0

package loadbalancer

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procnanny/nanny/internal/clock"
	"github.com/procnanny/nanny/internal/worker"
)

// fakeWorker records SendAddress/SendError/HandleConnection calls for
// assertions without needing a real child process.
type fakeWorker struct {
	mu          sync.Mutex
	id          worker.LogicalId
	addresses   int
	errors      int
	connections []net.Conn
}

func (f *fakeWorker) ID() worker.LogicalId                            { return f.id }
func (f *fakeWorker) Start(context.Context, map[string]string) error  { return nil }
func (f *fakeWorker) Stop(context.Context) error                      { return nil }
func (f *fakeWorker) ForceStop(context.Context) error                 { return nil }
func (f *fakeWorker) SendAddress(port int, address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addresses++
}
func (f *fakeWorker) SendError(port int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors++
}
func (f *fakeWorker) HandleConnection(port int, conn net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connections = append(f.connections, conn)
}

func newLocalListener(network, address string) (net.Listener, error) {
	return net.Listen("tcp", "127.0.0.1:0")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestLoadBalancerHappyPath(t *testing.T) {
	lb := New(Config{
		Identity: Identity{Address: "127.0.0.1", Port: 0},
		Clock:    clock.System(),
		Listen:   newLocalListener,
	})

	lb.Start()
	waitFor(t, time.Second, func() bool { return lb.Inspect().State == Running })

	snap := lb.Inspect()
	assert.NotZero(t, snap.Port)
	assert.Equal(t, "127.0.0.1", snap.Address)
}

func TestLoadBalancerStopDuringStarting(t *testing.T) {
	blockingListen := make(chan struct{})
	lb := New(Config{
		Identity: Identity{Address: "127.0.0.1", Port: 0},
		Clock:    clock.System(),
		Listen: func(network, address string) (net.Listener, error) {
			<-blockingListen
			return newLocalListener(network, address)
		},
	})

	lb.Start()
	assert.Equal(t, Starting, lb.Inspect().State)

	done := make(chan struct{})
	lb.Stop(func() { close(done) })
	assert.Equal(t, Stopping, lb.Inspect().State)

	close(blockingListen)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop callback never fired")
	}
	assert.Equal(t, Standby, lb.Inspect().State)
}

func TestLoadBalancerStartDuringStopping(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	lb := New(Config{
		Identity: Identity{Address: "127.0.0.1", Port: 0},
		Clock:    fc,
		Listen:   newLocalListener,
	})

	lb.Start()
	waitFor(t, time.Second, func() bool { return lb.Inspect().State == Running })

	lb.Stop(nil)
	assert.Equal(t, Stopping, lb.Inspect().State)

	lb.Start()

	waitFor(t, time.Second, func() bool { return lb.Inspect().State == Standby })

	fc.Advance(0)
	waitFor(t, time.Second, func() bool { return lb.Inspect().State == Running })
}

func TestLoadBalancerAddWorkerDispatchesRoundRobin(t *testing.T) {
	lb := New(Config{
		Identity: Identity{Address: "127.0.0.1", Port: 0},
		Clock:    clock.System(),
		Listen:   newLocalListener,
	})

	w1 := &fakeWorker{id: "w1"}
	w2 := &fakeWorker{id: "w2"}
	lb.AddWorker("w1", w1)
	lb.AddWorker("w2", w2)

	lb.Start()
	waitFor(t, time.Second, func() bool { return lb.Inspect().State == Running })

	addr := lb.Inspect()
	for i := 0; i < 6; i++ {
		conn, err := net.Dial("tcp", net.JoinHostPort(addr.Address, strconv.Itoa(addr.Port)))
		require.NoError(t, err)
		_ = conn.Close()
	}

	waitFor(t, time.Second, func() bool {
		w1.mu.Lock()
		w2.mu.Lock()
		defer w1.mu.Unlock()
		defer w2.mu.Unlock()
		return len(w1.connections)+len(w2.connections) == 6
	})

	w1.mu.Lock()
	w2.mu.Lock()
	defer w1.mu.Unlock()
	defer w2.mu.Unlock()
	assert.Equal(t, 3, len(w1.connections))
	assert.Equal(t, 3, len(w2.connections))
}

// TestLoadBalancerListenErrorInRunningFansOutAndStops drives scenario 4
// from spec.md §8: an ERROR observed while Running is fanned out to
// every worker in the Ring exactly once, no connection is dispatched
// during or after, and the LB converges to Standby via Stopping.
func TestLoadBalancerListenErrorInRunningFansOutAndStops(t *testing.T) {
	lb := New(Config{
		Identity: Identity{Address: "127.0.0.1", Port: 0},
		Clock:    clock.System(),
		Listen:   newLocalListener,
	})

	w1 := &fakeWorker{id: "w1"}
	w2 := &fakeWorker{id: "w2"}
	lb.AddWorker("w1", w1)
	lb.AddWorker("w2", w2)

	lb.Start()
	waitFor(t, time.Second, func() bool { return lb.Inspect().State == Running })

	lb.handleListenError(errors.New("simulated accept failure"))

	waitFor(t, time.Second, func() bool { return lb.Inspect().State == Standby })

	w1.mu.Lock()
	w2.mu.Lock()
	defer w1.mu.Unlock()
	defer w2.mu.Unlock()
	assert.Equal(t, 1, w1.errors)
	assert.Equal(t, 1, w2.errors)
	assert.Empty(t, w1.connections)
	assert.Empty(t, w2.connections)
}

// TestLoadBalancerCloseInStandbyPanics covers the invariant violation
// §7.3 describes: the OS layer must never emit a CLOSE while no listen
// is outstanding.
func TestLoadBalancerCloseInStandbyPanics(t *testing.T) {
	lb := New(Config{
		Identity: Identity{Address: "127.0.0.1", Port: 0},
		Clock:    clock.System(),
		Listen:   newLocalListener,
	})

	require.Equal(t, Standby, lb.Inspect().State)
	assert.Panics(t, func() { lb.handleClose() })
}

// TestLoadBalancerListenErrorInStandbyPanics covers the same invariant
// for an ERROR observed in Standby.
func TestLoadBalancerListenErrorInStandbyPanics(t *testing.T) {
	lb := New(Config{
		Identity: Identity{Address: "127.0.0.1", Port: 0},
		Clock:    clock.System(),
		Listen:   newLocalListener,
	})

	require.Equal(t, Standby, lb.Inspect().State)
	assert.Panics(t, func() { lb.handleListenError(errors.New("boom")) })
}

// TestLoadBalancerListenSetupErrorInStandbyPanics covers the invariant
// for a listen-setup failure (net.Listen itself failing) observed in
// Standby — this should never happen since Standby has no outstanding
// Listen call.
func TestLoadBalancerListenSetupErrorInStandbyPanics(t *testing.T) {
	lb := New(Config{
		Identity: Identity{Address: "127.0.0.1", Port: 0},
		Clock:    clock.System(),
		Listen:   newLocalListener,
	})

	require.Equal(t, Standby, lb.Inspect().State)
	assert.Panics(t, func() { lb.handleListenSetupError(errors.New("boom")) })
}
