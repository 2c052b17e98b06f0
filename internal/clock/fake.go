// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// NewFake returns a Fake clock parked at the given instant. Time never
// moves except via Advance; every Timer, Ticker, and Sleep call
// registers a pending fire that Advance resolves in deadline order.
//
// Fake is safe for concurrent use.
func NewFake(initial time.Time) *Fake {
	f := &Fake{now: initial}
	f.pendingChanged = sync.NewCond(&f.mu)
	return f
}

// Fake is a deterministic Clock for tests exercising restart timers,
// forced-stop deadlines, and the health pulse without sleeping in
// wall-clock time.
type Fake struct {
	mu             sync.Mutex
	now            time.Time
	pending        []*pendingFire
	pendingChanged *sync.Cond
}

// pendingFire is one outstanding After/AfterFunc/Ticker/Sleep wait.
type pendingFire struct {
	deadline time.Time
	channel  chan time.Time // nil for AfterFunc
	callback func()         // nil for After/Sleep/Ticker
	interval time.Duration  // non-zero for tickers
	stopped  bool
	fired    bool // one-shot only
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}

	f.pending = append(f.pending, &pendingFire{
		deadline: f.now.Add(d),
		channel:  ch,
	})
	f.pendingChanged.Broadcast()
	return ch
}

func (f *Fake) AfterFunc(d time.Duration, cb func()) *Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := &pendingFire{deadline: f.now.Add(d), callback: cb}
	f.pending = append(f.pending, p)
	f.pendingChanged.Broadcast()

	return &Timer{
		stop: func() bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			if p.stopped || p.fired {
				return false
			}
			p.stopped = true
			return true
		},
		reset: func(d time.Duration) bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			wasPending := !p.stopped && !p.fired
			p.stopped = false
			p.fired = false
			p.deadline = f.now.Add(d)
			if !wasPending {
				f.pending = append(f.pending, p)
				f.pendingChanged.Broadcast()
			}
			return wasPending
		},
	}
}

func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker requires a positive interval")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	p := &pendingFire{deadline: f.now.Add(d), channel: ch, interval: d}
	f.pending = append(f.pending, p)
	f.pendingChanged.Broadcast()

	return &Ticker{
		C: ch,
		stop: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			p.stopped = true
		},
		reset: func(d time.Duration) {
			f.mu.Lock()
			defer f.mu.Unlock()
			p.interval = d
			p.deadline = f.now.Add(d)
			p.stopped = false
		},
	}
}

func (f *Fake) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-f.After(d)
}

// Advance moves the clock forward by d, firing every pending After,
// AfterFunc, Sleep, and Ticker waiter whose deadline now falls within
// range, in deadline order.
//
// AfterFunc callbacks run synchronously on the calling goroutine.
// Channel sends are non-blocking, matching time.Ticker's drop-on-full
// behavior.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	target := f.now
	f.mu.Unlock()

	for {
		due := f.collectDue(target)
		if len(due) == 0 {
			return
		}

		sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })

		for _, p := range due {
			switch {
			case p.callback != nil:
				p.callback()
			case p.channel != nil:
				select {
				case p.channel <- target:
				default:
				}
			}
		}
	}
}

func (f *Fake) collectDue(target time.Time) []*pendingFire {
	f.mu.Lock()
	defer f.mu.Unlock()

	var due, remaining []*pendingFire
	for _, p := range f.pending {
		if p.stopped {
			continue
		}
		if !p.deadline.After(target) {
			due = append(due, p)
		} else {
			remaining = append(remaining, p)
		}
	}

	for _, p := range due {
		if p.interval > 0 {
			p.deadline = p.deadline.Add(p.interval)
			remaining = append(remaining, p)
		} else {
			p.fired = true
		}
	}

	f.pending = remaining
	return due
}

// WaitForTimers blocks until at least n timers/tickers/sleeps are
// registered, eliminating the race between a goroutine arming a timer
// and the test calling Advance before it does.
func (f *Fake) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingCountLocked() < n {
		f.pendingChanged.Wait()
	}
}

// PendingCount returns the number of active (unfired, unstopped)
// timers, tickers, and sleeps.
func (f *Fake) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingCountLocked()
}

func (f *Fake) pendingCountLocked() int {
	n := 0
	for _, p := range f.pending {
		if !p.stopped {
			n++
		}
	}
	return n
}
