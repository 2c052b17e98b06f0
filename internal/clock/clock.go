// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time so the event loop (health pulse ticker,
// restart timers, forced-stop deadlines) can be driven deterministically
// in tests instead of racing against the wall clock.
package clock

import "time"

// Clock is the time source every timer-driven component in the nanny
// takes at construction time instead of calling the time package
// directly: the health pulse ticker, the load balancer's restart timer,
// and the forced-stop deadline all go through a Clock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that fires once after d elapses. d <= 0
	// fires immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f to run after d elapses and returns a Timer
	// that can cancel it. Its C field is nil, matching time.AfterFunc.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker delivering ticks on C every d. Panics
	// if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Ticker delivers periodic ticks on C. C has capacity 1: a consumer
// that falls behind loses ticks rather than queuing them, matching
// time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop  func()
	reset func(time.Duration)
}

// Stop releases the ticker's resources. No further ticks arrive on C.
func (t *Ticker) Stop() { t.stop() }

// Reset restarts the tick cycle at the new interval.
func (t *Ticker) Reset(d time.Duration) { t.reset(d) }

// Timer represents a single scheduled fire. AfterFunc timers have a
// nil C; timers backing After are not exposed to callers directly.
type Timer struct {
	C <-chan time.Time

	stop  func() bool
	reset func(time.Duration) bool
}

// Stop prevents the timer from firing. Returns false if it already
// fired or was already stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Reset reschedules the timer to fire after d. Returns whether the
// timer was still pending before the reset.
func (t *Timer) Reset(d time.Duration) bool { return t.reset(d) }
