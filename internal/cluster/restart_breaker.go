// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/procnanny/nanny/internal/worker"
)

// restartBreakers paces the "restart while running" policy per
// LogicalId. A worker that crashes immediately on every restart would
// otherwise hot-loop the OS-facing spawn path; the breaker for a slot
// opens after a run of rapid failed restarts and holds the slot in
// Standby for a cooldown before allowing another attempt. This never
// changes the state machine in spec.md §4.4 — it only paces how often
// the "always restart while running" policy is allowed to re-fire.
type restartBreakers struct {
	mu       sync.Mutex
	settings gobreaker.Settings
	byID     map[worker.LogicalId]*gobreaker.TwoStepCircuitBreaker[struct{}]
}

func newRestartBreakers(maxFailures uint32, cooldown time.Duration, onStateChange func(id worker.LogicalId, from, to gobreaker.State)) *restartBreakers {
	settings := gobreaker.Settings{
		Name:        "slot-restart",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	}
	rb := &restartBreakers{
		settings: settings,
		byID:     make(map[worker.LogicalId]*gobreaker.TwoStepCircuitBreaker[struct{}]),
	}
	rb.settings.OnStateChange = func(name string, from, to gobreaker.State) {
		if onStateChange != nil {
			// name is set per-breaker to the LogicalId string when the
			// breaker is created; recover it here.
			onStateChange(worker.LogicalId(name), from, to)
		}
	}
	return rb
}

func (rb *restartBreakers) breakerFor(id worker.LogicalId) *gobreaker.TwoStepCircuitBreaker[struct{}] {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if b, ok := rb.byID[id]; ok {
		return b
	}

	settings := rb.settings
	settings.Name = string(id)
	b := gobreaker.NewTwoStepCircuitBreaker[struct{}](settings)
	rb.byID[id] = b
	return b
}

// allowRestart asks whether a restart attempt for id may proceed. It
// returns a callback the caller must invoke with the outcome (true once
// the slot reaches Running, false if it exits before reaching Running)
// once known, and a bool reporting
// whether the attempt is currently permitted.
func (rb *restartBreakers) allowRestart(id worker.LogicalId) (record func(success bool), permitted bool) {
	b := rb.breakerFor(id)
	done, err := b.Allow()
	if err != nil {
		return func(bool) {}, false
	}
	return func(success bool) {
		if success {
			done(nil)
		} else {
			done(errRestartFailed)
		}
	}, true
}

var errRestartFailed = errors.New("restart attempt failed")
