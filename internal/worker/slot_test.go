// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlotLifecycleTimestamps(t *testing.T) {
	s := NewSlot("w1", nil)
	assert.Equal(t, Standby, s.State)

	now := time.Now()
	s.EnterStarting(now)
	assert.Equal(t, Starting, s.State)
	assert.Equal(t, now, s.StartingAt)

	s.EnterRunning(9000)
	assert.Equal(t, Running, s.State)
	assert.Equal(t, 9000, s.ListenPort)
	assert.True(t, s.IsActive())

	stopAt := now.Add(time.Minute)
	grace := 5 * time.Second
	s.EnterStopping(stopAt, grace)
	assert.Equal(t, Stopping, s.State)
	assert.Equal(t, stopAt, s.StopRequestedAt)
	assert.Equal(t, stopAt.Add(grace), s.ForceStopAt)
	assert.True(t, s.StopRequestedAt.Before(s.ForceStopAt) || s.StopRequestedAt.Equal(s.ForceStopAt))

	s.ForcedStop = true
	s.EnterStandby()
	assert.Equal(t, Standby, s.State)
	assert.False(t, s.ForcedStop)
	assert.Zero(t, s.ListenPort)
	assert.False(t, s.IsActive())
}

func TestStateStringAndJSON(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	b, err := Running.MarshalJSON()
	assert.NoError(t, err)
	assert.Equal(t, `"running"`, string(b))
}
