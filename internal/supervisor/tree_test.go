// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procnanny/nanny/internal/cluster"
	"github.com/procnanny/nanny/internal/loadbalancer"
	"github.com/procnanny/nanny/internal/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestTrackClusterRegistersBalancerOnCreation(t *testing.T) {
	tree := New(discardLogger(), DefaultTreeConfig())

	sup := cluster.New(cluster.Config{
		WorkerCount:   1,
		NewSupervisor: func(worker.LogicalId, cluster.EventSink) worker.Supervisor { return nil },
	})
	tree.TrackCluster(sup)

	identity := loadbalancer.Identity{Address: "127.0.0.1", Port: 8080}
	lb := loadbalancer.New(loadbalancer.Config{Identity: identity})

	require.NotNil(t, sup.OnBalancerCreated)
	sup.OnBalancerCreated(lb)

	assert.NoError(t, tree.RemoveBalancer(identity))
}

func TestRemoveBalancerUnknownIdentityErrors(t *testing.T) {
	tree := New(discardLogger(), DefaultTreeConfig())

	err := tree.RemoveBalancer(loadbalancer.Identity{Address: "127.0.0.1", Port: 9})
	assert.Error(t, err)
}

func TestAddBalancerServiceTracksToken(t *testing.T) {
	tree := New(discardLogger(), DefaultTreeConfig())

	identity := loadbalancer.Identity{Address: "127.0.0.1", Port: 8081}
	lb := loadbalancer.New(loadbalancer.Config{Identity: identity})

	token := tree.AddBalancerService(lb)
	assert.NotZero(t, token)
	assert.NoError(t, tree.RemoveBalancer(identity))
	assert.Error(t, tree.RemoveBalancer(identity), "second removal of the same identity should fail")
}
