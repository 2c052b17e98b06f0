// SPDX-License-Identifier: Apache-2.0

package procworker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procnanny/nanny/internal/health"
	"github.com/procnanny/nanny/internal/logging"
	"github.com/procnanny/nanny/internal/worker"
)

func TestRenderArgsSubstitutesLogicalId(t *testing.T) {
	got := renderArgs([]string{"--id={{id}}", "--port=8080", "plain"}, worker.LogicalId("3"))
	assert.Equal(t, []string{"--id=3", "--port=8080", "plain"}, got)
}

func TestMergeEnvOverlayWins(t *testing.T) {
	env := mergeEnv(map[string]string{"A": "base", "B": "base"}, map[string]string{"A": "overlay"})
	seen := map[string]string{}
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				seen[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	assert.Equal(t, "overlay", seen["A"])
	assert.Equal(t, "base", seen["B"])
}

// recordingSink is a procworker.EventSink test double.
type recordingSink struct {
	mu        sync.Mutex
	listening []string
	health    []health.Report
	exited    int
}

func (r *recordingSink) Listening(id worker.LogicalId, port int, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listening = append(r.listening, fmt.Sprintf("%s:%d:%s", id, port, address))
}

func (r *recordingSink) Health(id worker.LogicalId, report health.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health = append(r.health, report)
}

func (r *recordingSink) Exited(id worker.LogicalId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exited++
}

func (r *recordingSink) listenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listening)
}

func (r *recordingSink) exitedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exited
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition never became true within %s", timeout)
}

// helperScript is a tiny shell child that reports a listening address,
// then blocks reading its own stdin until closed.
const helperScript = `#!/bin/sh
printf '{"type":"listening","port":8080,"address":"127.0.0.1:8080"}\n'
cat >/dev/null
`

func writeHelper(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "helper.sh")
	require.NoError(t, os.WriteFile(path, []byte(helperScript), 0o755))
	return path
}

func TestFactoryNewSatisfiesWorkerSupervisor(t *testing.T) {
	f := NewFactory(Config{Command: "/bin/true"})
	var _ worker.Supervisor = f.New(worker.LogicalId("0"), &recordingSink{})
}

func TestWorkerStartReportsListening(t *testing.T) {
	script := writeHelper(t)
	sink := &recordingSink{}
	f := NewFactory(Config{Command: "/bin/sh", Args: []string{script}, Logger: logging.Nop()})
	w := f.New(worker.LogicalId("0"), sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, nil))

	waitForCondition(t, 2*time.Second, func() bool { return sink.listenCount() == 1 })
	assert.Equal(t, "0:8080:127.0.0.1:8080", sink.listening[0])

	require.NoError(t, w.Stop(context.Background()))
	waitForCondition(t, 2*time.Second, func() bool { return sink.exitedCount() == 1 })
}

func TestWorkerForceStopKillsChild(t *testing.T) {
	sink := &recordingSink{}
	f := NewFactory(Config{Command: "/bin/sh", Args: []string{"-c", "sleep 30"}, Logger: logging.Nop()})
	w := f.New(worker.LogicalId("0"), sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx, nil))

	require.NoError(t, w.ForceStop(context.Background()))
	waitForCondition(t, 2*time.Second, func() bool { return sink.exitedCount() == 1 })
}

func TestWorkerIDReturnsLogicalId(t *testing.T) {
	f := NewFactory(Config{Command: "/bin/true"})
	w := f.New(worker.LogicalId("7"), &recordingSink{})
	assert.Equal(t, worker.LogicalId("7"), w.ID())
}
