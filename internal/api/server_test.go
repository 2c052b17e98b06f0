// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/procnanny/nanny/internal/cluster"
	"github.com/procnanny/nanny/internal/config"
	"github.com/procnanny/nanny/internal/logging"
	"github.com/procnanny/nanny/internal/worker"
)

type fakeCluster struct {
	snapshot   cluster.Snapshot
	stopped    bool
	stoppedIDs []worker.LogicalId
	knownIDs   map[worker.LogicalId]bool
}

func (f *fakeCluster) Inspect() cluster.Snapshot { return f.snapshot }

func (f *fakeCluster) Stop(onDone func()) {
	f.stopped = true
	if onDone != nil {
		onDone()
	}
}

func (f *fakeCluster) StopWorker(id worker.LogicalId) bool {
	if f.knownIDs != nil && !f.knownIDs[id] {
		return false
	}
	f.stoppedIDs = append(f.stoppedIDs, id)
	return true
}

func newTestServer(t *testing.T, cfg config.APIConfig, fc *fakeCluster) *Server {
	t.Helper()
	srv, err := New(cfg, fc, logging.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func TestStatusReturnsSnapshot(t *testing.T) {
	fc := &fakeCluster{snapshot: cluster.Snapshot{Active: true}}
	srv := newTestServer(t, config.APIConfig{CORSOrigins: []string{"*"}}, fc)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap cluster.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !snap.Active {
		t.Error("expected Active=true in the snapshot")
	}
}

func TestHealthzAlwaysOpen(t *testing.T) {
	fc := &fakeCluster{}
	srv := newTestServer(t, config.APIConfig{}, fc)

	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestStopClusterRequiresAuthWhenConfigured(t *testing.T) {
	fc := &fakeCluster{}
	srv := newTestServer(t, config.APIConfig{AuthSecret: "swordfish", JWTSecret: "sekrit"}, fc)

	req := httptest.NewRequest(http.MethodPost, "/v1/stop", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if fc.stopped {
		t.Error("cluster should not have been stopped without a valid session")
	}
}

func TestStopClusterOpenWhenAuthDisabled(t *testing.T) {
	fc := &fakeCluster{}
	srv := newTestServer(t, config.APIConfig{}, fc)

	req := httptest.NewRequest(http.MethodPost, "/v1/stop", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if !fc.stopped {
		t.Error("expected cluster.Stop to be called")
	}
}

func TestStopWorkerUnknownReturnsNotFound(t *testing.T) {
	fc := &fakeCluster{knownIDs: map[worker.LogicalId]bool{"0": true}}
	srv := newTestServer(t, config.APIConfig{}, fc)

	req := httptest.NewRequest(http.MethodPost, "/v1/workers/9/stop", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStopWorkerKnownSucceeds(t *testing.T) {
	fc := &fakeCluster{knownIDs: map[worker.LogicalId]bool{"0": true}}
	srv := newTestServer(t, config.APIConfig{}, fc)

	req := httptest.NewRequest(http.MethodPost, "/v1/workers/0/stop", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(fc.stoppedIDs) != 1 || fc.stoppedIDs[0] != "0" {
		t.Errorf("stoppedIDs = %v, want [0]", fc.stoppedIDs)
	}
}
