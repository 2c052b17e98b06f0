// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Fleet.WorkerCount != 4 {
		t.Errorf("Fleet.WorkerCount = %d, want 4", cfg.Fleet.WorkerCount)
	}
	if cfg.Balancer.BacklogDropPolicy != "oldest" {
		t.Errorf("Balancer.BacklogDropPolicy = %q, want oldest", cfg.Balancer.BacklogDropPolicy)
	}
	if cfg.Health.PulseInterval != 5*time.Second {
		t.Errorf("Health.PulseInterval = %v, want 5s", cfg.Health.PulseInterval)
	}
	if cfg.Restart.GraceWindow != 10*time.Second {
		t.Errorf("Restart.GraceWindow = %v, want 10s", cfg.Restart.GraceWindow)
	}
	if cfg.Restart.BreakerThreshold != 5 {
		t.Errorf("Restart.BreakerThreshold = %d, want 5", cfg.Restart.BreakerThreshold)
	}
	if cfg.API.Addr != "127.0.0.1:9500" {
		t.Errorf("API.Addr = %q, want 127.0.0.1:9500", cfg.API.Addr)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := defaultConfig()
	cfg.Logging.Level = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for bad log level")
	}
}

func TestValidateRejectsZeroPulseInterval(t *testing.T) {
	cfg := defaultConfig()
	cfg.Health.PulseInterval = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for zero pulse interval")
	}
}

func TestLoadAppliesYAMLFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nanny.yaml")
	yamlBody := "fleet:\n  worker_count: 8\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Fleet.WorkerCount != 8 {
		t.Errorf("Fleet.WorkerCount = %d, want 8", cfg.Fleet.WorkerCount)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	// Unset field falls through to default.
	if cfg.Restart.GraceWindow != 10*time.Second {
		t.Errorf("Restart.GraceWindow = %v, want default 10s", cfg.Restart.GraceWindow)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nanny.yaml")
	if err := os.WriteFile(path, []byte("fleet:\n  worker_count: 8\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("NANNY_FLEET_WORKER_COUNT", "16")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Fleet.WorkerCount != 16 {
		t.Errorf("Fleet.WorkerCount = %d, want 16 (env should win over file)", cfg.Fleet.WorkerCount)
	}
}

func TestLoadCommaSeparatedLogicalIds(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("NANNY_FLEET_LOGICAL_IDS", "web, worker, cron")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := []string{"web", "worker", "cron"}
	if len(cfg.Fleet.LogicalIds) != len(want) {
		t.Fatalf("LogicalIds = %v, want %v", cfg.Fleet.LogicalIds, want)
	}
	for i, id := range want {
		if cfg.Fleet.LogicalIds[i] != id {
			t.Errorf("LogicalIds[%d] = %q, want %q", i, cfg.Fleet.LogicalIds[i], id)
		}
	}
}
