// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the nanny process's configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for every optional setting.
//  2. Config File: optional YAML config file.
//  3. Environment Variables: override any setting, highest priority.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in
// priority order. The first one found wins.
var DefaultConfigPaths = []string{
	"nanny.yaml",
	"nanny.yml",
	"/etc/nanny/nanny.yaml",
	"/etc/nanny/nanny.yml",
}

// ConfigPathEnvVar overrides the config file search when set.
const ConfigPathEnvVar = "NANNY_CONFIG_PATH"

// Config is the complete nanny process configuration.
type Config struct {
	Fleet     FleetConfig     `koanf:"fleet" validate:"required"`
	Balancer  BalancerConfig  `koanf:"balancer"`
	Health    HealthConfig    `koanf:"health"`
	Restart   RestartConfig   `koanf:"restart"`
	API       APIConfig       `koanf:"api"`
	Observe   ObserveConfig   `koanf:"observe"`
	Logging   LoggingConfig   `koanf:"logging"`
	Worker    WorkerConfig    `koanf:"worker"`
}

// FleetConfig describes the fixed set of worker slots to supervise.
type FleetConfig struct {
	// WorkerCount creates that many slots named "0".."N-1". Ignored if
	// LogicalIds is non-empty.
	WorkerCount int `koanf:"worker_count" validate:"omitempty,min=1"`
	// LogicalIds, if set, wins over WorkerCount.
	LogicalIds []string `koanf:"logical_ids"`
}

// BalancerConfig configures every LoadBalancer created by the cluster.
type BalancerConfig struct {
	// BacklogCap bounds each LoadBalancer's pending-connection FIFO.
	// Zero means unbounded.
	BacklogCap int `koanf:"backlog_cap" validate:"gte=0"`
	// BacklogDropPolicy is "oldest" or "newest", consulted only once
	// BacklogCap is reached.
	BacklogDropPolicy string `koanf:"backlog_drop_policy" validate:"oneof=oldest newest"`
	// DrainRatePerSecond throttles backlog handoff during a drain.
	// Zero disables throttling.
	DrainRatePerSecond float64 `koanf:"drain_rate_per_second" validate:"gte=0"`
	DrainBurst         int     `koanf:"drain_burst" validate:"gte=0"`
	// RestartDelay is how long a LoadBalancer waits before
	// re-listening after it closes with a restart latched (Start
	// called while it was stopping).
	RestartDelay time.Duration `koanf:"restart_delay"`
}

// HealthConfig configures the cluster's health-pulse loop.
type HealthConfig struct {
	// PulseInterval is how often the health policy is evaluated
	// against each worker's most recent report.
	PulseInterval time.Duration `koanf:"pulse_interval" validate:"gt=0"`
	// MaxLoad is the default IsHealthy threshold: a worker reporting a
	// load above this value is asked to stop. Zero disables the
	// default policy (always healthy).
	MaxLoad float64 `koanf:"max_load" validate:"gte=0"`
}

// RestartConfig configures the stop/restart lifecycle.
type RestartConfig struct {
	// GraceWindow is how long a worker gets to exit gracefully after a
	// stop request before it is force-killed.
	GraceWindow time.Duration `koanf:"grace_window" validate:"gt=0"`
	// BreakerThreshold is the number of consecutive rapid restart
	// failures that trips a slot's restart breaker open.
	BreakerThreshold uint32 `koanf:"breaker_threshold" validate:"gte=1"`
	// BreakerCooldown is how long a tripped breaker holds a slot in
	// standby before allowing another attempt.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown" validate:"gt=0"`
}

// APIConfig configures the inspection and control HTTP API.
type APIConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr" validate:"omitempty,hostname_port"`
	// AuthSecret, if set, gates every mutating control endpoint: it is
	// exchanged at POST /v1/session for a session JWT, which those
	// endpoints require as a bearer token. Read endpoints are always
	// open.
	AuthSecret string `koanf:"auth_secret"`
	// JWTSecret signs session tokens minted after a successful
	// AuthSecret exchange. Required if AuthSecret is set.
	JWTSecret       string        `koanf:"jwt_secret"`
	SessionTTL      time.Duration `koanf:"session_ttl"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitPerMin int           `koanf:"rate_limit_per_min" validate:"gte=0"`
}

// ObserveConfig configures the websocket observation feed.
type ObserveConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr" validate:"omitempty,hostname_port"`
	// BufferPerConn bounds how many undelivered events a slow client
	// accumulates before being dropped.
	BufferPerConn int `koanf:"buffer_per_conn" validate:"gte=1"`
	// CORSOrigins restricts which browser origins may open the feed.
	// Empty means any origin, matching a same-origin dashboard.
	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `koanf:"level" validate:"oneof=trace debug info warn error"`
	// Format is json or console.
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// WorkerConfig configures the reference process-based worker
// implementation (internal/procworker).
type WorkerConfig struct {
	// Command is the executable launched for every worker slot.
	Command string `koanf:"command" validate:"required_with=Enabled"`
	// Args are appended after Command. "{{id}}" is substituted with
	// the slot's LogicalId.
	Args []string `koanf:"args"`
	// Env is merged into the environment passed to every child,
	// applied before the per-slot factory's own entries.
	Env map[string]string `koanf:"env"`
	// ForceStopGrace bounds how long a handed-off connection waits for
	// the child's Unix socket to come up before it is dropped. ForceStop
	// itself kills the child at once.
	ForceStopGrace time.Duration `koanf:"force_stop_grace" validate:"gt=0"`
}

func defaultConfig() *Config {
	return &Config{
		Fleet: FleetConfig{WorkerCount: 4},
		Balancer: BalancerConfig{
			BacklogCap:         0,
			BacklogDropPolicy:  "oldest",
			DrainRatePerSecond: 0,
			DrainBurst:         1,
			RestartDelay:       time.Second,
		},
		Health: HealthConfig{
			PulseInterval: 5 * time.Second,
			MaxLoad:       0,
		},
		Restart: RestartConfig{
			GraceWindow:      10 * time.Second,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		API: APIConfig{
			Enabled:         true,
			Addr:            "127.0.0.1:9500",
			SessionTTL:      time.Hour,
			CORSOrigins:     []string{"*"},
			RateLimitPerMin: 120,
		},
		Observe: ObserveConfig{
			Enabled:       true,
			Addr:          "127.0.0.1:9501",
			BufferPerConn: 32,
			CORSOrigins:   []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Worker: WorkerConfig{
			ForceStopGrace: 5 * time.Second,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, and
// environment variables (highest priority), then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("NANNY_", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists paths that arrive as comma-separated strings
// from the environment but must be split into string slices.
var sliceConfigPaths = []string{
	"fleet.logical_ids",
	"api.cors_origins",
	"observe.cors_origins",
	"worker.args",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envKeyMappings maps a lowercased NANNY_-stripped environment variable
// name to its koanf path. Unmapped variables are ignored, matching the
// explicit allow-list approach that keeps unrelated environment noise
// from polluting the configuration tree.
var envKeyMappings = map[string]string{
	"fleet_worker_count":  "fleet.worker_count",
	"fleet_logical_ids":   "fleet.logical_ids",

	"balancer_backlog_cap":          "balancer.backlog_cap",
	"balancer_backlog_drop_policy":  "balancer.backlog_drop_policy",
	"balancer_drain_rate_per_second": "balancer.drain_rate_per_second",
	"balancer_drain_burst":          "balancer.drain_burst",
	"balancer_restart_delay":        "balancer.restart_delay",

	"health_pulse_interval": "health.pulse_interval",
	"health_max_load":       "health.max_load",

	"restart_grace_window":      "restart.grace_window",
	"restart_breaker_threshold": "restart.breaker_threshold",
	"restart_breaker_cooldown":  "restart.breaker_cooldown",

	"api_enabled":            "api.enabled",
	"api_addr":               "api.addr",
	"api_auth_secret":        "api.auth_secret",
	"api_jwt_secret":         "api.jwt_secret",
	"api_session_ttl":        "api.session_ttl",
	"api_cors_origins":       "api.cors_origins",
	"api_rate_limit_per_min": "api.rate_limit_per_min",

	"observe_enabled":         "observe.enabled",
	"observe_addr":            "observe.addr",
	"observe_buffer_per_conn": "observe.buffer_per_conn",
	"observe_cors_origins":    "observe.cors_origins",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"worker_command":          "worker.command",
	"worker_args":             "worker.args",
	"worker_force_stop_grace": "worker.force_stop_grace",
}

// envTransformFunc maps NANNY_-prefixed environment variables to koanf
// paths via envKeyMappings, e.g. NANNY_FLEET_WORKER_COUNT ->
// fleet.worker_count. Unmapped keys are skipped.
func envTransformFunc(key string) string {
	return envKeyMappings[strings.ToLower(strings.TrimPrefix(key, "NANNY_"))]
}
