// SPDX-License-Identifier: Apache-2.0

// Command nanny supervises a fixed fleet of worker processes behind
// one round-robin TCP load balancer per listening address, restarting
// workers that exit or fail health checks and exposing an inspection
// API and a live observation feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/procnanny/nanny/internal/api"
	"github.com/procnanny/nanny/internal/backlog"
	"github.com/procnanny/nanny/internal/cluster"
	"github.com/procnanny/nanny/internal/config"
	"github.com/procnanny/nanny/internal/health"
	"github.com/procnanny/nanny/internal/loadbalancer"
	"github.com/procnanny/nanny/internal/logging"
	"github.com/procnanny/nanny/internal/observe"
	"github.com/procnanny/nanny/internal/procworker"
	"github.com/procnanny/nanny/internal/supervisor"
	"github.com/procnanny/nanny/internal/worker"
	"golang.org/x/time/rate"
)

func main() {
	dumpConfig := flag.Bool("dump-config", false, "print the fully-resolved configuration as YAML and exit")
	validateConfig := flag.Bool("validate-config", false, "validate the configuration and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "nanny: %v\n", err)
		os.Exit(1)
	}

	if *validateConfig {
		fmt.Println("configuration is valid")
		return
	}
	if *dumpConfig {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "nanny: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.Caller = cfg.Logging.Caller
	logging.Init(logCfg)
	log := logging.New(logging.Raw())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tree := supervisor.New(slog.Default(), supervisor.DefaultTreeConfig())

	sup := buildCluster(cfg, log, tree)

	if cfg.API.Enabled {
		apiServer, err := api.New(cfg.API, sup, log)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to build inspection API")
		}
		tree.AddObserveService(apiServer)
	}

	if cfg.Observe.Enabled {
		hub := observe.NewHub(log)
		feed := observe.NewFeed(hub, sup)
		tree.AddObserveService(feed)

		handler := observe.NewHandler(hub, cfg.Observe.CORSOrigins, cfg.Observe.BufferPerConn, log)
		tree.AddObserveService(observe.NewServer(cfg.Observe.Addr, handler))
	}

	tree.AddFleetService(sup)

	logging.Info().
		Int("workers", cfg.Fleet.WorkerCount).
		Str("api_addr", cfg.API.Addr).
		Str("observe_addr", cfg.Observe.Addr).
		Msg("nanny starting")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("supervisor tree exited")
	}

	logging.Info().Msg("nanny stopped")
}

// buildCluster wires the process-based worker.Supervisor implementation
// and the LoadBalancer factory into a cluster.Supervisor, and connects
// balancers created lazily on first worker listen back into the
// supervisor tree.
func buildCluster(cfg *config.Config, log logging.Logger, tree *supervisor.Tree) *cluster.Supervisor {
	factory := procworker.NewFactory(procworker.Config{
		Command:        cfg.Worker.Command,
		Args:           cfg.Worker.Args,
		Env:            cfg.Worker.Env,
		ForceStopGrace: cfg.Worker.ForceStopGrace,
		Logger:         log,
	})

	dropPolicy := backlogDropPolicy(cfg.Balancer.BacklogDropPolicy)

	sup := cluster.New(cluster.Config{
		LogicalIds:  logicalIDs(cfg.Fleet),
		WorkerCount: cfg.Fleet.WorkerCount,
		NewSupervisor: func(id worker.LogicalId, sink cluster.EventSink) worker.Supervisor {
			return factory.New(id, sink)
		},
		Pulse:                   cfg.Health.PulseInterval,
		IsHealthy:               healthPolicy(cfg.Health.MaxLoad),
		GraceWindow:             cfg.Restart.GraceWindow,
		RestartBreakerThreshold: cfg.Restart.BreakerThreshold,
		RestartBreakerCooldown:  cfg.Restart.BreakerCooldown,
		NewBalancer: func(identity loadbalancer.Identity) *loadbalancer.LoadBalancer {
			return loadbalancer.New(loadbalancer.Config{
				Identity:          identity,
				RestartDelay:      cfg.Balancer.RestartDelay,
				BacklogCap:        cfg.Balancer.BacklogCap,
				BacklogDropPolicy: dropPolicy,
				DrainRate:         rate.Limit(cfg.Balancer.DrainRatePerSecond),
				DrainBurst:        cfg.Balancer.DrainBurst,
				Logger:            log,
			})
		},
		Logger: log,
	})

	tree.TrackCluster(sup)

	return sup
}

func logicalIDs(fleet config.FleetConfig) []worker.LogicalId {
	if len(fleet.LogicalIds) == 0 {
		return nil
	}
	ids := make([]worker.LogicalId, len(fleet.LogicalIds))
	for i, id := range fleet.LogicalIds {
		ids[i] = worker.LogicalId(id)
	}
	return ids
}

func healthPolicy(maxLoad float64) health.Policy {
	if maxLoad <= 0 {
		return health.AlwaysHealthy
	}
	return func(r health.Report) bool { return r.Load <= maxLoad }
}

func backlogDropPolicy(name string) backlog.DropPolicy {
	if name == "newest" {
		return backlog.DropNewest
	}
	return backlog.DropOldest
}
