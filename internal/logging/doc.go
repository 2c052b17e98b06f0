// SPDX-License-Identifier: Apache-2.0

// Package logging provides the structured logging used across the nanny
// process: a small capability interface the core state machines depend on,
// plus a zerolog-backed implementation used everywhere else.
//
// # Overview
//
// The core packages (loadbalancer, cluster) never import zerolog directly —
// they accept a Logger interface (Debug/Info/Warn/Error, each taking a
// message and a field set) at construction time. This package's global
// zerolog-based functions (Info(), Warn(), ...) and the Logger adapter
// (New()) are how the rest of the binary — the inspection API, the
// reference worker process launcher — actually emits logs. The
// supervisor tree is the exception: it logs through a *slog.Logger.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("component", "cluster").Msg("supervisor starting")
//
//	logger := logging.New(logging.Raw())
//	logger.Info("worker started", logging.Fields{"logical_id": id})
//
// Request-scoped correlation (request IDs on the inspection API) is owned
// by internal/middleware, which logs through the Logger capability rather
// than threading values back through this package.
package logging
