// SPDX-License-Identifier: Apache-2.0

package procworker

import (
	"time"

	"github.com/procnanny/nanny/internal/logging"
)

// Config configures every child process spawned by a Factory.
type Config struct {
	// Command is the executable to launch for each worker slot.
	Command string
	// Args are appended after Command. "{{id}}" in any argument is
	// substituted with the slot's LogicalId.
	Args []string
	// Env is merged into every child's environment ahead of the
	// per-slot environment the cluster supervisor supplies at Start.
	Env map[string]string
	// ForceStopGrace bounds how long the dial-and-proxy goroutines
	// wait for the child's Unix socket to come up before giving up on
	// a handed-off connection.
	ForceStopGrace time.Duration

	Logger logging.Logger
}

func (c *Config) applyDefaults() {
	if c.ForceStopGrace <= 0 {
		c.ForceStopGrace = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
}
