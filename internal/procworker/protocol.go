// SPDX-License-Identifier: Apache-2.0

// Package procworker is a reference worker.Supervisor implementation:
// it spawns a child process, exchanges newline-delimited JSON control
// messages over its stdin/stdout, and proxies accepted TCP connections
// to the child over a Unix domain socket. Nothing in internal/cluster
// or internal/loadbalancer imports this package; it exists only so
// cmd/nanny has something concrete to wire the worker.Supervisor
// capability to.
package procworker

import (
	json "github.com/goccy/go-json"

	"github.com/procnanny/nanny/internal/health"
)

// inboundMessage is one line the child writes to its stdout.
type inboundMessage struct {
	Type    string        `json:"type"`
	Port    int           `json:"port,omitempty"`
	Address string        `json:"address,omitempty"`
	Health  health.Report `json:"health,omitempty"`
}

const (
	inboundListening = "listening"
	inboundHealth    = "health"
)

// outboundMessage is one line the parent writes to the child's stdin.
type outboundMessage struct {
	Type    string `json:"type"`
	Port    int    `json:"port"`
	Address string `json:"address,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	outboundAddress = "address"
	outboundError   = "error"
)

// connHeader is the first line written to a proxied Unix connection,
// telling the child which listener the following bytes belong to.
type connHeader struct {
	Port int `json:"port"`
}

func marshalLine(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
