// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/procnanny/nanny/internal/logging"
)

// Handler upgrades HTTP requests to WebSocket connections and hands
// them off to the Hub as observation-feed clients.
type Handler struct {
	hub           *Hub
	upgrader      websocket.Upgrader
	bufferPerConn int
	log           logging.Logger
}

// NewHandler builds a Handler serving hub, accepting connections only
// from origins (or any origin if origins is empty, matching a
// same-origin dashboard with no separate frontend host configured).
func NewHandler(hub *Hub, origins []string, bufferPerConn int, log logging.Logger) *Handler {
	if log == nil {
		log = logging.Nop()
	}
	allowed := make(map[string]bool, len(origins))
	wildcard := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || wildcard {
					return true
				}
				return allowed[origin]
			},
		},
		bufferPerConn: bufferPerConn,
		log:           log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("observe: websocket upgrade failed", logging.Fields{"error": err.Error()})
		return
	}
	client := NewClient(h.hub, conn, h.bufferPerConn, h.log)
	client.Start()
}
