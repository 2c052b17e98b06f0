// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"context"
	"sync"

	"github.com/procnanny/nanny/internal/logging"
)

// Hub maintains the set of connected observation-feed clients and
// fans broadcast events out to all of them.
type Hub struct {
	log        logging.Logger
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
}

// NewHub creates a Hub. A client whose send buffer (sized by
// NewClient) is full when an event is broadcast is dropped.
func NewHub(log logging.Logger) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Broadcast enqueues an event for delivery to every connected client.
// It never blocks: a full queue drops the event and logs a warning,
// since the feed is observational, not a delivery guarantee.
func (h *Hub) Broadcast(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn("observe: broadcast queue full, dropping event", logging.Fields{"type": ev.Type})
	}
}

func (h *Hub) addClient(c *Client) {
	h.register <- c
}

func (h *Hub) removeClient(c *Client) {
	h.unregister <- c
}

// Run drives the hub's event loop until ctx is canceled, at which
// point every connected client is closed.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- ev:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
