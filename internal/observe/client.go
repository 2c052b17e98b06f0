// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/procnanny/nanny/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds inbound frames. The feed is one-directional
	// in practice (clients never send anything but pings), so this only
	// guards against a misbehaving client wedging the read loop.
	maxMessageSize = 4 * 1024
)

var clientIDCounter atomic.Uint64

// Client is the per-connection bridge between a Hub and one
// WebSocket. Its ID is a monotonic counter; the Hub does not use it
// to order broadcasts, so delivery order across clients is not
// defined.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Event
	log  logging.Logger
}

// NewClient wraps conn for hub. Call Start to register it with hub and
// begin pumping.
func NewClient(hub *Hub, conn *websocket.Conn, bufferSize int, log logging.Logger) *Client {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan Event, bufferSize),
		log:  log,
	}
}

// Start registers the client with its hub and begins its read and
// write pumps. It returns once both pumps have exited.
func (c *Client) Start() {
	c.hub.addClient(c)
	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()
	c.readPump()
	<-done
}

// readPump drains and discards inbound frames, only to keep the
// connection's pong deadline advancing and to detect the client going
// away. The feed carries no client-to-server protocol.
func (c *Client) readPump() {
	defer c.hub.removeClient(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
