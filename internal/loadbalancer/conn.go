// SPDX-License-Identifier: Apache-2.0

package loadbalancer

import (
	"errors"
	"net"
	"os"
	"time"
)

// pendingConn is a connection sitting in the Backlog awaiting a
// worker. It satisfies backlog.Entry by probing liveness with a
// one-byte read under a 2ms deadline the first time IsAlive is asked, matching the
// source's "inspect liveness at drain time" behavior without losing
// any bytes the peer sent early: bytes read during the probe are
// replayed to whoever eventually receives the connection.
type pendingConn struct {
	conn    net.Conn
	checked bool
	alive   bool
	peeked  []byte
}

func newPendingConn(c net.Conn) *pendingConn {
	return &pendingConn{conn: c}
}

// IsAlive reports whether the connection still appears open. The
// result is memoized after the first call.
func (p *pendingConn) IsAlive() bool {
	if p.checked {
		return p.alive
	}
	p.checked = true

	if err := p.conn.SetReadDeadline(time.Now().Add(2 * time.Millisecond)); err != nil {
		p.alive = false
		return false
	}
	buf := make([]byte, 1)
	n, err := p.conn.Read(buf)
	_ = p.conn.SetReadDeadline(time.Time{})

	if n > 0 {
		p.peeked = buf[:n]
	}
	switch {
	case err == nil:
		p.alive = true
	case errors.Is(err, os.ErrDeadlineExceeded):
		p.alive = true
	default:
		p.alive = false
	}
	return p.alive
}

// Conn returns the connection to hand off to a worker, replaying any
// byte consumed by the liveness probe.
func (p *pendingConn) Conn() net.Conn {
	if len(p.peeked) == 0 {
		return p.conn
	}
	return &peekedConn{Conn: p.conn, buf: p.peeked}
}

// peekedConn replays a small buffered prefix before falling through to
// the underlying connection's Read.
type peekedConn struct {
	net.Conn
	buf []byte
}

func (p *peekedConn) Read(b []byte) (int, error) {
	if len(p.buf) > 0 {
		n := copy(b, p.buf)
		p.buf = p.buf[n:]
		return n, nil
	}
	return p.Conn.Read(b)
}
