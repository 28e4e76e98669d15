package transport

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

// ConnPublication writes frames to a TCP connection. A write that times out
// before any byte reached the socket is back-pressure; a partial write
// leaves the stream unusable and faults.
type ConnPublication struct {
	mu       sync.Mutex
	conn     net.Conn
	timeout  time.Duration
	position int64
}

// NewConnPublication creates a publication over conn. Each write waits at
// most timeout.
func NewConnPublication(conn net.Conn, timeout time.Duration) *ConnPublication {
	return &ConnPublication{conn: conn, timeout: timeout}
}

// Offer writes msg to the connection
func (p *ConnPublication) Offer(msg []byte) SendResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.timeout)); err != nil {
			return Fault(err)
		}
	}

	n, err := p.conn.Write(msg)
	if err != nil {
		if n == 0 && errors.Is(err, os.ErrDeadlineExceeded) {
			return BackPressure()
		}
		return Fault(err)
	}

	p.position += int64(n)
	return Sent(Position(p.position))
}

// Close closes the connection
func (p *ConnPublication) Close() error {
	return p.conn.Close()
}
