package transport

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSPublication publishes frames to a single NATS subject
type NATSPublication struct {
	conn     *nats.Conn
	subject  string
	position int64
	owned    bool
}

// DialNATS connects to url and publishes on subject. The connection is
// closed with the publication.
func DialNATS(url, subject string, reconnectBufSize int) (*NATSPublication, error) {
	conn, err := nats.Connect(url,
		nats.Name("fixgateway"),
		nats.ReconnectBufSize(reconnectBufSize),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}

	return &NATSPublication{conn: conn, subject: subject, owned: true}, nil
}

// NewNATSPublication publishes on subject over an existing connection
func NewNATSPublication(conn *nats.Conn, subject string) *NATSPublication {
	return &NATSPublication{conn: conn, subject: subject}
}

// Offer publishes msg. While the client is reconnecting, frames are buffered
// up to the reconnect buffer size, after which sends are back-pressured.
func (p *NATSPublication) Offer(msg []byte) SendResult {
	if err := p.conn.Publish(p.subject, msg); err != nil {
		return classifyNATSError(err)
	}

	p.position += int64(len(msg))
	return Sent(Position(p.position))
}

// Close drains an owned connection
func (p *NATSPublication) Close() error {
	if !p.owned {
		return nil
	}
	return p.conn.Drain()
}

func classifyNATSError(err error) SendResult {
	switch {
	case errors.Is(err, nats.ErrReconnectBufExceeded),
		errors.Is(err, nats.ErrSlowConsumer):
		return BackPressure()
	default:
		return Fault(fmt.Errorf("nats publish: %w", err))
	}
}
