package transport

import (
	"fmt"
	"syscall"

	zmq "github.com/pebbe/zmq4"
)

// ZMQPublication pushes frames over a ZeroMQ PUSH socket without blocking.
// A full send queue (the high water mark) is reported as back-pressure.
type ZMQPublication struct {
	socket   *zmq.Socket
	position int64
}

// NewZMQPublication connects a PUSH socket to endpoint
func NewZMQPublication(endpoint string, highWaterMark int) (*ZMQPublication, error) {
	socket, err := zmq.NewSocket(zmq.PUSH)
	if err != nil {
		return nil, fmt.Errorf("zmq socket: %w", err)
	}

	if err := socket.SetSndhwm(highWaterMark); err != nil {
		socket.Close()
		return nil, fmt.Errorf("zmq sndhwm: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("zmq linger: %w", err)
	}
	if err := socket.Connect(endpoint); err != nil {
		socket.Close()
		return nil, fmt.Errorf("zmq connect %s: %w", endpoint, err)
	}

	return &ZMQPublication{socket: socket}, nil
}

// Offer sends msg with DONTWAIT
func (p *ZMQPublication) Offer(msg []byte) SendResult {
	n, err := p.socket.SendBytes(msg, zmq.DONTWAIT)
	if err != nil {
		return classifyZMQError(err)
	}

	p.position += int64(n)
	return Sent(Position(p.position))
}

// Close closes the socket
func (p *ZMQPublication) Close() error {
	return p.socket.Close()
}

func classifyZMQError(err error) SendResult {
	if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
		return BackPressure()
	}
	return Fault(fmt.Errorf("zmq send: %w", err))
}
