// Package transport provides the outbound publications FIX sessions write to.
//
// Every send reports a Position. Non-negative positions are monotonically
// increasing offsets into the stream; negative positions mean the send was
// refused and the caller must retry it on a later poll.
package transport

import (
	"errors"
	"fmt"
	"sync"
)

// Position is an offset into an outbound stream
type Position int64

// Refusal positions. BackPressured is the only transient one.
const (
	NotConnected  Position = -1
	BackPressured Position = -2
	AdminAction   Position = -3
	Closed        Position = -4
)

// ErrClosed is returned by publications that have been closed
var ErrClosed = errors.New("publication closed")

// IsRefused reports whether a send was refused and must be retried
func (p Position) IsRefused() bool {
	return p < 0
}

func (p Position) String() string {
	switch p {
	case NotConnected:
		return "NOT_CONNECTED"
	case BackPressured:
		return "BACK_PRESSURED"
	case AdminAction:
		return "ADMIN_ACTION"
	case Closed:
		return "CLOSED"
	}
	return fmt.Sprintf("%d", int64(p))
}

// Outcome classifies a send attempt
type Outcome uint8

const (
	// OutcomeSent means the message was accepted at Position
	OutcomeSent Outcome = iota
	// OutcomeBackPressured means the transport could not take the message now
	OutcomeBackPressured
	// OutcomeFault means the transport is broken and retrying will not help
	OutcomeFault
)

// SendResult is the result of offering a message to a publication
type SendResult struct {
	Outcome  Outcome
	Position Position
	Err      error
}

// Sent builds a successful result
func Sent(position Position) SendResult {
	return SendResult{Outcome: OutcomeSent, Position: position}
}

// BackPressure builds a retryable result
func BackPressure() SendResult {
	return SendResult{Outcome: OutcomeBackPressured, Position: BackPressured}
}

// Fault builds a terminal result
func Fault(err error) SendResult {
	return SendResult{Outcome: OutcomeFault, Position: Closed, Err: err}
}

// Publication accepts encoded frames for delivery
type Publication interface {
	Offer(msg []byte) SendResult
	Close() error
}

// BufferPublication is a bounded in-memory publication. Offers beyond the
// capacity are back-pressured until Drain is called.
type BufferPublication struct {
	mu       sync.Mutex
	capacity int
	pending  [][]byte
	position int64
	closed   bool
}

// NewBufferPublication creates an in-memory publication holding at most capacity frames
func NewBufferPublication(capacity int) *BufferPublication {
	return &BufferPublication{
		capacity: capacity,
		pending:  make([][]byte, 0, capacity),
	}
}

// Offer appends msg if there is room
func (p *BufferPublication) Offer(msg []byte) SendResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Fault(ErrClosed)
	}
	if len(p.pending) >= p.capacity {
		return BackPressure()
	}

	frame := make([]byte, len(msg))
	copy(frame, msg)
	p.pending = append(p.pending, frame)
	p.position += int64(len(msg))

	return Sent(Position(p.position))
}

// Drain removes and returns every pending frame
func (p *BufferPublication) Drain() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	frames := p.pending
	p.pending = make([][]byte, 0, p.capacity)
	return frames
}

// Pending returns the number of undrained frames
func (p *BufferPublication) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close makes every later offer fault
func (p *BufferPublication) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
