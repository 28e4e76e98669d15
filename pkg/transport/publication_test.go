package transport

import (
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	zmq "github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPublication_PositionsIncrease(t *testing.T) {
	pub := NewBufferPublication(4)

	first := pub.Offer([]byte("abc"))
	second := pub.Offer([]byte("de"))

	require.Equal(t, OutcomeSent, first.Outcome)
	require.Equal(t, OutcomeSent, second.Outcome)
	assert.Equal(t, Position(3), first.Position)
	assert.Equal(t, Position(5), second.Position)
	assert.Equal(t, 2, pub.Pending())
}

func TestBufferPublication_BackPressureUntilDrained(t *testing.T) {
	pub := NewBufferPublication(1)

	require.Equal(t, OutcomeSent, pub.Offer([]byte("a")).Outcome)

	refused := pub.Offer([]byte("b"))
	assert.Equal(t, OutcomeBackPressured, refused.Outcome)
	assert.True(t, refused.Position.IsRefused())
	assert.NoError(t, refused.Err)

	frames := pub.Drain()
	require.Len(t, frames, 1)
	assert.Equal(t, "a", string(frames[0]))

	retried := pub.Offer([]byte("b"))
	assert.Equal(t, OutcomeSent, retried.Outcome)
	assert.Equal(t, Position(2), retried.Position)
}

func TestBufferPublication_CopiesFrames(t *testing.T) {
	pub := NewBufferPublication(2)
	msg := []byte("abc")

	pub.Offer(msg)
	msg[0] = 'z'

	assert.Equal(t, "abc", string(pub.Drain()[0]))
}

func TestBufferPublication_ClosedFaults(t *testing.T) {
	pub := NewBufferPublication(2)
	require.NoError(t, pub.Close())

	result := pub.Offer([]byte("a"))
	assert.Equal(t, OutcomeFault, result.Outcome)
	assert.ErrorIs(t, result.Err, ErrClosed)
}

func TestClassifyNATSError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{"reconnect buffer full", nats.ErrReconnectBufExceeded, OutcomeBackPressured},
		{"slow consumer", nats.ErrSlowConsumer, OutcomeBackPressured},
		{"closed", nats.ErrConnectionClosed, OutcomeFault},
		{"other", errors.New("boom"), OutcomeFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyNATSError(tt.err).Outcome)
		})
	}
}

func TestClassifyZMQError(t *testing.T) {
	assert.Equal(t, OutcomeBackPressured, classifyZMQError(zmq.Errno(syscall.EAGAIN)).Outcome)
	assert.Equal(t, OutcomeFault, classifyZMQError(zmq.Errno(syscall.ENOTSOCK)).Outcome)
}

func TestPositionString(t *testing.T) {
	assert.Equal(t, "BACK_PRESSURED", BackPressured.String())
	assert.Equal(t, "42", Position(42).String())
}

func TestConnPublication_WritesFrames(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	pub := NewConnPublication(server, time.Second)
	defer pub.Close()

	done := make(chan []byte)
	go func() {
		buf := make([]byte, 5)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()

	result := pub.Offer([]byte("hello"))
	require.Equal(t, OutcomeSent, result.Outcome)
	assert.Equal(t, Position(5), result.Position)
	assert.Equal(t, "hello", string(<-done))
}

func TestConnPublication_TimeoutIsBackPressure(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	pub := NewConnPublication(server, 10*time.Millisecond)

	// nobody reads from client, so the pipe write blocks until the deadline
	result := pub.Offer([]byte("stuck"))
	assert.Equal(t, OutcomeBackPressured, result.Outcome)

	require.NoError(t, pub.Close())
	assert.Equal(t, OutcomeFault, pub.Offer([]byte("late")).Outcome)
}
