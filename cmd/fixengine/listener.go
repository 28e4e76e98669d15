package main

import (
	"bufio"
	"errors"
	"net"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/fixgateway/pkg/codec"
	"github.com/luxfi/fixgateway/pkg/engine"
	"github.com/luxfi/fixgateway/pkg/session"
	"github.com/luxfi/fixgateway/pkg/transport"
)

const (
	maxFrameSize = 1 << 20
	abortBackoff = time.Millisecond
)

// listener accepts counterparty connections and feeds their frames to the
// framer's goroutine
type listener struct {
	ln          net.Listener
	framer      *engine.Framer
	sendTimeout time.Duration
	logger      log.Logger
}

func listen(addr string, framer *engine.Framer, sendTimeout time.Duration, logger log.Logger) (*listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	logger.Info("Accepting FIX connections", "addr", ln.Addr().String())
	return &listener{ln: ln, framer: framer, sendTimeout: sendTimeout, logger: logger}, nil
}

func (l *listener) serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.logger.Error("Accept failed", "error", err)
			}
			return
		}
		go l.handle(conn)
	}
}

func (l *listener) close() {
	if err := l.ln.Close(); err != nil {
		l.logger.Debug("Close listener", "error", err)
	}
}

func (l *listener) handle(conn net.Conn) {
	remote := conn.RemoteAddr().String()

	opened := make(chan int64, 1)
	l.framer.Submit(func() {
		endPoint, err := l.framer.OnConnection(engine.ConnectionConfig{
			Publication: transport.NewConnPublication(conn, l.sendTimeout),
			Conn:        conn,
		})
		if err != nil {
			l.logger.Info("Connection refused", "remote", remote, "error", err)
			opened <- 0
			return
		}
		opened <- endPoint.ConnectionID()
	})
	connectionID := <-opened
	if connectionID == 0 {
		conn.Close()
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	scanner.Split(codec.SplitFrames)
	for scanner.Scan() {
		frame := append([]byte(nil), scanner.Bytes()...)
		for l.deliver(connectionID, frame) == session.Abort {
			time.Sleep(abortBackoff)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		l.logger.Debug("Connection read failed", "remote", remote, "error", err)
	}

	l.framer.Submit(func() { l.framer.OnConnectionClosed(connectionID) })
}

// deliver runs one frame on the framer's goroutine. Abort means the frame
// was not consumed and must be offered again.
func (l *listener) deliver(connectionID int64, frame []byte) session.Action {
	result := make(chan session.Action, 1)
	l.framer.Submit(func() { result <- l.framer.OnFrame(connectionID, frame) })
	return <-result
}
