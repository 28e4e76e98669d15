package engine

import (
	"io"

	"github.com/luxfi/log"

	"github.com/luxfi/fixgateway/pkg/codec"
	"github.com/luxfi/fixgateway/pkg/session"
)

// ReceiverEndPoint reads frames of one connection into its session
type ReceiverEndPoint struct {
	connectionID int64
	acceptor     bool
	gateway      *GatewaySession
	session      *session.Session
	parser       *session.Parser
	idStrategy   session.IDStrategy
	conn         io.Closer
	header       *codec.HeaderDecoder
	logger       log.Logger

	idsResolved bool
}

// OnFrame hands one inbound frame to the parser. An acceptor takes its
// header ids from the first Logon.
func (e *ReceiverEndPoint) OnFrame(frame []byte) session.Action {
	msgType, err := codec.PeekMsgType(frame)
	if err != nil {
		e.logger.Debug("Unreadable message type", "error", err)
	}

	if e.acceptor && !e.idsResolved && msgType == codec.MsgTypeLogon {
		e.resolveIDs(frame)
	}
	return e.parser.OnMessage(frame, 0, len(frame), msgType, e.gateway.SessionID())
}

func (e *ReceiverEndPoint) resolveIDs(frame []byte) {
	e.header.Reset()
	if err := e.header.Decode(frame, 0, len(frame)); err != nil {
		// the parser rejects the logon
		return
	}
	key := e.idStrategy.OnAcceptLogon(e.header)
	e.session.SetIDs(key.SessionIDs(e.session.Dictionary().BeginString()))
	e.idsResolved = true
}

func (e *ReceiverEndPoint) ConnectionID() int64 { return e.connectionID }

// IsLoggedOn reports whether the connection completed a logon
func (e *ReceiverEndPoint) IsLoggedOn() bool {
	return e.gateway.Context() != nil
}

func (e *ReceiverEndPoint) close() {
	if e.conn == nil {
		return
	}
	if err := e.conn.Close(); err != nil {
		e.logger.Debug("Close connection", "error", err)
	}
}

// ReceiverEndPoints is the set of open connections
type ReceiverEndPoints struct {
	endPoints []*ReceiverEndPoint
	onClose   func(e *ReceiverEndPoint)
	logger    log.Logger
}

// NewReceiverEndPoints creates an empty set. onClose is called for every
// end point removed.
func NewReceiverEndPoints(onClose func(e *ReceiverEndPoint), logger log.Logger) *ReceiverEndPoints {
	if logger == nil {
		logger = log.Root().New("module", "endpoints")
	}
	return &ReceiverEndPoints{onClose: onClose, logger: logger}
}

// Add registers e
func (r *ReceiverEndPoints) Add(e *ReceiverEndPoint) {
	r.endPoints = append(r.endPoints, e)
}

// Get finds the end point of connectionID
func (r *ReceiverEndPoints) Get(connectionID int64) *ReceiverEndPoint {
	for _, e := range r.endPoints {
		if e.connectionID == connectionID {
			return e
		}
	}
	return nil
}

// Remove closes and drops the end point of connectionID
func (r *ReceiverEndPoints) Remove(connectionID int64) bool {
	for i, e := range r.endPoints {
		if e.connectionID == connectionID {
			r.endPoints = append(r.endPoints[:i], r.endPoints[i+1:]...)
			r.closeEndPoint(e)
			return true
		}
	}
	return false
}

// CloseRequiredPollingEndPoints closes every connection that has not
// logged on. Those owe the counterparty no logout.
func (r *ReceiverEndPoints) CloseRequiredPollingEndPoints() {
	kept := r.endPoints[:0]
	var closed []*ReceiverEndPoint
	for _, e := range r.endPoints {
		if e.IsLoggedOn() {
			kept = append(kept, e)
		} else {
			closed = append(closed, e)
		}
	}
	r.endPoints = kept
	for _, e := range closed {
		r.closeEndPoint(e)
	}
	if len(closed) > 0 {
		r.logger.Info("Closed connections without logon", "count", len(closed))
	}
}

func (r *ReceiverEndPoints) closeEndPoint(e *ReceiverEndPoint) {
	e.close()
	if r.onClose != nil {
		r.onClose(e)
	}
}

// Size returns the number of open connections
func (r *ReceiverEndPoints) Size() int { return len(r.endPoints) }
