package engine

import (
	"time"

	"github.com/luxfi/fixgateway/pkg/session"
	"github.com/luxfi/fixgateway/pkg/transport"
)

// LiveLibraryInfo describes a library connected to the engine
type LiveLibraryInfo struct {
	libraryID   int64
	description string
	connectedAt time.Time
}

// NewLiveLibraryInfo creates a new library record
func NewLiveLibraryInfo(libraryID int64, description string, connectedAt time.Time) *LiveLibraryInfo {
	return &LiveLibraryInfo{libraryID: libraryID, description: description, connectedAt: connectedAt}
}

func (l *LiveLibraryInfo) LibraryID() int64       { return l.libraryID }
func (l *LiveLibraryInfo) Description() string    { return l.description }
func (l *LiveLibraryInfo) ConnectedAt() time.Time { return l.connectedAt }

// ManagedSession is a session owned by the engine
type ManagedSession interface {
	closableSession
	SessionState
	Poll(now time.Time) int
	OnDisconnect()
	ResetSequenceNumbers() transport.Position
}

// GatewaySession is a connection the engine manages itself, with its
// session and, once logged on, its persistent context
type GatewaySession struct {
	connectionID int64
	session      ManagedSession
	parser       *session.Parser
	context      *SessionContext
}

// NewGatewaySession creates a new gateway session. s may be nil for a
// connection whose session has not been created yet.
func NewGatewaySession(connectionID int64, s ManagedSession, parser *session.Parser) *GatewaySession {
	return &GatewaySession{connectionID: connectionID, session: s, parser: parser}
}

func (g *GatewaySession) ConnectionID() int64 { return g.connectionID }

// Session returns the live session or nil
func (g *GatewaySession) Session() closableSession {
	if g.session == nil {
		return nil
	}
	return g.session
}

// Context returns the bound context, nil before logon
func (g *GatewaySession) Context() *SessionContext { return g.context }

// SessionID is the bound context's id, zero before logon
func (g *GatewaySession) SessionID() int64 {
	if g.context == nil {
		return 0
	}
	return g.context.SessionID()
}

func (g *GatewaySession) bind(ctx *SessionContext) { g.context = ctx }

// GatewaySessions is the ordered set of gateway sessions
type GatewaySessions struct {
	sessions []*GatewaySession
}

// NewGatewaySessions creates an empty set
func NewGatewaySessions() *GatewaySessions {
	return &GatewaySessions{}
}

// Add appends g
func (s *GatewaySessions) Add(g *GatewaySession) {
	s.sessions = append(s.sessions, g)
}

// Remove drops the session of connectionID and returns it
func (s *GatewaySessions) Remove(connectionID int64) *GatewaySession {
	for i, g := range s.sessions {
		if g.connectionID == connectionID {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			return g
		}
	}
	return nil
}

// ByConnectionID finds a session by connection
func (s *GatewaySessions) ByConnectionID(connectionID int64) *GatewaySession {
	for _, g := range s.sessions {
		if g.connectionID == connectionID {
			return g
		}
	}
	return nil
}

// BySessionID finds a logged on session by its session id
func (s *GatewaySessions) BySessionID(sessionID int64) *GatewaySession {
	for _, g := range s.sessions {
		if g.SessionID() == sessionID {
			return g
		}
	}
	return nil
}

// Snapshot returns a copy of the current sessions
func (s *GatewaySessions) Snapshot() []*GatewaySession {
	return append([]*GatewaySession(nil), s.sessions...)
}

// Len returns the number of sessions
func (s *GatewaySessions) Len() int { return len(s.sessions) }

// Poll drives the timers of every session
func (s *GatewaySessions) Poll(now time.Time) int {
	work := 0
	for _, g := range s.sessions {
		if g.session != nil {
			work += g.session.Poll(now)
		}
	}
	return work
}
