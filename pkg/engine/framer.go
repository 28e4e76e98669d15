// Package engine owns the gateway's connections: it binds sessions to their
// persistent contexts, drives their timers and runs the orderly close.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/eapache/queue"
	"github.com/luxfi/log"

	"github.com/luxfi/fixgateway/pkg/codec"
	"github.com/luxfi/fixgateway/pkg/session"
	"github.com/luxfi/fixgateway/pkg/transport"
)

// ErrClosing is returned for connections offered after a close started
var ErrClosing = errors.New("engine is closing")

// SequenceIndex is a durable store of the last sequence number per session
type SequenceIndex interface {
	SaveRecord(sessionID int64, seqNum int) error
	LastKnownSequenceNumber(sessionID int64) (int, error)
	ResetSequenceNumbers() error
}

// FramerConfig for a Framer
type FramerConfig struct {
	Contexts      *SessionContexts
	IDStrategy    session.IDStrategy
	ReceivedIndex SequenceIndex
	SentIndex     SequenceIndex
	Publication   *GatewayPublication

	Dictionary        *codec.Dictionary
	Authentication    session.AuthenticationStrategy
	Validation        session.ValidationStrategy
	ValidateCompIDs   bool
	HeartbeatInterval time.Duration
	LogoutTimeout     time.Duration
	SendingTimeWindow time.Duration

	ErrorHandler session.ErrorHandler
	Metrics      Metrics
	Clock        func() time.Time
	Logger       log.Logger
}

// ConnectionConfig describes a new transport connection
type ConnectionConfig struct {
	Publication transport.Publication
	Conn        io.Closer
	Initiator   bool

	// Initiator settings
	IDs                codec.SessionIDs
	Username           string
	Password           string
	ResetSeqNumOnLogon bool
}

// Framer is the engine's single administrative poller. Everything except
// Submit and StartClose must be called from the goroutine running DoWork.
type Framer struct {
	config FramerConfig
	logger log.Logger

	endPoints       *ReceiverEndPoints
	gatewaySessions *GatewaySessions
	libraries       []*LiveLibraryInfo

	retries     *queue.Queue
	disconnects *queue.Queue
	commands    chan func()

	nextConnectionID int64
	closing          bool
}

// NewFramer creates a new framer
func NewFramer(config FramerConfig) *Framer {
	if config.IDStrategy == nil {
		config.IDStrategy = session.SenderAndTarget{}
	}
	if config.Dictionary == nil {
		config.Dictionary = codec.DefaultDictionary
	}
	if config.Metrics == nil {
		config.Metrics = noopMetrics{}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Logger == nil {
		config.Logger = log.Root().New("module", "framer")
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = session.LogErrors(config.Logger)
	}

	f := &Framer{
		config:          config,
		logger:          config.Logger,
		gatewaySessions: NewGatewaySessions(),
		retries:         queue.New(),
		disconnects:     queue.New(),
		commands:        make(chan func(), 1024),
	}
	f.endPoints = NewReceiverEndPoints(f.onEndPointClosed, config.Logger)
	return f
}

// Submit runs fn on the framer's goroutine during the next DoWork
func (f *Framer) Submit(fn func()) {
	f.commands <- fn
}

// StartClose begins logging everything out. cmd succeeds once every
// connection has closed.
func (f *Framer) StartClose(cmd *StartCloseCommand) {
	f.Submit(func() { f.startClose(cmd) })
}

func (f *Framer) startClose(cmd *StartCloseCommand) {
	if f.closing {
		f.logger.Warn("Close already started")
	}
	f.closing = true
	f.logger.Info("Starting close",
		"libraries", len(f.libraries),
		"sessions", f.gatewaySessions.Len(),
		"connections", f.endPoints.Size())

	var publication EndOfDayPublisher = f.config.Publication
	if f.config.Publication == nil {
		publication = noEndOfDay{}
	}
	f.Schedule(NewCloseOperation(
		publication,
		append([]*LiveLibraryInfo(nil), f.libraries...),
		f.gatewaySessions.Snapshot(),
		f.endPoints,
		cmd,
		f.config.Metrics,
		f.logger,
	))
}

// Schedule queues c to be attempted on every duty cycle until it completes
func (f *Framer) Schedule(c Continuation) {
	f.retries.Add(c)
}

// DoWork runs one duty cycle and returns the amount of work done
func (f *Framer) DoWork() int {
	work := f.runCommands()
	work += f.processDisconnects()
	work += f.gatewaySessions.Poll(f.config.Clock())
	work += f.runContinuations()
	return work
}

// Run calls DoWork until ctx is done, sleeping for idle whenever a cycle
// found nothing to do
func (f *Framer) Run(ctx context.Context, idle time.Duration) error {
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		if f.DoWork() > 0 {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		timer.Reset(idle)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (f *Framer) runCommands() int {
	work := 0
	for {
		select {
		case fn := <-f.commands:
			fn()
			work++
		default:
			return work
		}
	}
}

func (f *Framer) processDisconnects() int {
	work := 0
	for f.disconnects.Length() > 0 {
		connectionID := f.disconnects.Remove().(int64)
		f.endPoints.Remove(connectionID)
		work++
	}
	return work
}

// runContinuations attempts each queued continuation once, in order
func (f *Framer) runContinuations() int {
	work := 0
	for n := f.retries.Length(); n > 0; n-- {
		c := f.retries.Remove().(Continuation)
		if c.Attempt() == Complete {
			work++
			continue
		}
		f.retries.Add(c)
	}
	return work
}

// OnConnection creates the session of a new connection
func (f *Framer) OnConnection(conn ConnectionConfig) (*ReceiverEndPoint, error) {
	if f.closing {
		return nil, ErrClosing
	}

	f.nextConnectionID++
	connectionID := f.nextConnectionID
	logger := f.logger.New("connectionID", connectionID)

	s := session.NewSession(session.Config{
		ConnectionID:       connectionID,
		Initiator:          conn.Initiator,
		IDs:                conn.IDs,
		Dictionary:         f.config.Dictionary,
		HeartbeatInterval:  f.config.HeartbeatInterval,
		Username:           conn.Username,
		Password:           conn.Password,
		ResetSeqNumOnLogon: conn.ResetSeqNumOnLogon,
		LogoutTimeout:      f.config.LogoutTimeout,
		SendingTimeWindow:  f.config.SendingTimeWindow,
		Publication:        conn.Publication,
		Disconnector:       f,
		Authentication:     f.config.Authentication,
		LogonListener:      f,
		ReceivedIndex:      f.config.ReceivedIndex,
		SentIndex:          f.config.SentIndex,
		ErrorHandler:       f.config.ErrorHandler,
		Metrics:            f.config.Metrics,
		Clock:              f.config.Clock,
		Logger:             logger,
	})
	parser := session.NewParser(s, session.ParserConfig{
		ConnectionID:    connectionID,
		Dictionary:      f.config.Dictionary,
		Validation:      f.config.Validation,
		ErrorHandler:    f.config.ErrorHandler,
		CodecValidation: true,
		ValidateCompIDs: f.config.ValidateCompIDs,
		Logger:          logger,
	})

	gateway := NewGatewaySession(connectionID, s, parser)
	endPoint := &ReceiverEndPoint{
		connectionID: connectionID,
		acceptor:     !conn.Initiator,
		gateway:      gateway,
		session:      s,
		parser:       parser,
		idStrategy:   f.config.IDStrategy,
		conn:         conn.Conn,
		header:       codec.NewHeaderDecoder(),
		logger:       logger,
	}
	f.gatewaySessions.Add(gateway)
	f.endPoints.Add(endPoint)

	if conn.Initiator {
		f.Schedule(&sendLogon{session: s})
	}
	logger.Info("Connection opened", "initiator", conn.Initiator)
	return endPoint, nil
}

// OnFrame routes an inbound frame to its connection
func (f *Framer) OnFrame(connectionID int64, frame []byte) session.Action {
	e := f.endPoints.Get(connectionID)
	if e == nil {
		f.logger.Debug("Frame for unknown connection", "connectionID", connectionID)
		return session.Continue
	}
	return e.OnFrame(frame)
}

// OnConnectionClosed is called when the transport reports a closed connection
func (f *Framer) OnConnectionClosed(connectionID int64) {
	f.endPoints.Remove(connectionID)
}

func (f *Framer) onEndPointClosed(e *ReceiverEndPoint) {
	g := f.gatewaySessions.Remove(e.connectionID)
	if g == nil {
		return
	}
	if g.session != nil {
		g.session.OnDisconnect()
	}
	if ctx := g.Context(); ctx != nil {
		f.config.Contexts.OnDisconnect(ctx.SessionID())
	}
	f.logger.Info("Connection closed", "connectionID", e.connectionID, "sessionID", g.SessionID())
	f.reportActive()
}

// RequestDisconnect announces the disconnect to libraries and closes the
// connection on the next duty cycle
func (f *Framer) RequestDisconnect(connectionID int64, reason session.DisconnectReason) transport.Position {
	var position transport.Position
	if f.config.Publication != nil {
		position = f.config.Publication.SaveRequestDisconnect(connectionID, reason)
		if position.IsRefused() {
			return position
		}
	}
	f.disconnects.Add(connectionID)
	return position
}

// OnLogon binds a logging on session to its persistent context and
// restores its sequence numbers. Initiators are bound before their Logon is
// sent; a bound session is only called again when the counterparty resets.
func (f *Framer) OnLogon(s *session.Session, resetSeqNumFlag bool) error {
	g := f.gatewaySessions.ByConnectionID(s.ConnectionID())
	if g == nil {
		return fmt.Errorf("no connection %d", s.ConnectionID())
	}
	if ctx := g.Context(); ctx != nil {
		if resetSeqNumFlag {
			ctx.OnSequenceReset(f.config.Clock().UnixMilli())
			f.config.Metrics.SequenceReset()
			s.Bind(ctx.SessionID(), ctx.SequenceIndex(), ctx.LastLogonTime(), ctx.LastSequenceResetTime())
			f.logger.Info("Counterparty reset sequence", "sessionID", ctx.SessionID(),
				"sequenceIndex", ctx.SequenceIndex())
		}
		return nil
	}

	ids := s.IDs()
	key := f.config.IDStrategy.OnInitiateLogon(
		ids.SenderCompID, ids.SenderSubID, ids.SenderLocationID,
		ids.TargetCompID, ids.TargetSubID, ids.TargetLocationID)

	ctx, err := f.config.Contexts.OnLogon(key, s.Dictionary())
	if err != nil {
		return err
	}
	previousIndex := ctx.SequenceIndex()
	ctx.OnLogon(resetSeqNumFlag, f.config.Clock().UnixMilli(), s.Dictionary())
	if ctx.SequenceIndex() != previousIndex {
		f.config.Metrics.SequenceReset()
	}

	s.Bind(ctx.SessionID(), ctx.SequenceIndex(), ctx.LastLogonTime(), ctx.LastSequenceResetTime())
	g.bind(ctx)

	if !resetSeqNumFlag {
		received := f.lastKnown(f.config.ReceivedIndex, ctx.SessionID())
		sent := f.lastKnown(f.config.SentIndex, ctx.SessionID())
		s.SetSequenceNumbers(received, sent)
	}

	f.logger.Info("Session logged on", "key", key, "sessionID", ctx.SessionID(),
		"sequenceIndex", ctx.SequenceIndex(), "reset", resetSeqNumFlag)
	f.reportActive()
	return nil
}

func (f *Framer) lastKnown(index SequenceIndex, sessionID int64) int {
	if index == nil {
		return 0
	}
	seqNum, err := index.LastKnownSequenceNumber(sessionID)
	if err != nil {
		f.config.ErrorHandler.OnError(err)
		return 0
	}
	if seqNum < 0 {
		return 0
	}
	return seqNum
}

func (f *Framer) reportActive() {
	active := 0
	for _, g := range f.gatewaySessions.sessions {
		if g.context != nil {
			active++
		}
	}
	f.config.Metrics.SessionsActive(active)
}

// ResetSequenceNumbers resets the sequence of one logged on session and
// saves its context
func (f *Framer) ResetSequenceNumbers(sessionID int64) (transport.Position, error) {
	g := f.gatewaySessions.BySessionID(sessionID)
	if g == nil || g.session == nil {
		return transport.NotConnected, fmt.Errorf("session %d is not logged on", sessionID)
	}

	position := g.session.ResetSequenceNumbers()
	if position.IsRefused() {
		return position, nil
	}
	if f.config.ReceivedIndex != nil {
		if err := f.config.ReceivedIndex.SaveRecord(sessionID, 0); err != nil {
			f.config.ErrorHandler.OnError(fmt.Errorf("save received sequence number for session %d: %w", sessionID, err))
		}
	}
	g.context.UpdateAndSaveFrom(g.session)
	f.config.Metrics.SequenceReset()
	return position, nil
}

// ResetSessionIDs wipes all contexts and sequence numbers. It fails while
// any session is logged on.
func (f *Framer) ResetSessionIDs(backupPath string) error {
	if err := f.config.Contexts.Reset(backupPath); err != nil {
		return err
	}
	for _, index := range []SequenceIndex{f.config.ReceivedIndex, f.config.SentIndex} {
		if index == nil {
			continue
		}
		if err := index.ResetSequenceNumbers(); err != nil {
			return err
		}
	}
	return nil
}

// AddLibrary registers a connected library
func (f *Framer) AddLibrary(library *LiveLibraryInfo) {
	f.libraries = append(f.libraries, library)
	f.logger.Info("Library connected", "libraryID", library.LibraryID(), "description", library.Description())
}

// RemoveLibrary drops a library
func (f *Framer) RemoveLibrary(libraryID int64) {
	for i, library := range f.libraries {
		if library.LibraryID() == libraryID {
			f.libraries = append(f.libraries[:i], f.libraries[i+1:]...)
			return
		}
	}
}

// ConnectionCount returns the number of open connections
func (f *Framer) ConnectionCount() int { return f.endPoints.Size() }

// sendLogon retries an initiator's first Logon until it is sent
type sendLogon struct {
	session *session.Session
}

func (c *sendLogon) Attempt() int64 {
	if c.session.State() != session.StateConnected {
		return Complete
	}
	if position := c.session.SendLogon(); position.IsRefused() {
		return int64(position)
	}
	return Complete
}

type noEndOfDay struct{}

func (noEndOfDay) SaveEndOfDay(int64) transport.Position { return 0 }

var (
	_ session.Disconnector  = (*Framer)(nil)
	_ session.LogonListener = (*Framer)(nil)
)
