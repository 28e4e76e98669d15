package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/luxfi/log"

	"github.com/luxfi/fixgateway/pkg/codec"
	"github.com/luxfi/fixgateway/pkg/transport"
)

// UnknownSequenceIndex is the sequence index of a session that has never
// logged on
const UnknownSequenceIndex = -1

const (
	// DefaultHeartbeatInterval used by initiators when none is configured
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultLogoutTimeout bounds how long AWAITING_LOGOUT waits for a reply
	DefaultLogoutTimeout = 10 * time.Second

	testRequestThreshold = 1.2
)

// Config for a Session
type Config struct {
	ConnectionID int64
	SessionID    int64
	Initiator    bool

	IDs        codec.SessionIDs
	Dictionary *codec.Dictionary

	// Initiator settings
	HeartbeatInterval  time.Duration
	Username           string
	Password           string
	ResetSeqNumOnLogon bool

	LogoutTimeout time.Duration
	// SendingTimeWindow rejects messages whose SendingTime is further than
	// this from the local clock. Zero disables the check.
	SendingTimeWindow time.Duration

	Publication    transport.Publication
	Disconnector   Disconnector
	Authentication AuthenticationStrategy
	LogonListener  LogonListener
	ReceivedIndex  SequenceRecorder
	SentIndex      SequenceRecorder
	ErrorHandler   ErrorHandler
	Metrics        Metrics
	Clock          func() time.Time
	Logger         log.Logger
}

// Session is the state machine of one FIX connection. It is not safe for
// concurrent use; one poller owns each session.
type Session struct {
	connectionID int64
	sessionID    int64
	initiator    bool

	dictionary  *codec.Dictionary
	encoder     *codec.Encoder
	publication transport.Publication

	disconnector  Disconnector
	auth          AuthenticationStrategy
	logonListener LogonListener
	receivedIndex SequenceRecorder
	sentIndex     SequenceRecorder
	errorHandler  ErrorHandler
	metrics       Metrics
	clock         func() time.Time
	logger        log.Logger

	username           string
	password           string
	resetSeqNumOnLogon bool
	logoutTimeout      int64
	sendingTimeWindow  int64

	state                 State
	heartbeatInterval     int64
	lastReceivedSeqNum    int
	lastSentSeqNum        int
	sequenceIndex         int
	lastLogonTime         int64
	lastSequenceResetTime int64
	lastMessageProcessed  int64
	lastSentTime          int64
	logoutSentTime        int64

	logonBound         bool
	awaitingTestReqID  string
	pendingResendFrom  int
	pendingLogout      bool
	logoutRejectReason codec.RejectReason
}

// NewSession creates a new session in the CONNECTED state
func NewSession(config Config) *Session {
	if config.Dictionary == nil {
		config.Dictionary = codec.DefaultDictionary
	}
	if config.IDs.BeginString == "" {
		config.IDs.BeginString = config.Dictionary.BeginString()
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.LogoutTimeout <= 0 {
		config.LogoutTimeout = DefaultLogoutTimeout
	}
	if config.Authentication == nil {
		config.Authentication = NoAuthentication
	}
	if config.Metrics == nil {
		config.Metrics = noopMetrics{}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Logger == nil {
		config.Logger = log.Root().New("module", "session")
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = LogErrors(config.Logger)
	}

	s := &Session{
		connectionID:          config.ConnectionID,
		sessionID:             config.SessionID,
		initiator:             config.Initiator,
		dictionary:            config.Dictionary,
		encoder:               codec.NewEncoder(config.IDs, config.Clock),
		publication:           config.Publication,
		disconnector:          config.Disconnector,
		auth:                  config.Authentication,
		logonListener:         config.LogonListener,
		receivedIndex:         config.ReceivedIndex,
		sentIndex:             config.SentIndex,
		errorHandler:          config.ErrorHandler,
		metrics:               config.Metrics,
		clock:                 config.Clock,
		logger:                config.Logger.New("connectionID", config.ConnectionID),
		username:              config.Username,
		password:              config.Password,
		resetSeqNumOnLogon:    config.ResetSeqNumOnLogon,
		logoutTimeout:         config.LogoutTimeout.Milliseconds(),
		sendingTimeWindow:     config.SendingTimeWindow.Milliseconds(),
		state:                 StateConnected,
		heartbeatInterval:     config.HeartbeatInterval.Milliseconds(),
		sequenceIndex:         UnknownSequenceIndex,
		lastLogonTime:         Unknown,
		lastSequenceResetTime: Unknown,
		logoutRejectReason:    codec.NoRejectReason,
	}
	now := s.now()
	s.lastMessageProcessed = now
	s.lastSentTime = now
	return s
}

func (s *Session) now() int64 {
	return s.clock().UnixMilli()
}

// Accessors

func (s *Session) State() State                  { return s.state }
func (s *Session) ConnectionID() int64           { return s.connectionID }
func (s *Session) SessionID() int64              { return s.sessionID }
func (s *Session) IsInitiator() bool             { return s.initiator }
func (s *Session) Dictionary() *codec.Dictionary { return s.dictionary }
func (s *Session) IDs() codec.SessionIDs         { return s.encoder.IDs() }
func (s *Session) LastReceivedSeqNum() int       { return s.lastReceivedSeqNum }
func (s *Session) LastSentSeqNum() int           { return s.lastSentSeqNum }
func (s *Session) SequenceIndex() int            { return s.sequenceIndex }
func (s *Session) LastLogonTime() int64          { return s.lastLogonTime }
func (s *Session) LastSequenceResetTime() int64  { return s.lastSequenceResetTime }
func (s *Session) LastMessageProcessed() int64   { return s.lastMessageProcessed }
func (s *Session) HeartbeatInterval() int64      { return s.heartbeatInterval }
func (s *Session) AwaitingTestReqID() string     { return s.awaitingTestReqID }

// Bind attaches the session to its persistent identity, as resolved by the
// engine at logon.
func (s *Session) Bind(sessionID int64, sequenceIndex int, lastLogonTime, lastResetTime int64) {
	s.sessionID = sessionID
	s.sequenceIndex = sequenceIndex
	s.lastLogonTime = lastLogonTime
	s.lastSequenceResetTime = lastResetTime
}

// SetIDs replaces the header ids, used by acceptors once the logon is seen
func (s *Session) SetIDs(ids codec.SessionIDs) {
	if ids.BeginString == "" {
		ids.BeginString = s.dictionary.BeginString()
	}
	s.encoder.SetIDs(ids)
}

// SetSequenceNumbers seeds the counters, used when recovering a session
func (s *Session) SetSequenceNumbers(lastReceived, lastSent int) {
	s.lastReceivedSeqNum = lastReceived
	s.lastSentSeqNum = lastSent
}

// send offers a frame built for the next sequence number. The number is
// only consumed when the frame is accepted.
func (s *Session) send(build func(seqNum int) []byte) transport.Position {
	if s.publication == nil {
		return transport.NotConnected
	}

	seqNum := s.lastSentSeqNum + 1
	result := s.publication.Offer(build(seqNum))
	switch result.Outcome {
	case transport.OutcomeSent:
		s.lastSentSeqNum = seqNum
		s.lastSentTime = s.now()
		s.record(s.sentIndex, seqNum)
		return result.Position
	case transport.OutcomeBackPressured:
		s.metrics.BackPressured()
		return result.Position
	default:
		s.logger.Error("Send failed, disconnecting", "error", result.Err)
		s.errorHandler.OnError(fmt.Errorf("send on connectionId=%d: %w", s.connectionID, result.Err))
		s.state = StateDisconnected
		return 0
	}
}

func (s *Session) record(index SequenceRecorder, seqNum int) {
	if index == nil || s.sessionID == 0 {
		return
	}
	if err := index.SaveRecord(s.sessionID, seqNum); err != nil {
		s.errorHandler.OnError(fmt.Errorf("save sequence number %d for session %d: %w", seqNum, s.sessionID, err))
	}
}

func (s *Session) commitReceived(seqNum int) {
	s.lastReceivedSeqNum = seqNum
	s.record(s.receivedIndex, seqNum)
}

func actionOf(position transport.Position) Action {
	if position.IsRefused() {
		return Abort
	}
	return Continue
}

// Sequence checks

type seqCheck int

const (
	seqInOrder seqCheck = iota
	seqGap
	seqDuplicate
	seqHandled
)

// checkSeqNum classifies an inbound sequence number. seqHandled means the
// session already reacted and the caller returns action.
func (s *Session) checkSeqNum(msgSeqNum int, possDup bool) (seqCheck, Action) {
	if msgSeqNum == codec.MissingInt {
		return seqHandled, s.logoutAndDisconnect("Received message without MsgSeqNum", DisconnectInvalidFixMessage)
	}

	expected := s.lastReceivedSeqNum + 1
	switch {
	case msgSeqNum == expected:
		return seqInOrder, Continue
	case msgSeqNum > expected:
		return seqGap, Continue
	case possDup:
		return seqDuplicate, Continue
	default:
		text := fmt.Sprintf("MsgSeqNum too low, expecting %d but received %d", expected, msgSeqNum)
		return seqHandled, s.logoutAndDisconnect(text, DisconnectMsgSeqNumTooLow)
	}
}

// checkSendingTime rejects a message whose SendingTime is outside the
// configured window
func (s *Session) checkSendingTime(msgSeqNum int, msgType []byte, sendingTime int64) (bool, Action) {
	if s.sendingTimeWindow <= 0 || sendingTime == codec.MissingLong {
		return true, Continue
	}
	drift := s.now() - sendingTime
	if drift < 0 {
		drift = -drift
	}
	if drift <= s.sendingTimeWindow {
		return true, Continue
	}

	action := s.OnInvalidMessage(msgSeqNum, int(codec.TagSendingTime), msgType, codec.RejectSendingTimeAccuracyProblem)
	if action == Abort {
		return false, Abort
	}
	s.LogoutRejectReason(codec.RejectSendingTimeAccuracyProblem)
	s.StartLogout()
	return false, Continue
}

// requestResend asks the counterparty for everything from fromSeqNum on.
// A refused request is retried by Poll.
func (s *Session) requestResend(fromSeqNum int) {
	position := s.send(func(seqNum int) []byte {
		return s.encoder.ResendRequest(seqNum, fromSeqNum, 0)
	})
	if position.IsRefused() {
		s.pendingResendFrom = fromSeqNum
		return
	}
	s.pendingResendFrom = 0
}

// sequenced runs the common sequence handling for a message and calls
// process for in order messages. The received number is only committed
// when process does not abort.
func (s *Session) sequenced(msgSeqNum int, possDup bool, process func() Action) Action {
	check, action := s.checkSeqNum(msgSeqNum, possDup)
	switch check {
	case seqHandled:
		return action
	case seqDuplicate:
		s.logger.Debug("Ignoring possible duplicate", "msgSeqNum", msgSeqNum)
		return Continue
	case seqGap:
		s.logger.Info("Sequence gap detected", "expected", s.lastReceivedSeqNum+1, "received", msgSeqNum)
		s.requestResend(s.lastReceivedSeqNum + 1)
		return Continue
	}

	if process != nil {
		if action := process(); action == Abort {
			return Abort
		}
	}
	s.commitReceived(msgSeqNum)
	return Continue
}

// Transitions

// OnBeginString disconnects a counterparty speaking another FIX version. A
// logged on session is sent a Logout first; a Logon is answered by the
// disconnect alone. Abort means the Logout or disconnect was refused and
// the frame must be offered again; a Logout already sent is not repeated.
func (s *Session) OnBeginString(beginString []byte, isLogon bool) (bool, Action) {
	expected := s.encoder.IDs().BeginString
	if string(beginString) == expected {
		return true, Continue
	}

	s.logger.Warn("Incorrect BeginString", "expected", expected, "received", string(beginString), "logon", isLogon)
	if isLogon {
		return false, actionOf(s.requestDisconnect(DisconnectIncorrectBeginString))
	}
	return false, s.logoutAndDisconnect("Incorrect BeginString: "+string(beginString), DisconnectIncorrectBeginString)
}

func (s *Session) OnLogon(heartBtInt, msgSeqNum int, sendingTime, origSendingTime int64,
	username, password string, possDupOrResend, resetSeqNumFlag, possDup bool) Action {
	s.metrics.MessageReceived(codec.KindLogon)

	switch s.state {
	case StateConnected:
		return s.onAcceptorLogon(heartBtInt, msgSeqNum, username, password, resetSeqNumFlag, possDup)
	case StateSentLogon:
		return s.onLogonReply(heartBtInt, msgSeqNum, resetSeqNumFlag, possDup)
	case StateDisconnected, StateDisabled, StateDisconnecting:
		return Continue
	default:
		s.logger.Warn("Unexpected logon", "state", s.state, "msgSeqNum", msgSeqNum)
		return s.logoutAndDisconnect("Unexpected Logon while "+s.state.String(), DisconnectInvalidFixMessage)
	}
}

func (s *Session) onAcceptorLogon(heartBtInt, msgSeqNum int, username, password string, resetSeqNumFlag, possDup bool) Action {
	if !s.logonBound {
		ids := s.encoder.IDs()
		if !s.auth.Authenticate(ids.TargetCompID, username, password) {
			s.logger.Warn("Logon authentication failed", "senderCompID", ids.TargetCompID, "username", username)
			return s.logoutAndDisconnect(ErrAuthenticationFailed.Error(), DisconnectAuthenticationFailed)
		}

		if resetSeqNumFlag {
			s.SetSequenceNumbers(0, 0)
		}
		if s.logonListener != nil {
			if err := s.logonListener.OnLogon(s, resetSeqNumFlag); err != nil {
				s.logger.Warn("Logon refused", "error", err)
				return s.logoutAndDisconnect(err.Error(), DisconnectDuplicateSession)
			}
		}
		s.logonBound = true
	}

	check, action := s.checkSeqNum(msgSeqNum, possDup)
	if check == seqHandled {
		return action
	}

	if heartBtInt > 0 {
		s.heartbeatInterval = int64(heartBtInt) * 1000
	}
	position := s.send(func(seqNum int) []byte {
		return s.encoder.Logon(seqNum, heartBtInt, resetSeqNumFlag, "", "")
	})
	if position.IsRefused() {
		return Abort
	}

	s.activate()
	s.afterLogonSequence(check, msgSeqNum)
	return Continue
}

func (s *Session) onLogonReply(heartBtInt, msgSeqNum int, resetSeqNumFlag, possDup bool) Action {
	unaskedReset := resetSeqNumFlag && !s.resetSeqNumOnLogon
	if unaskedReset {
		s.lastReceivedSeqNum = 0
	}
	if s.logonListener != nil && (!s.logonBound || unaskedReset) {
		if err := s.logonListener.OnLogon(s, resetSeqNumFlag || s.resetSeqNumOnLogon); err != nil {
			s.logger.Warn("Logon refused", "error", err)
			return s.logoutAndDisconnect(err.Error(), DisconnectDuplicateSession)
		}
		s.logonBound = true
	}

	check, action := s.checkSeqNum(msgSeqNum, possDup)
	if check == seqHandled {
		return action
	}

	if heartBtInt > 0 {
		s.heartbeatInterval = int64(heartBtInt) * 1000
	}
	s.activate()
	s.afterLogonSequence(check, msgSeqNum)
	return Continue
}

func (s *Session) activate() {
	s.state = StateActive
	s.lastLogonTime = s.now()
	s.logger.Info("Session active", "sessionID", s.sessionID, "heartbeatInterval", s.heartbeatInterval)
}

func (s *Session) afterLogonSequence(check seqCheck, msgSeqNum int) {
	switch check {
	case seqInOrder:
		s.commitReceived(msgSeqNum)
	case seqGap:
		s.requestResend(s.lastReceivedSeqNum + 1)
	}
}

// SendLogon starts an initiator's handshake
func (s *Session) SendLogon() transport.Position {
	if s.state != StateConnected {
		return transport.AdminAction
	}

	if s.logonListener != nil && !s.logonBound {
		if err := s.logonListener.OnLogon(s, s.resetSeqNumOnLogon); err != nil {
			s.logger.Warn("Logon refused", "error", err)
			return s.requestDisconnect(DisconnectDuplicateSession)
		}
		s.logonBound = true
	}

	heartBtInt := int(s.heartbeatInterval / 1000)
	if s.resetSeqNumOnLogon {
		s.SetSequenceNumbers(0, 0)
	}
	position := s.send(func(seqNum int) []byte {
		return s.encoder.Logon(seqNum, heartBtInt, s.resetSeqNumOnLogon, s.username, s.password)
	})
	if !position.IsRefused() && s.state == StateConnected {
		s.state = StateSentLogon
	}
	return position
}

func (s *Session) OnLogout(msgSeqNum int, sendingTime, origSendingTime int64, possDup bool) Action {
	s.metrics.MessageReceived(codec.KindLogout)

	switch s.state {
	case StateAwaitingLogout, StateLoggingOut, StateLoggingOutAndDisconnecting:
		if msgSeqNum != codec.MissingInt && msgSeqNum == s.lastReceivedSeqNum+1 {
			s.commitReceived(msgSeqNum)
		}
		return actionOf(s.RequestDisconnect())
	case StateDisconnected, StateDisabled, StateDisconnecting:
		return Continue
	}

	if msgSeqNum != codec.MissingInt && msgSeqNum < s.lastReceivedSeqNum+1 && possDup {
		return Continue
	}

	position := s.send(func(seqNum int) []byte {
		return s.encoder.Logout(seqNum, "")
	})
	if position.IsRefused() {
		return Abort
	}
	s.state = StateLoggingOutAndDisconnecting
	if msgSeqNum != codec.MissingInt && msgSeqNum == s.lastReceivedSeqNum+1 {
		s.commitReceived(msgSeqNum)
	}
	return actionOf(s.RequestDisconnect())
}

func (s *Session) OnHeartbeat(msgSeqNum int, testReqID string, sendingTime, origSendingTime int64,
	possDupOrResend, possDup bool) Action {
	s.metrics.MessageReceived(codec.KindHeartbeat)
	if !s.acceptsMessages() {
		return s.onNotLoggedOn()
	}
	if ok, action := s.checkSendingTime(msgSeqNum, []byte(codec.MsgTypeHeartbeat), sendingTime); !ok {
		return action
	}

	return s.sequenced(msgSeqNum, possDupOrResend, func() Action {
		if testReqID != "" && testReqID == s.awaitingTestReqID {
			s.awaitingTestReqID = ""
		}
		return Continue
	})
}

func (s *Session) OnTestRequest(msgSeqNum int, testReqID string, sendingTime, origSendingTime int64,
	possDupOrResend, possDup bool) Action {
	s.metrics.MessageReceived(codec.KindTestRequest)
	if !s.acceptsMessages() {
		return s.onNotLoggedOn()
	}
	if ok, action := s.checkSendingTime(msgSeqNum, []byte(codec.MsgTypeTestRequest), sendingTime); !ok {
		return action
	}

	return s.sequenced(msgSeqNum, possDupOrResend, func() Action {
		return actionOf(s.send(func(seqNum int) []byte {
			return s.encoder.Heartbeat(seqNum, testReqID)
		}))
	})
}

func (s *Session) OnSequenceReset(msgSeqNum, newSeqNo int, gapFill, possDupOrResend bool) Action {
	s.metrics.MessageReceived(codec.KindSequenceReset)
	if !s.acceptsMessages() {
		return s.onNotLoggedOn()
	}

	if gapFill {
		check, action := s.checkSeqNum(msgSeqNum, possDupOrResend)
		switch check {
		case seqHandled:
			return action
		case seqDuplicate:
			return Continue
		case seqGap:
			s.requestResend(s.lastReceivedSeqNum + 1)
			return Continue
		}
	}

	expected := s.lastReceivedSeqNum + 1
	switch {
	case newSeqNo > expected:
		s.commitReceived(newSeqNo - 1)
		return Continue
	case newSeqNo == expected:
		return Continue
	default:
		return s.OnInvalidMessage(msgSeqNum, int(codec.TagNewSeqNo), []byte(codec.MsgTypeSequenceReset), codec.RejectValueIsIncorrect)
	}
}

func (s *Session) OnReject(msgSeqNum int, sendingTime, origSendingTime int64, possDupOrResend, possDup bool) Action {
	s.metrics.MessageReceived(codec.KindReject)
	if !s.acceptsMessages() {
		return s.onNotLoggedOn()
	}

	return s.sequenced(msgSeqNum, possDupOrResend, func() Action {
		s.logger.Warn("Received session level reject", "msgSeqNum", msgSeqNum)
		return Continue
	})
}

func (s *Session) OnMessage(msgSeqNum int, msgType []byte, sendingTime, origSendingTime int64,
	possDupOrResend, possDup bool) Action {
	s.metrics.MessageReceived(codec.KindOther)
	if !s.acceptsMessages() {
		return s.onNotLoggedOn()
	}
	if ok, action := s.checkSendingTime(msgSeqNum, msgType, sendingTime); !ok {
		return action
	}

	return s.sequenced(msgSeqNum, possDupOrResend, nil)
}

func (s *Session) OnInvalidMessage(refSeqNum, refTagID int, refMsgType []byte, reason codec.RejectReason) Action {
	s.metrics.InvalidMessage(reason)

	switch s.state {
	case StateDisconnected, StateDisabled, StateDisconnecting:
		return Continue
	}

	ref := refSeqNum
	if ref == codec.MissingInt {
		ref = 0
	}
	position := s.send(func(seqNum int) []byte {
		return s.encoder.Reject(seqNum, ref, refTagID, string(refMsgType), reason, "")
	})
	if position.IsRefused() {
		return Abort
	}

	// a rejected message still consumes its sequence number
	if refSeqNum != codec.MissingInt && refSeqNum == s.lastReceivedSeqNum+1 {
		s.commitReceived(refSeqNum)
	}
	return Continue
}

func (s *Session) OnInvalidMessageType(msgSeqNum int, msgType []byte) Action {
	return s.OnInvalidMessage(msgSeqNum, int(codec.TagMsgType), msgType, codec.RejectInvalidMsgType)
}

func (s *Session) OnInvalidFixDisconnect() Action {
	return actionOf(s.requestDisconnect(DisconnectInvalidFixMessage))
}

func (s *Session) LogoutRejectReason(reason codec.RejectReason) {
	s.logoutRejectReason = reason
}

// StartLogout sends a Logout and waits for the counterparty's reply
func (s *Session) StartLogout() transport.Position {
	text := ""
	if s.logoutRejectReason != codec.NoRejectReason {
		text = s.logoutRejectReason.String()
	}

	position := s.send(func(seqNum int) []byte {
		return s.encoder.Logout(seqNum, text)
	})
	s.pendingLogout = position.IsRefused()
	if !position.IsRefused() && s.state != StateDisconnected {
		s.state = StateAwaitingLogout
		s.logoutSentTime = s.now()
	}
	return position
}

// LogoutAndDisconnect sends a Logout then closes the connection without
// waiting for a reply. A refused disconnect is retried without resending
// the Logout.
func (s *Session) LogoutAndDisconnect() transport.Position {
	return s.logoutAndDisconnectPosition("", DisconnectLogout)
}

func (s *Session) logoutAndDisconnect(text string, reason DisconnectReason) Action {
	return actionOf(s.logoutAndDisconnectPosition(text, reason))
}

func (s *Session) logoutAndDisconnectPosition(text string, reason DisconnectReason) transport.Position {
	if s.state != StateLoggingOutAndDisconnecting {
		position := s.send(func(seqNum int) []byte {
			return s.encoder.Logout(seqNum, text)
		})
		if position.IsRefused() {
			return position
		}
		if s.state == StateDisconnected {
			return position
		}
		s.state = StateLoggingOutAndDisconnecting
	}
	return s.requestDisconnect(reason)
}

// RequestDisconnect asks the transport to close the connection
func (s *Session) RequestDisconnect() transport.Position {
	return s.requestDisconnect(DisconnectLogout)
}

func (s *Session) requestDisconnect(reason DisconnectReason) transport.Position {
	if s.disconnector == nil {
		s.state = StateDisconnected
		return 0
	}

	position := s.disconnector.RequestDisconnect(s.connectionID, reason)
	if position.IsRefused() {
		s.metrics.BackPressured()
		return position
	}
	if s.state != StateDisconnected {
		s.state = StateDisconnecting
	}
	s.logger.Info("Disconnect requested", "reason", reason)
	return position
}

// OnDisconnect is called once the transport connection has closed
func (s *Session) OnDisconnect() {
	s.state = StateDisconnected
	s.logonBound = false
	s.awaitingTestReqID = ""
	s.pendingLogout = false
}

// Disable stops the session from being reconnected
func (s *Session) Disable() {
	s.state = StateDisabled
}

func (s *Session) UpdateLastMessageProcessed() {
	s.lastMessageProcessed = s.now()
}

func (s *Session) acceptsMessages() bool {
	switch s.state {
	case StateActive, StateAwaitingLogout, StateLoggingOut, StateSentLogon:
		return true
	}
	return false
}

// onNotLoggedOn handles a non logon message before the handshake completes
func (s *Session) onNotLoggedOn() Action {
	switch s.state {
	case StateDisconnected, StateDisabled, StateDisconnecting, StateLoggingOutAndDisconnecting:
		return Continue
	}
	s.logger.Warn("Message received before logon", "state", s.state)
	return actionOf(s.requestDisconnect(DisconnectNoLogon))
}

// Poll drives timers: heartbeats, test requests, logout timeouts and
// refused resend requests. It returns the amount of work done.
func (s *Session) Poll(now time.Time) int {
	nowMs := now.UnixMilli()

	switch s.state {
	case StateAwaitingLogout:
		if nowMs-s.logoutSentTime >= s.logoutTimeout {
			s.logger.Info("Logout timed out", "timeout", s.logoutTimeout)
			if !s.requestDisconnect(DisconnectLogoutTimeout).IsRefused() {
				return 1
			}
		}
		return 0
	case StateActive:
	default:
		return 0
	}

	if s.pendingLogout {
		if s.StartLogout().IsRefused() {
			return 0
		}
		return 1
	}

	work := 0
	if s.pendingResendFrom > 0 {
		s.requestResend(s.pendingResendFrom)
		work++
	}

	silence := nowMs - s.lastMessageProcessed
	if s.awaitingTestReqID != "" {
		if silence >= 2*s.heartbeatInterval {
			s.logger.Warn("Test request unanswered", "testReqID", s.awaitingTestReqID)
			s.logoutAndDisconnect("Heartbeat timeout", DisconnectHeartbeatTimeout)
			return work + 1
		}
	} else if float64(silence) >= testRequestThreshold*float64(s.heartbeatInterval) {
		testReqID := uuid.NewString()
		position := s.send(func(seqNum int) []byte {
			return s.encoder.TestRequest(seqNum, testReqID)
		})
		if !position.IsRefused() {
			s.awaitingTestReqID = testReqID
			work++
		}
	}

	if nowMs-s.lastSentTime >= s.heartbeatInterval {
		position := s.send(func(seqNum int) []byte {
			return s.encoder.Heartbeat(seqNum, "")
		})
		if !position.IsRefused() {
			work++
		}
	}
	return work
}

// ResetSequenceNumbers sends a Logon with ResetSeqNumFlag on an active
// session and restarts both sequences.
func (s *Session) ResetSequenceNumbers() transport.Position {
	if s.state != StateActive {
		return transport.AdminAction
	}

	heartBtInt := int(s.heartbeatInterval / 1000)
	lastSent := s.lastSentSeqNum
	s.lastSentSeqNum = 0
	position := s.send(func(seqNum int) []byte {
		return s.encoder.Logon(seqNum, heartBtInt, true, "", "")
	})
	if position.IsRefused() {
		s.lastSentSeqNum = lastSent
		return position
	}
	s.lastReceivedSeqNum = 0
	if s.sequenceIndex == UnknownSequenceIndex {
		s.sequenceIndex = 0
	} else {
		s.sequenceIndex++
	}
	s.lastSequenceResetTime = s.now()
	return position
}

var _ StateMachine = (*Session)(nil)
