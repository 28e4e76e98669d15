package session

import (
	"errors"
	"fmt"

	"github.com/luxfi/log"

	"github.com/luxfi/fixgateway/pkg/codec"
)

// ParserConfig for a Parser
type ParserConfig struct {
	ConnectionID int64
	Dictionary   *codec.Dictionary
	Validation   ValidationStrategy
	// ErrorHandler receives decode failures. When nil the parser panics
	// with the error, so an embedding library sees the fault.
	ErrorHandler    ErrorHandler
	CodecValidation bool
	ValidateCompIDs bool
	Logger          log.Logger
}

// Parser decodes inbound session frames and drives a StateMachine with
// them. Like the session it drives, it is owned by a single poller.
type Parser struct {
	session         StateMachine
	connectionID    int64
	dictionary      *codec.Dictionary
	validation      ValidationStrategy
	errorHandler    ErrorHandler
	codecValidation bool
	validateCompIDs bool
	logger          log.Logger

	pinned *PinnedIDs

	header        *codec.HeaderDecoder
	logon         *codec.LogonDecoder
	logout        *codec.LogoutDecoder
	heartbeat     *codec.HeartbeatDecoder
	testRequest   *codec.TestRequestDecoder
	sequenceReset *codec.SequenceResetDecoder
	reject        *codec.RejectDecoder
}

// NewParser creates a new parser for session
func NewParser(session StateMachine, config ParserConfig) *Parser {
	if config.Dictionary == nil {
		config.Dictionary = codec.DefaultDictionary
	}
	if config.Validation == nil {
		config.Validation = NoValidation{}
	}
	if config.Logger == nil {
		config.Logger = log.Root().New("module", "parser")
	}

	p := &Parser{
		session:         session,
		connectionID:    config.ConnectionID,
		validation:      config.Validation,
		errorHandler:    config.ErrorHandler,
		codecValidation: config.CodecValidation,
		validateCompIDs: config.ValidateCompIDs,
		logger:          config.Logger,
		header:          codec.NewHeaderDecoder(),
	}
	p.FixDictionary(config.Dictionary)
	return p
}

// FixDictionary switches the decoders to another FIX version, as bound at
// logon
func (p *Parser) FixDictionary(dictionary *codec.Dictionary) {
	p.dictionary = dictionary
	p.logon = dictionary.NewLogonDecoder()
	p.logout = dictionary.NewLogoutDecoder()
	p.heartbeat = dictionary.NewHeartbeatDecoder()
	p.testRequest = dictionary.NewTestRequestDecoder()
	p.sequenceReset = dictionary.NewSequenceResetDecoder()
	p.reject = dictionary.NewRejectDecoder()
}

// PinnedIDs returns the comp ids pinned on this connection, or nil
func (p *Parser) PinnedIDs() *PinnedIDs {
	return p.pinned
}

// OnMessage processes one inbound frame. Abort asks the caller to stop
// consuming input and redeliver the frame on a later poll.
func (p *Parser) OnMessage(buffer []byte, offset, length int, messageType codec.MessageType, sessionID int64) Action {
	action, err := p.dispatch(buffer, offset, length, messageType)
	if err == nil {
		p.session.UpdateLastMessageProcessed()
		return action
	}

	// the header itself is unreliable, there is nothing to reject against
	if errors.Is(err, codec.ErrLeadingFieldsOutOfOrder) {
		p.logger.Debug("Ignoring frame with leading fields out of order", "sessionID", sessionID)
		return Continue
	}

	p.session.UpdateLastMessageProcessed()
	return p.rejectAndHandleExceptionalMessage(err, messageType, sessionID)
}

func (p *Parser) dispatch(buffer []byte, offset, length int, messageType codec.MessageType) (action Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("%v", r)
			}
		}
	}()

	switch messageType.Kind() {
	case codec.KindLogon:
		return p.onLogon(buffer, offset, length)
	case codec.KindLogout:
		return p.onLogout(buffer, offset, length)
	case codec.KindHeartbeat:
		return p.onHeartbeat(buffer, offset, length)
	case codec.KindReject:
		return p.onReject(buffer, offset, length)
	case codec.KindTestRequest:
		return p.onTestRequest(buffer, offset, length)
	case codec.KindSequenceReset:
		return p.onSequenceReset(buffer, offset, length)
	case codec.KindOther:
		return p.onAnyOtherMessage(buffer, offset, length)
	}
	return Continue, fmt.Errorf("unhandled message kind %s", messageType.Kind())
}

func (p *Parser) headerFor(messageType codec.MessageType) *codec.HeaderDecoder {
	switch messageType.Kind() {
	case codec.KindLogon:
		return p.logon.Header()
	case codec.KindLogout:
		return p.logout.Header()
	case codec.KindHeartbeat:
		return p.heartbeat.Header()
	case codec.KindReject:
		return p.reject.Header()
	case codec.KindTestRequest:
		return p.testRequest.Header()
	case codec.KindSequenceReset:
		return p.sequenceReset.Header()
	}
	return p.header
}

func (p *Parser) rejectAndHandleExceptionalMessage(err error, messageType codec.MessageType, sessionID int64) Action {
	header := p.headerFor(messageType)

	refTagID := codec.MissingInt
	var formatErr *codec.FieldFormatError
	if errors.As(err, &formatErr) {
		refTagID = int(formatErr.Tag)
	}

	msgType := header.MsgType()
	if msgType == nil {
		msgType = []byte(messageType)
	}

	action := p.session.OnInvalidMessage(header.MsgSeqNum(), refTagID, msgType, codec.RejectIncorrectDataFormatForValue)
	if action == Continue {
		p.onError(&MessageError{ConnectionID: p.connectionID, MsgType: string(messageType), Err: err})
	}
	return action
}

func (p *Parser) onError(err error) {
	if p.errorHandler == nil {
		panic(err)
	}
	p.errorHandler.OnError(err)
}

func (p *Parser) onLogon(buffer []byte, offset, length int) (Action, error) {
	logon := p.logon
	logon.Reset()
	if err := logon.Decode(buffer, offset, length); err != nil {
		return Continue, err
	}
	header := logon.Header()

	if p.codecValidation {
		if !logon.Validate() {
			return p.onCodecInvalidMessage(logon, true), nil
		}
		if ok, action := p.session.OnBeginString(header.BeginString(), true); !ok {
			return action, nil
		}
	}

	sendingTime, err := p.sendingTime(header)
	if err != nil {
		return Continue, err
	}
	origSendingTime, err := p.origSendingTime(header)
	if err != nil {
		return Continue, err
	}

	if p.validateCompIDs && p.pinned == nil {
		p.pinned = PinIDs(header)
	}

	resetSeqNumFlag := logon.HasResetSeqNumFlag() && logon.ResetSeqNumFlag()
	return p.session.OnLogon(
		logon.HeartBtInt(),
		header.MsgSeqNum(),
		sendingTime,
		origSendingTime,
		username(logon),
		password(logon),
		possDupOrResend(header),
		resetSeqNumFlag,
		possDup(header),
	), nil
}

func (p *Parser) onLogout(buffer []byte, offset, length int) (Action, error) {
	logout := p.logout
	logout.Reset()
	if err := logout.Decode(buffer, offset, length); err != nil {
		return Continue, err
	}
	header := logout.Header()

	if p.codecValidation && !logout.Validate() {
		return p.onCodecInvalidMessage(logout, false), nil
	}
	if ok, action := p.validateHeader(header); !ok {
		return action, nil
	}

	sendingTime, origSendingTime, err := p.times(header)
	if err != nil {
		return Continue, err
	}
	return p.session.OnLogout(header.MsgSeqNum(), sendingTime, origSendingTime, possDup(header)), nil
}

func (p *Parser) onHeartbeat(buffer []byte, offset, length int) (Action, error) {
	heartbeat := p.heartbeat
	heartbeat.Reset()
	if err := heartbeat.Decode(buffer, offset, length); err != nil {
		return Continue, err
	}
	header := heartbeat.Header()

	if p.codecValidation && !heartbeat.Validate() {
		return p.onCodecInvalidMessage(heartbeat, false), nil
	}
	if ok, action := p.validateHeader(header); !ok {
		return action, nil
	}

	sendingTime, origSendingTime, err := p.times(header)
	if err != nil {
		return Continue, err
	}

	if heartbeat.HasTestReqID() {
		return p.session.OnHeartbeat(
			header.MsgSeqNum(),
			heartbeat.TestReqID(),
			sendingTime,
			origSendingTime,
			possDupOrResend(header),
			possDup(header),
		), nil
	}
	return p.session.OnMessage(
		header.MsgSeqNum(),
		header.MsgType(),
		sendingTime,
		origSendingTime,
		possDupOrResend(header),
		possDup(header),
	), nil
}

func (p *Parser) onTestRequest(buffer []byte, offset, length int) (Action, error) {
	testRequest := p.testRequest
	testRequest.Reset()
	if err := testRequest.Decode(buffer, offset, length); err != nil {
		return Continue, err
	}
	header := testRequest.Header()

	if p.codecValidation && !testRequest.Validate() {
		return p.onCodecInvalidMessage(testRequest, false), nil
	}
	if ok, action := p.validateHeader(header); !ok {
		return action, nil
	}

	sendingTime, origSendingTime, err := p.times(header)
	if err != nil {
		return Continue, err
	}
	return p.session.OnTestRequest(
		header.MsgSeqNum(),
		testRequest.TestReqID(),
		sendingTime,
		origSendingTime,
		possDupOrResend(header),
		possDup(header),
	), nil
}

func (p *Parser) onSequenceReset(buffer []byte, offset, length int) (Action, error) {
	sequenceReset := p.sequenceReset
	sequenceReset.Reset()
	if err := sequenceReset.Decode(buffer, offset, length); err != nil {
		return Continue, err
	}
	header := sequenceReset.Header()

	if p.codecValidation && !sequenceReset.Validate() {
		return p.onCodecInvalidMessage(sequenceReset, false), nil
	}
	if ok, action := p.validateHeader(header); !ok {
		return action, nil
	}

	gapFill := sequenceReset.HasGapFillFlag() && sequenceReset.GapFillFlag()
	return p.session.OnSequenceReset(
		header.MsgSeqNum(),
		sequenceReset.NewSeqNo(),
		gapFill,
		possDupOrResend(header),
	), nil
}

func (p *Parser) onReject(buffer []byte, offset, length int) (Action, error) {
	reject := p.reject
	reject.Reset()
	if err := reject.Decode(buffer, offset, length); err != nil {
		return Continue, err
	}
	header := reject.Header()

	if p.codecValidation && !reject.Validate() {
		return p.onCodecInvalidMessage(reject, false), nil
	}
	if ok, action := p.validateHeader(header); !ok {
		return action, nil
	}

	sendingTime, origSendingTime, err := p.times(header)
	if err != nil {
		return Continue, err
	}
	return p.session.OnReject(
		header.MsgSeqNum(),
		sendingTime,
		origSendingTime,
		possDupOrResend(header),
		possDup(header),
	), nil
}

func (p *Parser) onAnyOtherMessage(buffer []byte, offset, length int) (Action, error) {
	header := p.header
	header.Reset()
	if err := header.Decode(buffer, offset, length); err != nil {
		return Continue, err
	}

	msgType := header.MsgType()
	msgSeqNum := header.MsgSeqNum()

	if !p.dictionary.IsValidMsgType(codec.MessageType(msgType)) {
		if p.tearingDown() {
			return Continue, nil
		}
		return p.session.OnInvalidMessageType(msgSeqNum, msgType), nil
	}
	if p.codecValidation && !header.Validate() {
		return p.onCodecInvalid(header, header.InvalidTagID(), header.RejectReason(), false), nil
	}
	if ok, action := p.validateHeader(header); !ok {
		return action, nil
	}

	sendingTime, origSendingTime, err := p.times(header)
	if err != nil {
		return Continue, err
	}
	return p.session.OnMessage(
		msgSeqNum,
		msgType,
		sendingTime,
		origSendingTime,
		possDupOrResend(header),
		possDup(header),
	), nil
}

func (p *Parser) tearingDown() bool {
	state := p.session.State()
	return state == StateDisconnected || state == StateAwaitingLogout
}

func (p *Parser) onCodecInvalidMessage(decoder codec.Decoder, requestDisconnect bool) Action {
	return p.onCodecInvalid(decoder.Header(), decoder.InvalidTagID(), decoder.RejectReason(), requestDisconnect)
}

// onCodecInvalid reports a message that failed codec validation. Nothing
// is sent while the session is already tearing down, unless the caller
// asks for a disconnect.
func (p *Parser) onCodecInvalid(header *codec.HeaderDecoder, invalidTagID int, reason codec.RejectReason, requestDisconnect bool) Action {
	if !p.tearingDown() {
		msgSeqNum := header.MsgSeqNum()
		if msgSeqNum == codec.MissingInt {
			return p.session.OnMessage(codec.MissingInt, header.MsgType(), codec.MissingLong, Unknown, false, false)
		}

		action := p.session.OnInvalidMessage(msgSeqNum, invalidTagID, header.MsgType(), reason)
		if action == Continue && requestDisconnect {
			return p.session.OnInvalidFixDisconnect()
		}
		return action
	}

	if requestDisconnect {
		return p.session.OnInvalidFixDisconnect()
	}
	return Continue
}

// validateHeader runs the begin string, comp id and strategy checks. On
// failure the session has been told and asked to log out; the returned
// action is then what the caller should return. Abort is never returned
// once a Reject has gone out, so a redelivery never rejects it twice.
func (p *Parser) validateHeader(header *codec.HeaderDecoder) (bool, Action) {
	if ok, action := p.session.OnBeginString(header.BeginString(), false); !ok {
		return false, action
	}

	invalidTagID := p.checkCompIDs(header)
	reason := codec.RejectCompIDProblem
	if invalidTagID == 0 {
		if p.runValidationStrategy(header) {
			return true, Continue
		}
		reason = p.validation.RejectReason()
		invalidTagID = p.validation.InvalidTagID()
		if reason == codec.NoRejectReason {
			reason = codec.RejectOther
		}
	}

	if p.session.OnInvalidMessage(header.MsgSeqNum(), invalidTagID, header.MsgType(), reason) == Abort {
		return false, Abort
	}
	p.session.LogoutRejectReason(reason)
	// a refused logout is retried by the session's poll
	p.session.StartLogout()
	return false, Continue
}

func (p *Parser) checkCompIDs(header *codec.HeaderDecoder) int {
	if !p.validateCompIDs {
		return 0
	}
	if p.pinned == nil {
		p.pinned = PinIDs(header)
		return 0
	}
	return p.pinned.Check(header)
}

// runValidationStrategy treats a panicking strategy as a failed validation
func (p *Parser) runValidationStrategy(header *codec.HeaderDecoder) (valid bool) {
	defer func() {
		if r := recover(); r != nil {
			valid = false
			err := &StrategyError{ConnectionID: p.connectionID, Header: header.String(), Cause: r}
			p.logger.Warn("Validation strategy failed", "error", err)
			if p.errorHandler != nil {
				p.errorHandler.OnError(err)
			}
		}
	}()
	return p.validation.Validate(header)
}

func (p *Parser) times(header *codec.HeaderDecoder) (int64, int64, error) {
	sendingTime, err := p.sendingTime(header)
	if err != nil {
		return 0, 0, err
	}
	origSendingTime, err := p.origSendingTime(header)
	if err != nil {
		return 0, 0, err
	}
	return sendingTime, origSendingTime, nil
}

func (p *Parser) sendingTime(header *codec.HeaderDecoder) (int64, error) {
	raw := header.SendingTime()
	if !p.codecValidation || raw == nil {
		return codec.MissingLong, nil
	}
	t, err := codec.DecodeTimestamp(raw)
	if err != nil {
		return codec.MissingLong, &codec.FieldFormatError{Tag: codec.TagSendingTime, Err: err}
	}
	return t, nil
}

func (p *Parser) origSendingTime(header *codec.HeaderDecoder) (int64, error) {
	if !header.HasOrigSendingTime() {
		return Unknown, nil
	}
	if !p.codecValidation {
		return codec.MissingLong, nil
	}
	t, err := codec.DecodeTimestamp(header.OrigSendingTime())
	if err != nil {
		return Unknown, &codec.FieldFormatError{Tag: codec.TagOrigSendingTime, Err: err}
	}
	return t, nil
}

func possDup(header *codec.HeaderDecoder) bool {
	return header.HasPossDupFlag() && header.PossDupFlag()
}

func possDupOrResend(header *codec.HeaderDecoder) bool {
	return possDup(header) || (header.HasPossResend() && header.PossResend())
}

func username(logon *codec.LogonDecoder) string {
	if logon.SupportsUsername() && logon.HasUsername() {
		return logon.Username()
	}
	return ""
}

func password(logon *codec.LogonDecoder) string {
	if logon.SupportsPassword() && logon.HasPassword() {
		return logon.Password()
	}
	return ""
}
