package session

import (
	"github.com/luxfi/fixgateway/pkg/codec"
	"github.com/luxfi/fixgateway/pkg/transport"
)

// Unknown marks an absent timestamp, such as a missing OrigSendingTime
const Unknown int64 = -1

// StateMachine is the transition surface the Parser drives. Methods that
// send return a transport.Position; a negative position means the send
// was refused and must be retried on a later poll.
type StateMachine interface {
	State() State

	// OnBeginString checks the header's BeginString. On a mismatch the
	// session disconnects and the action says whether that was refused.
	OnBeginString(beginString []byte, isLogon bool) (bool, Action)

	OnLogon(heartBtInt, msgSeqNum int, sendingTime, origSendingTime int64,
		username, password string, possDupOrResend, resetSeqNumFlag, possDup bool) Action
	OnLogout(msgSeqNum int, sendingTime, origSendingTime int64, possDup bool) Action
	OnHeartbeat(msgSeqNum int, testReqID string, sendingTime, origSendingTime int64,
		possDupOrResend, possDup bool) Action
	OnTestRequest(msgSeqNum int, testReqID string, sendingTime, origSendingTime int64,
		possDupOrResend, possDup bool) Action
	OnSequenceReset(msgSeqNum, newSeqNo int, gapFill, possDupOrResend bool) Action
	OnReject(msgSeqNum int, sendingTime, origSendingTime int64, possDupOrResend, possDup bool) Action
	OnMessage(msgSeqNum int, msgType []byte, sendingTime, origSendingTime int64,
		possDupOrResend, possDup bool) Action

	OnInvalidMessage(refSeqNum, refTagID int, refMsgType []byte, reason codec.RejectReason) Action
	OnInvalidMessageType(msgSeqNum int, msgType []byte) Action
	OnInvalidFixDisconnect() Action

	LogoutRejectReason(reason codec.RejectReason)
	StartLogout() transport.Position
	LogoutAndDisconnect() transport.Position
	RequestDisconnect() transport.Position

	UpdateLastMessageProcessed()
}

// Disconnector closes the transport connection of a session
type Disconnector interface {
	RequestDisconnect(connectionID int64, reason DisconnectReason) transport.Position
}

// SequenceRecorder durably records the last sequence number of a session
type SequenceRecorder interface {
	SaveRecord(sessionID int64, seqNum int) error
}

// LogonListener binds a session to its persistent identity: an acceptor
// when the counterparty's Logon is accepted, an initiator before its own
// Logon is sent. A bound session is told again only when the counterparty
// resets the sequence unasked. Returning an error refuses the logon.
type LogonListener interface {
	OnLogon(s *Session, resetSeqNumFlag bool) error
}

// Metrics receives session layer counters
type Metrics interface {
	MessageReceived(kind codec.Kind)
	InvalidMessage(reason codec.RejectReason)
	BackPressured()
}

type noopMetrics struct{}

func (noopMetrics) MessageReceived(codec.Kind)        {}
func (noopMetrics) InvalidMessage(codec.RejectReason) {}
func (noopMetrics) BackPressured()                    {}

// DisconnectReason explains why a session asked for its connection to close
type DisconnectReason int

const (
	DisconnectLogout DisconnectReason = iota
	DisconnectInvalidFixMessage
	DisconnectIncorrectBeginString
	DisconnectMsgSeqNumTooLow
	DisconnectNoLogon
	DisconnectAuthenticationFailed
	DisconnectDuplicateSession
	DisconnectHeartbeatTimeout
	DisconnectLogoutTimeout
	DisconnectEngineShutdown
	DisconnectAdmin
)

var disconnectReasonNames = [...]string{
	DisconnectLogout:               "LOGOUT",
	DisconnectInvalidFixMessage:    "INVALID_FIX_MESSAGE",
	DisconnectIncorrectBeginString: "INCORRECT_BEGIN_STRING",
	DisconnectMsgSeqNumTooLow:      "MSG_SEQ_NUM_TOO_LOW",
	DisconnectNoLogon:              "NO_LOGON",
	DisconnectAuthenticationFailed: "FAILED_AUTHENTICATION",
	DisconnectDuplicateSession:     "DUPLICATE_SESSION",
	DisconnectHeartbeatTimeout:     "HEARTBEAT_TIMEOUT",
	DisconnectLogoutTimeout:        "LOGOUT_TIMEOUT",
	DisconnectEngineShutdown:       "ENGINE_SHUTDOWN",
	DisconnectAdmin:                "ADMIN",
}

func (r DisconnectReason) String() string {
	if r >= 0 && int(r) < len(disconnectReasonNames) {
		return disconnectReasonNames[r]
	}
	return "UNKNOWN"
}
