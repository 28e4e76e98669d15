package codec

import (
	"time"

	"github.com/quickfixgo/quickfix"
)

// SessionIDs are the identifiers stamped on every outbound header, from the
// point of view of the local side.
type SessionIDs struct {
	BeginString      string
	SenderCompID     string
	SenderSubID      string
	SenderLocationID string
	TargetCompID     string
	TargetSubID      string
	TargetLocationID string
}

// DefaultApplVerID sent on FIXT.1.1 logons (FIX50SP2)
const DefaultApplVerID = "9"

// Encoder builds outbound session level messages
type Encoder struct {
	ids   SessionIDs
	clock func() time.Time
}

// NewEncoder creates an encoder that stamps SendingTime from clock
func NewEncoder(ids SessionIDs, clock func() time.Time) *Encoder {
	if clock == nil {
		clock = time.Now
	}
	return &Encoder{ids: ids, clock: clock}
}

// IDs returns the identifiers currently stamped on headers
func (e *Encoder) IDs() SessionIDs { return e.ids }

// SetIDs replaces the header identifiers, used once an acceptor learns them
// from the inbound logon.
func (e *Encoder) SetIDs(ids SessionIDs) { e.ids = ids }

func (e *Encoder) newMessage(msgType MessageType, seqNum int) *quickfix.Message {
	msg := quickfix.NewMessage()
	h := &msg.Header
	h.SetString(TagBeginString, e.ids.BeginString)
	h.SetString(TagMsgType, string(msgType))
	h.SetString(TagSenderCompID, e.ids.SenderCompID)
	h.SetString(TagTargetCompID, e.ids.TargetCompID)
	if e.ids.SenderSubID != "" {
		h.SetString(TagSenderSubID, e.ids.SenderSubID)
	}
	if e.ids.SenderLocationID != "" {
		h.SetString(TagSenderLocationID, e.ids.SenderLocationID)
	}
	if e.ids.TargetSubID != "" {
		h.SetString(TagTargetSubID, e.ids.TargetSubID)
	}
	if e.ids.TargetLocationID != "" {
		h.SetString(TagTargetLocationID, e.ids.TargetLocationID)
	}
	h.SetInt(TagMsgSeqNum, seqNum)
	h.SetField(TagSendingTime, utcTimestamp(e.clock()))
	return msg
}

func build(msg *quickfix.Message) []byte {
	return []byte(msg.String())
}

// Logon builds 35=A
func (e *Encoder) Logon(seqNum, heartBtInt int, resetSeqNum bool, username, password string) []byte {
	msg := e.newMessage(MsgTypeLogon, seqNum)
	msg.Body.SetInt(TagEncryptMethod, 0)
	msg.Body.SetInt(TagHeartBtInt, heartBtInt)
	if resetSeqNum {
		msg.Body.SetBool(TagResetSeqNumFlag, true)
	}
	if username != "" {
		msg.Body.SetString(TagUsername, username)
	}
	if password != "" {
		msg.Body.SetString(TagPassword, password)
	}
	if e.ids.BeginString == FIXT11.BeginString() {
		msg.Body.SetString(TagDefaultApplVerID, DefaultApplVerID)
	}
	return build(msg)
}

// Logout builds 35=5
func (e *Encoder) Logout(seqNum int, text string) []byte {
	msg := e.newMessage(MsgTypeLogout, seqNum)
	if text != "" {
		msg.Body.SetString(TagText, text)
	}
	return build(msg)
}

// Heartbeat builds 35=0, echoing testReqID when set
func (e *Encoder) Heartbeat(seqNum int, testReqID string) []byte {
	msg := e.newMessage(MsgTypeHeartbeat, seqNum)
	if testReqID != "" {
		msg.Body.SetString(TagTestReqID, testReqID)
	}
	return build(msg)
}

// TestRequest builds 35=1
func (e *Encoder) TestRequest(seqNum int, testReqID string) []byte {
	msg := e.newMessage(MsgTypeTestRequest, seqNum)
	msg.Body.SetString(TagTestReqID, testReqID)
	return build(msg)
}

// ResendRequest builds 35=2. An endSeqNo of 0 requests everything after
// beginSeqNo.
func (e *Encoder) ResendRequest(seqNum, beginSeqNo, endSeqNo int) []byte {
	msg := e.newMessage(MsgTypeResendRequest, seqNum)
	msg.Body.SetInt(TagBeginSeqNo, beginSeqNo)
	msg.Body.SetInt(TagEndSeqNo, endSeqNo)
	return build(msg)
}

// Reject builds 35=3. Missing refTagID and refMsgType are left out.
func (e *Encoder) Reject(seqNum, refSeqNum, refTagID int, refMsgType string, reason RejectReason, text string) []byte {
	msg := e.newMessage(MsgTypeReject, seqNum)
	msg.Body.SetInt(TagRefSeqNum, refSeqNum)
	if refTagID != MissingInt && refTagID > 0 {
		msg.Body.SetInt(TagRefTagID, refTagID)
	}
	if refMsgType != "" {
		msg.Body.SetString(TagRefMsgType, refMsgType)
	}
	if reason != NoRejectReason {
		msg.Body.SetInt(TagSessionRejectReason, int(reason))
		if text == "" {
			text = reason.String()
		}
	}
	if text != "" {
		msg.Body.SetString(TagText, text)
	}
	return build(msg)
}

// SequenceReset builds 35=4
func (e *Encoder) SequenceReset(seqNum, newSeqNo int, gapFill bool) []byte {
	msg := e.newMessage(MsgTypeSequenceReset, seqNum)
	msg.Body.SetInt(TagNewSeqNo, newSeqNo)
	if gapFill {
		msg.Body.SetBool(TagGapFillFlag, true)
		msg.Header.SetBool(TagPossDupFlag, true)
	}
	return build(msg)
}
