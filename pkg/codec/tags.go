// Package codec decodes and encodes the FIX tag=value frames handled by the
// session layer. Parsing and building is delegated to quickfix; this package
// adds the typed, guarded accessors the session parser works against.
package codec

import (
	"bytes"
	"math"

	"github.com/quickfixgo/quickfix"
)

// Sentinels for absent numeric fields
const (
	MissingInt  = math.MinInt32
	MissingLong = math.MinInt64
)

// Header tags
const (
	TagBeginString      quickfix.Tag = 8
	TagBodyLength       quickfix.Tag = 9
	TagMsgType          quickfix.Tag = 35
	TagSenderCompID     quickfix.Tag = 49
	TagTargetCompID     quickfix.Tag = 56
	TagMsgSeqNum        quickfix.Tag = 34
	TagSenderSubID      quickfix.Tag = 50
	TagSenderLocationID quickfix.Tag = 142
	TagTargetSubID      quickfix.Tag = 57
	TagTargetLocationID quickfix.Tag = 143
	TagPossDupFlag      quickfix.Tag = 43
	TagPossResend       quickfix.Tag = 97
	TagSendingTime      quickfix.Tag = 52
	TagOrigSendingTime  quickfix.Tag = 122
	TagCheckSum         quickfix.Tag = 10
)

// Body tags used by session level messages
const (
	TagBeginSeqNo          quickfix.Tag = 7
	TagEndSeqNo            quickfix.Tag = 16
	TagNewSeqNo            quickfix.Tag = 36
	TagRefSeqNum           quickfix.Tag = 45
	TagText                quickfix.Tag = 58
	TagEncryptMethod       quickfix.Tag = 98
	TagHeartBtInt          quickfix.Tag = 108
	TagTestReqID           quickfix.Tag = 112
	TagGapFillFlag         quickfix.Tag = 123
	TagResetSeqNumFlag     quickfix.Tag = 141
	TagRefTagID            quickfix.Tag = 371
	TagRefMsgType          quickfix.Tag = 372
	TagSessionRejectReason quickfix.Tag = 373
	TagUsername            quickfix.Tag = 553
	TagPassword            quickfix.Tag = 554
	TagDefaultApplVerID    quickfix.Tag = 1137
)

// MessageType is the value of tag 35
type MessageType string

// Session level message types
const (
	MsgTypeHeartbeat     MessageType = "0"
	MsgTypeTestRequest   MessageType = "1"
	MsgTypeResendRequest MessageType = "2"
	MsgTypeReject        MessageType = "3"
	MsgTypeSequenceReset MessageType = "4"
	MsgTypeLogout        MessageType = "5"
	MsgTypeLogon         MessageType = "A"
)

// Kind is the closed set of message shapes the session parser dispatches on
type Kind uint8

const (
	KindOther Kind = iota
	KindLogon
	KindLogout
	KindHeartbeat
	KindReject
	KindTestRequest
	KindSequenceReset
)

var kindNames = [...]string{
	KindOther:         "other",
	KindLogon:         "logon",
	KindLogout:        "logout",
	KindHeartbeat:     "heartbeat",
	KindReject:        "reject",
	KindTestRequest:   "test_request",
	KindSequenceReset: "sequence_reset",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Kind classifies the message type
func (t MessageType) Kind() Kind {
	switch t {
	case MsgTypeLogon:
		return KindLogon
	case MsgTypeLogout:
		return KindLogout
	case MsgTypeHeartbeat:
		return KindHeartbeat
	case MsgTypeReject:
		return KindReject
	case MsgTypeTestRequest:
		return KindTestRequest
	case MsgTypeSequenceReset:
		return KindSequenceReset
	default:
		return KindOther
	}
}

const soh = '\x01'

// PeekMsgType returns the tag 35 value of a frame without a full parse.
func PeekMsgType(frame []byte) (MessageType, error) {
	if err := checkLeadingFields(frame); err != nil {
		return "", err
	}

	start := bytes.Index(frame, []byte("\x0135="))
	value := frame[start+4:]
	end := bytes.IndexByte(value, soh)
	if end < 0 {
		return "", ErrLeadingFieldsOutOfOrder
	}
	return MessageType(value[:end]), nil
}

// checkLeadingFields verifies the frame opens with 8=, 9= and 35= in order.
func checkLeadingFields(frame []byte) error {
	rest := frame
	for _, prefix := range [...]string{"8=", "9=", "35="} {
		if !bytes.HasPrefix(rest, []byte(prefix)) {
			return ErrLeadingFieldsOutOfOrder
		}
		end := bytes.IndexByte(rest, soh)
		if end < 0 {
			return ErrLeadingFieldsOutOfOrder
		}
		rest = rest[end+1:]
	}
	return nil
}
