package codec

import (
	"fmt"
	"strings"

	"github.com/quickfixgo/quickfix"
)

var requiredHeaderTags = [...]quickfix.Tag{
	TagBeginString,
	TagBodyLength,
	TagMsgType,
	TagSenderCompID,
	TagTargetCompID,
	TagMsgSeqNum,
	TagSendingTime,
}

// HeaderDecoder exposes the standard header of a decoded frame. Optional
// fields must be checked with their Has method before being read.
type HeaderDecoder struct {
	fields *quickfix.FieldMap

	msgSeqNum     int
	hasPossDup    bool
	possDup       bool
	hasPossResend bool
	possResend    bool

	rejectReason RejectReason
	invalidTagID int
}

// NewHeaderDecoder creates an empty header decoder
func NewHeaderDecoder() *HeaderDecoder {
	h := &HeaderDecoder{}
	h.Reset()
	return h
}

// Reset clears all decoded state
func (h *HeaderDecoder) Reset() {
	h.fields = nil
	h.msgSeqNum = MissingInt
	h.hasPossDup = false
	h.possDup = false
	h.hasPossResend = false
	h.possResend = false
	h.rejectReason = NoRejectReason
	h.invalidTagID = MissingInt
}

// Decode parses a whole frame, keeping only its header
func (h *HeaderDecoder) Decode(buffer []byte, offset, length int) error {
	msg, err := parse(buffer, offset, length)
	if err != nil {
		return err
	}
	return h.wrap(msg)
}

func (h *HeaderDecoder) wrap(msg *quickfix.Message) error {
	h.fields = &msg.Header.FieldMap

	if h.fields.Has(TagMsgSeqNum) {
		seqNum, rej := h.fields.GetInt(TagMsgSeqNum)
		if rej != nil {
			return &FieldFormatError{Tag: TagMsgSeqNum, Err: rej}
		}
		h.msgSeqNum = seqNum
	}

	if h.fields.Has(TagPossDupFlag) {
		possDup, rej := h.fields.GetBool(TagPossDupFlag)
		if rej != nil {
			return &FieldFormatError{Tag: TagPossDupFlag, Err: rej}
		}
		h.hasPossDup = true
		h.possDup = possDup
	}

	if h.fields.Has(TagPossResend) {
		possResend, rej := h.fields.GetBool(TagPossResend)
		if rej != nil {
			return &FieldFormatError{Tag: TagPossResend, Err: rej}
		}
		h.hasPossResend = true
		h.possResend = possResend
	}

	return nil
}

// Validate checks the required header fields are present
func (h *HeaderDecoder) Validate() bool {
	if h.fields == nil {
		h.rejectReason = RejectRequiredTagMissing
		h.invalidTagID = int(TagBeginString)
		return false
	}

	for _, tag := range requiredHeaderTags {
		if !h.fields.Has(tag) {
			h.rejectReason = RejectRequiredTagMissing
			h.invalidTagID = int(tag)
			return false
		}
	}
	return true
}

// RejectReason is the reason the last Validate failed
func (h *HeaderDecoder) RejectReason() RejectReason {
	return h.rejectReason
}

// InvalidTagID is the tag the last Validate failed on
func (h *HeaderDecoder) InvalidTagID() int {
	return h.invalidTagID
}

func (h *HeaderDecoder) bytes(tag quickfix.Tag) []byte {
	if h.fields == nil {
		return nil
	}
	value, rej := h.fields.GetBytes(tag)
	if rej != nil {
		return nil
	}
	return value
}

func (h *HeaderDecoder) has(tag quickfix.Tag) bool {
	return h.fields != nil && h.fields.Has(tag)
}

// BeginString returns tag 8
func (h *HeaderDecoder) BeginString() []byte { return h.bytes(TagBeginString) }

// MsgType returns tag 35
func (h *HeaderDecoder) MsgType() []byte { return h.bytes(TagMsgType) }

// MsgSeqNum returns tag 34 or MissingInt
func (h *HeaderDecoder) MsgSeqNum() int { return h.msgSeqNum }

// SenderCompID returns tag 49
func (h *HeaderDecoder) SenderCompID() []byte { return h.bytes(TagSenderCompID) }

// TargetCompID returns tag 56
func (h *HeaderDecoder) TargetCompID() []byte { return h.bytes(TagTargetCompID) }

func (h *HeaderDecoder) HasSenderSubID() bool      { return h.has(TagSenderSubID) }
func (h *HeaderDecoder) SenderSubID() []byte       { return h.bytes(TagSenderSubID) }
func (h *HeaderDecoder) HasSenderLocationID() bool { return h.has(TagSenderLocationID) }
func (h *HeaderDecoder) SenderLocationID() []byte  { return h.bytes(TagSenderLocationID) }
func (h *HeaderDecoder) HasTargetSubID() bool      { return h.has(TagTargetSubID) }
func (h *HeaderDecoder) TargetSubID() []byte       { return h.bytes(TagTargetSubID) }
func (h *HeaderDecoder) HasTargetLocationID() bool { return h.has(TagTargetLocationID) }
func (h *HeaderDecoder) TargetLocationID() []byte  { return h.bytes(TagTargetLocationID) }

// SendingTime returns the raw tag 52 value
func (h *HeaderDecoder) SendingTime() []byte { return h.bytes(TagSendingTime) }

func (h *HeaderDecoder) HasOrigSendingTime() bool { return h.has(TagOrigSendingTime) }
func (h *HeaderDecoder) OrigSendingTime() []byte  { return h.bytes(TagOrigSendingTime) }

func (h *HeaderDecoder) HasPossDupFlag() bool { return h.hasPossDup }
func (h *HeaderDecoder) PossDupFlag() bool    { return h.possDup }
func (h *HeaderDecoder) HasPossResend() bool  { return h.hasPossResend }
func (h *HeaderDecoder) PossResend() bool     { return h.possResend }

// String renders the decoded header for diagnostics
func (h *HeaderDecoder) String() string {
	if h.fields == nil {
		return "Header{}"
	}

	var b strings.Builder
	b.WriteString("Header{")
	for i, tag := range h.fields.Tags() {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d=%s", int(tag), h.bytes(tag))
	}
	b.WriteByte('}')
	return b.String()
}
