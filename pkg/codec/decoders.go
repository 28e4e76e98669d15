package codec

import (
	"bytes"

	"github.com/quickfixgo/quickfix"
)

// Decoder is the shared surface of the session message decoders.
// Decode must be followed by Validate before any field is trusted.
type Decoder interface {
	Reset()
	Decode(buffer []byte, offset, length int) error
	Validate() bool
	RejectReason() RejectReason
	InvalidTagID() int
	Header() *HeaderDecoder
}

// parse copies the frame out of the caller's buffer, since quickfix keeps
// references into the bytes it parses.
func parse(buffer []byte, offset, length int) (*quickfix.Message, error) {
	if offset < 0 || length < 0 || offset+length > len(buffer) {
		return nil, &ParseError{Err: bytes.ErrTooLarge}
	}

	frame := make([]byte, length)
	copy(frame, buffer[offset:offset+length])

	if err := checkLeadingFields(frame); err != nil {
		return nil, err
	}

	msg := quickfix.NewMessage()
	if err := quickfix.ParseMessage(msg, bytes.NewBuffer(frame)); err != nil {
		return nil, &ParseError{Err: err}
	}
	return msg, nil
}

type messageDecoder struct {
	msgType    MessageType
	validation *ValidationDictionary
	header     *HeaderDecoder
	body       *quickfix.FieldMap

	rejectReason RejectReason
	invalidTagID int
}

func newMessageDecoder(msgType MessageType, validation *ValidationDictionary) messageDecoder {
	return messageDecoder{
		msgType:      msgType,
		validation:   validation,
		header:       NewHeaderDecoder(),
		rejectReason: NoRejectReason,
		invalidTagID: MissingInt,
	}
}

func (d *messageDecoder) Reset() {
	d.header.Reset()
	d.body = nil
	d.rejectReason = NoRejectReason
	d.invalidTagID = MissingInt
}

// decodeFrame wraps the header before the body so a header is available to
// reject with even when a body field is malformed.
func (d *messageDecoder) decodeFrame(buffer []byte, offset, length int) error {
	d.header.Reset()
	d.body = nil

	msg, err := parse(buffer, offset, length)
	if err != nil {
		return err
	}
	if err := d.header.wrap(msg); err != nil {
		return err
	}
	d.body = &msg.Body.FieldMap
	return nil
}

func (d *messageDecoder) Header() *HeaderDecoder { return d.header }

func (d *messageDecoder) RejectReason() RejectReason { return d.rejectReason }

func (d *messageDecoder) InvalidTagID() int { return d.invalidTagID }

func (d *messageDecoder) fail(reason RejectReason, tag quickfix.Tag) bool {
	d.rejectReason = reason
	d.invalidTagID = int(tag)
	return false
}

func (d *messageDecoder) Validate() bool {
	if !d.header.Validate() {
		d.rejectReason = d.header.RejectReason()
		d.invalidTagID = d.header.InvalidTagID()
		return false
	}
	if d.body == nil {
		return d.fail(RejectRequiredTagMissing, TagMsgType)
	}

	for _, tag := range d.validation.RequiredFields(d.msgType) {
		if !d.body.Has(tag) {
			return d.fail(RejectRequiredTagMissing, tag)
		}
	}

	for _, tag := range d.body.Tags() {
		if !d.validation.Contains(d.msgType, tag) {
			return d.fail(RejectTagNotDefinedForMessageType, tag)
		}
	}
	return true
}

func (d *messageDecoder) has(tag quickfix.Tag) bool {
	return d.body != nil && d.body.Has(tag)
}

func (d *messageDecoder) str(tag quickfix.Tag) string {
	if !d.has(tag) {
		return ""
	}
	value, rej := d.body.GetString(tag)
	if rej != nil {
		return ""
	}
	return value
}

func (d *messageDecoder) intField(tag quickfix.Tag) (int, error) {
	if !d.has(tag) {
		return MissingInt, nil
	}
	value, rej := d.body.GetInt(tag)
	if rej != nil {
		return MissingInt, &FieldFormatError{Tag: tag, Err: rej}
	}
	return value, nil
}

func (d *messageDecoder) boolField(tag quickfix.Tag) (has, value bool, err error) {
	if !d.has(tag) {
		return false, false, nil
	}
	v, rej := d.body.GetBool(tag)
	if rej != nil {
		return false, false, &FieldFormatError{Tag: tag, Err: rej}
	}
	return true, v, nil
}

// LogonDecoder decodes 35=A
type LogonDecoder struct {
	messageDecoder

	heartBtInt      int
	encryptMethod   int
	hasResetSeqNum  bool
	resetSeqNumFlag bool
}

func (d *LogonDecoder) Reset() {
	d.messageDecoder.Reset()
	d.heartBtInt = MissingInt
	d.encryptMethod = MissingInt
	d.hasResetSeqNum = false
	d.resetSeqNumFlag = false
}

func (d *LogonDecoder) Decode(buffer []byte, offset, length int) error {
	if err := d.decodeFrame(buffer, offset, length); err != nil {
		return err
	}

	var err error
	if d.heartBtInt, err = d.intField(TagHeartBtInt); err != nil {
		return err
	}
	if d.encryptMethod, err = d.intField(TagEncryptMethod); err != nil {
		return err
	}
	d.hasResetSeqNum, d.resetSeqNumFlag, err = d.boolField(TagResetSeqNumFlag)
	return err
}

func (d *LogonDecoder) Validate() bool {
	if !d.messageDecoder.Validate() {
		return false
	}
	if d.heartBtInt < 0 {
		return d.fail(RejectValueIsIncorrect, TagHeartBtInt)
	}
	return true
}

func (d *LogonDecoder) HeartBtInt() int           { return d.heartBtInt }
func (d *LogonDecoder) EncryptMethod() int        { return d.encryptMethod }
func (d *LogonDecoder) HasResetSeqNumFlag() bool  { return d.hasResetSeqNum }
func (d *LogonDecoder) ResetSeqNumFlag() bool     { return d.resetSeqNumFlag }
func (d *LogonDecoder) HasDefaultApplVerID() bool { return d.has(TagDefaultApplVerID) }
func (d *LogonDecoder) DefaultApplVerID() string  { return d.str(TagDefaultApplVerID) }

// SupportsUsername reports whether the dictionary defines Username on Logon
func (d *LogonDecoder) SupportsUsername() bool {
	return d.validation.Contains(MsgTypeLogon, TagUsername)
}

// SupportsPassword reports whether the dictionary defines Password on Logon
func (d *LogonDecoder) SupportsPassword() bool {
	return d.validation.Contains(MsgTypeLogon, TagPassword)
}

func (d *LogonDecoder) HasUsername() bool { return d.has(TagUsername) }
func (d *LogonDecoder) Username() string  { return d.str(TagUsername) }
func (d *LogonDecoder) HasPassword() bool { return d.has(TagPassword) }
func (d *LogonDecoder) Password() string  { return d.str(TagPassword) }

// LogoutDecoder decodes 35=5
type LogoutDecoder struct {
	messageDecoder
}

func (d *LogoutDecoder) Decode(buffer []byte, offset, length int) error {
	return d.decodeFrame(buffer, offset, length)
}

func (d *LogoutDecoder) HasText() bool { return d.has(TagText) }
func (d *LogoutDecoder) Text() string  { return d.str(TagText) }

// HeartbeatDecoder decodes 35=0
type HeartbeatDecoder struct {
	messageDecoder
}

func (d *HeartbeatDecoder) Decode(buffer []byte, offset, length int) error {
	return d.decodeFrame(buffer, offset, length)
}

func (d *HeartbeatDecoder) HasTestReqID() bool { return d.has(TagTestReqID) }
func (d *HeartbeatDecoder) TestReqID() string  { return d.str(TagTestReqID) }

// TestRequestDecoder decodes 35=1
type TestRequestDecoder struct {
	messageDecoder
}

func (d *TestRequestDecoder) Decode(buffer []byte, offset, length int) error {
	return d.decodeFrame(buffer, offset, length)
}

func (d *TestRequestDecoder) TestReqID() string { return d.str(TagTestReqID) }

// SequenceResetDecoder decodes 35=4
type SequenceResetDecoder struct {
	messageDecoder

	newSeqNo   int
	hasGapFill bool
	gapFill    bool
}

func (d *SequenceResetDecoder) Reset() {
	d.messageDecoder.Reset()
	d.newSeqNo = MissingInt
	d.hasGapFill = false
	d.gapFill = false
}

func (d *SequenceResetDecoder) Decode(buffer []byte, offset, length int) error {
	if err := d.decodeFrame(buffer, offset, length); err != nil {
		return err
	}

	var err error
	if d.newSeqNo, err = d.intField(TagNewSeqNo); err != nil {
		return err
	}
	d.hasGapFill, d.gapFill, err = d.boolField(TagGapFillFlag)
	return err
}

func (d *SequenceResetDecoder) Validate() bool {
	if !d.messageDecoder.Validate() {
		return false
	}
	if d.newSeqNo <= 0 {
		return d.fail(RejectValueIsIncorrect, TagNewSeqNo)
	}
	return true
}

func (d *SequenceResetDecoder) NewSeqNo() int        { return d.newSeqNo }
func (d *SequenceResetDecoder) HasGapFillFlag() bool { return d.hasGapFill }
func (d *SequenceResetDecoder) GapFillFlag() bool    { return d.gapFill }

// RejectDecoder decodes 35=3
type RejectDecoder struct {
	messageDecoder

	refSeqNum int
}

func (d *RejectDecoder) Reset() {
	d.messageDecoder.Reset()
	d.refSeqNum = MissingInt
}

func (d *RejectDecoder) Decode(buffer []byte, offset, length int) error {
	if err := d.decodeFrame(buffer, offset, length); err != nil {
		return err
	}

	var err error
	d.refSeqNum, err = d.intField(TagRefSeqNum)
	return err
}

func (d *RejectDecoder) RefSeqNum() int      { return d.refSeqNum }
func (d *RejectDecoder) HasText() bool       { return d.has(TagText) }
func (d *RejectDecoder) Text() string        { return d.str(TagText) }
func (d *RejectDecoder) HasRefMsgType() bool { return d.has(TagRefMsgType) }
func (d *RejectDecoder) RefMsgType() string  { return d.str(TagRefMsgType) }

var (
	_ Decoder = (*LogonDecoder)(nil)
	_ Decoder = (*LogoutDecoder)(nil)
	_ Decoder = (*HeartbeatDecoder)(nil)
	_ Decoder = (*TestRequestDecoder)(nil)
	_ Decoder = (*SequenceResetDecoder)(nil)
	_ Decoder = (*RejectDecoder)(nil)
)
