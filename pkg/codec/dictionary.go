package codec

import (
	"fmt"

	"github.com/quickfixgo/quickfix"
)

// ValidationDictionary knows the body fields of every session level message
// type for one FIX version.
type ValidationDictionary struct {
	required map[MessageType][]quickfix.Tag
	all      map[MessageType]map[quickfix.Tag]struct{}
}

func newValidationDictionary() *ValidationDictionary {
	return &ValidationDictionary{
		required: make(map[MessageType][]quickfix.Tag),
		all:      make(map[MessageType]map[quickfix.Tag]struct{}),
	}
}

func (v *ValidationDictionary) define(msgType MessageType, required []quickfix.Tag, optional ...quickfix.Tag) {
	v.required[msgType] = required
	fields := make(map[quickfix.Tag]struct{}, len(required)+len(optional))
	for _, tag := range required {
		fields[tag] = struct{}{}
	}
	for _, tag := range optional {
		fields[tag] = struct{}{}
	}
	v.all[msgType] = fields
}

// RequiredFields returns the required body tags of a message type
func (v *ValidationDictionary) RequiredFields(msgType MessageType) []quickfix.Tag {
	return v.required[msgType]
}

// Contains reports whether tag is defined for the message type
func (v *ValidationDictionary) Contains(msgType MessageType, tag quickfix.Tag) bool {
	fields, ok := v.all[msgType]
	if !ok {
		return false
	}
	_, ok = fields[tag]
	return ok
}

// Knows reports whether the message type has a field definition at all
func (v *ValidationDictionary) Knows(msgType MessageType) bool {
	_, ok := v.all[msgType]
	return ok
}

// Dictionary is a FIX version: its begin string, valid message types and
// validation rules.
type Dictionary struct {
	name        string
	beginString string
	msgTypes    map[MessageType]struct{}
	validation  *ValidationDictionary
}

// Name of the dictionary, as stored in config
func (d *Dictionary) Name() string { return d.name }

// BeginString is the tag 8 value this dictionary speaks
func (d *Dictionary) BeginString() string { return d.beginString }

// Validation returns the field rules of the dictionary
func (d *Dictionary) Validation() *ValidationDictionary { return d.validation }

// IsValidMsgType reports whether the tag 35 value is defined by this version
func (d *Dictionary) IsValidMsgType(msgType MessageType) bool {
	_, ok := d.msgTypes[msgType]
	return ok
}

func (d *Dictionary) String() string { return d.name }

// Decoder constructors, one per session level message type

func (d *Dictionary) NewLogonDecoder() *LogonDecoder {
	return &LogonDecoder{messageDecoder: newMessageDecoder(MsgTypeLogon, d.validation)}
}

func (d *Dictionary) NewLogoutDecoder() *LogoutDecoder {
	return &LogoutDecoder{messageDecoder: newMessageDecoder(MsgTypeLogout, d.validation)}
}

func (d *Dictionary) NewHeartbeatDecoder() *HeartbeatDecoder {
	return &HeartbeatDecoder{messageDecoder: newMessageDecoder(MsgTypeHeartbeat, d.validation)}
}

func (d *Dictionary) NewTestRequestDecoder() *TestRequestDecoder {
	return &TestRequestDecoder{messageDecoder: newMessageDecoder(MsgTypeTestRequest, d.validation)}
}

func (d *Dictionary) NewSequenceResetDecoder() *SequenceResetDecoder {
	return &SequenceResetDecoder{messageDecoder: newMessageDecoder(MsgTypeSequenceReset, d.validation)}
}

func (d *Dictionary) NewRejectDecoder() *RejectDecoder {
	return &RejectDecoder{messageDecoder: newMessageDecoder(MsgTypeReject, d.validation)}
}

// Application message types shared by the supported versions
var commonMsgTypes = []MessageType{
	"6", "7", "8", "9", "B", "C", "D", "E", "F", "G", "H", "J", "K", "L", "M",
	"N", "P", "Q", "R", "S", "T", "V", "W", "X", "Y", "Z",
	"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n", "o",
	"p", "q", "r", "s", "t", "u", "v", "w", "x", "y", "z",
}

var fix44MsgTypes = []MessageType{
	"AA", "AB", "AC", "AD", "AE", "AF", "AG", "AH", "AI", "AJ", "AK", "AL",
	"AM", "AN", "AO", "AP", "AQ", "AR", "AS", "AT", "AU", "AV", "AW", "AX",
	"AY", "AZ", "BA", "BB", "BC", "BD", "BE", "BF", "BG", "BH",
}

var adminMsgTypes = []MessageType{
	MsgTypeHeartbeat,
	MsgTypeTestRequest,
	MsgTypeResendRequest,
	MsgTypeReject,
	MsgTypeSequenceReset,
	MsgTypeLogout,
	MsgTypeLogon,
}

func newDictionary(name, beginString string, logonRequired []quickfix.Tag, extraTypes ...[]MessageType) *Dictionary {
	d := &Dictionary{
		name:        name,
		beginString: beginString,
		msgTypes:    make(map[MessageType]struct{}),
		validation:  newValidationDictionary(),
	}

	for _, group := range append([][]MessageType{adminMsgTypes, commonMsgTypes}, extraTypes...) {
		for _, msgType := range group {
			d.msgTypes[msgType] = struct{}{}
		}
	}

	v := d.validation
	v.define(MsgTypeLogon, logonRequired,
		TagResetSeqNumFlag, TagUsername, TagPassword, TagDefaultApplVerID)
	v.define(MsgTypeLogout, nil, TagText)
	v.define(MsgTypeHeartbeat, nil, TagTestReqID)
	v.define(MsgTypeTestRequest, []quickfix.Tag{TagTestReqID})
	v.define(MsgTypeResendRequest, []quickfix.Tag{TagBeginSeqNo, TagEndSeqNo})
	v.define(MsgTypeSequenceReset, []quickfix.Tag{TagNewSeqNo}, TagGapFillFlag)
	v.define(MsgTypeReject, []quickfix.Tag{TagRefSeqNum},
		TagRefTagID, TagRefMsgType, TagSessionRejectReason, TagText)

	return d
}

var (
	// FIX42 has no Username or Password on Logon
	FIX42 = func() *Dictionary {
		d := newDictionary("FIX42", "FIX.4.2", []quickfix.Tag{TagEncryptMethod, TagHeartBtInt})
		d.validation.define(MsgTypeLogon, []quickfix.Tag{TagEncryptMethod, TagHeartBtInt}, TagResetSeqNumFlag)
		return d
	}()

	FIX44 = newDictionary("FIX44", "FIX.4.4",
		[]quickfix.Tag{TagEncryptMethod, TagHeartBtInt}, fix44MsgTypes)

	FIXT11 = newDictionary("FIXT11", "FIXT.1.1",
		[]quickfix.Tag{TagEncryptMethod, TagHeartBtInt, TagDefaultApplVerID}, fix44MsgTypes)
)

var dictionaries = map[string]*Dictionary{
	FIX42.name:  FIX42,
	FIX44.name:  FIX44,
	FIXT11.name: FIXT11,
}

// DefaultDictionary is used when no dictionary is configured
var DefaultDictionary = FIX44

// LookupDictionary finds a dictionary by name
func LookupDictionary(name string) (*Dictionary, error) {
	if d, ok := dictionaries[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("unknown FIX dictionary %q", name)
}
