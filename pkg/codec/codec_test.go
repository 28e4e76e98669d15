package codec

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/quickfixgo/quickfix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 4, 5, 6, 7, 8_000_000, time.UTC)

func testEncoder() *Encoder {
	return NewEncoder(SessionIDs{
		BeginString:  FIX44.BeginString(),
		SenderCompID: "initiator",
		SenderSubID:  "desk",
		TargetCompID: "acceptor",
	}, func() time.Time { return testTime })
}

func decode(t *testing.T, d Decoder, frame []byte) {
	t.Helper()
	d.Reset()
	require.NoError(t, d.Decode(frame, 0, len(frame)))
}

func TestLogonRoundTrip(t *testing.T) {
	frame := testEncoder().Logon(1, 30, true, "bob", "secret")

	d := FIX44.NewLogonDecoder()
	decode(t, d, frame)
	require.True(t, d.Validate())

	assert.Equal(t, 30, d.HeartBtInt())
	assert.True(t, d.HasResetSeqNumFlag())
	assert.True(t, d.ResetSeqNumFlag())
	assert.True(t, d.SupportsUsername())
	assert.True(t, d.HasUsername())
	assert.Equal(t, "bob", d.Username())
	assert.Equal(t, "secret", d.Password())

	h := d.Header()
	assert.Equal(t, "FIX.4.4", string(h.BeginString()))
	assert.Equal(t, "A", string(h.MsgType()))
	assert.Equal(t, 1, h.MsgSeqNum())
	assert.Equal(t, "initiator", string(h.SenderCompID()))
	assert.Equal(t, "acceptor", string(h.TargetCompID()))
	assert.True(t, h.HasSenderSubID())
	assert.Equal(t, "desk", string(h.SenderSubID()))
	assert.False(t, h.HasTargetSubID())
	assert.False(t, h.HasPossDupFlag())
	assert.False(t, h.HasOrigSendingTime())

	sendingTime, err := DecodeTimestamp(h.SendingTime())
	require.NoError(t, err)
	assert.Equal(t, testTime.UnixMilli(), sendingTime)
}

func TestLogonWithoutOptionalFields(t *testing.T) {
	frame := testEncoder().Logon(1, 10, false, "", "")

	d := FIX44.NewLogonDecoder()
	decode(t, d, frame)
	require.True(t, d.Validate())

	assert.False(t, d.HasResetSeqNumFlag())
	assert.False(t, d.HasUsername())
	assert.False(t, d.HasPassword())
}

func TestFIX42LogonDoesNotSupportCredentials(t *testing.T) {
	d := FIX42.NewLogonDecoder()
	assert.False(t, d.SupportsUsername())
	assert.False(t, d.SupportsPassword())
}

func TestDecodeRespectsOffsetAndLength(t *testing.T) {
	frame := testEncoder().Heartbeat(7, "ping")
	buffer := append(append([]byte("garbage"), frame...), []byte("trailing")...)

	d := FIX44.NewHeartbeatDecoder()
	d.Reset()
	require.NoError(t, d.Decode(buffer, len("garbage"), len(frame)))
	require.True(t, d.Validate())

	assert.Equal(t, 7, d.Header().MsgSeqNum())
	assert.True(t, d.HasTestReqID())
	assert.Equal(t, "ping", d.TestReqID())
}

func TestLeadingFieldsOutOfOrder(t *testing.T) {
	frame := []byte("9=5\x018=FIX.4.4\x0135=0\x0110=000\x01")

	d := FIX44.NewHeartbeatDecoder()
	d.Reset()
	err := d.Decode(frame, 0, len(frame))
	assert.True(t, errors.Is(err, ErrLeadingFieldsOutOfOrder))

	_, err = PeekMsgType(frame)
	assert.ErrorIs(t, err, ErrLeadingFieldsOutOfOrder)
}

func TestPeekMsgType(t *testing.T) {
	msgType, err := PeekMsgType(testEncoder().TestRequest(2, "abc"))
	require.NoError(t, err)
	assert.Equal(t, MsgTypeTestRequest, msgType)
	assert.Equal(t, KindTestRequest, msgType.Kind())
}

func TestMalformedSeqNumIsFieldFormatError(t *testing.T) {
	frame := testEncoder().Heartbeat(1, "")
	frame = bytes.Replace(frame, []byte("\x0134=1\x01"), []byte("\x0134=x\x01"), 1)

	d := FIX44.NewHeartbeatDecoder()
	d.Reset()
	err := d.Decode(frame, 0, len(frame))

	var formatErr *FieldFormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, TagMsgSeqNum, formatErr.Tag)
}

func TestMalformedBodyFieldKeepsHeader(t *testing.T) {
	frame := testEncoder().SequenceReset(4, 9, true)
	frame = bytes.Replace(frame, []byte("\x0136=9\x01"), []byte("\x0136=?\x01"), 1)

	d := FIX44.NewSequenceResetDecoder()
	d.Reset()
	err := d.Decode(frame, 0, len(frame))

	var formatErr *FieldFormatError
	require.ErrorAs(t, err, &formatErr)
	assert.Equal(t, TagNewSeqNo, formatErr.Tag)
	assert.Equal(t, 4, d.Header().MsgSeqNum())
}

func TestRequiredFieldMissing(t *testing.T) {
	// a heartbeat relabelled as a test request has no TestReqID
	frame := testEncoder().Heartbeat(3, "")
	frame = bytes.Replace(frame, []byte("\x0135=0\x01"), []byte("\x0135=1\x01"), 1)

	d := FIX44.NewTestRequestDecoder()
	decode(t, d, frame)

	assert.False(t, d.Validate())
	assert.Equal(t, RejectRequiredTagMissing, d.RejectReason())
	assert.Equal(t, int(TagTestReqID), d.InvalidTagID())
}

func TestSequenceResetGapFill(t *testing.T) {
	d := FIX44.NewSequenceResetDecoder()
	decode(t, d, testEncoder().SequenceReset(4, 9, true))
	require.True(t, d.Validate())

	assert.Equal(t, 9, d.NewSeqNo())
	assert.True(t, d.HasGapFillFlag())
	assert.True(t, d.GapFillFlag())
	assert.True(t, d.Header().HasPossDupFlag())
	assert.True(t, d.Header().PossDupFlag())

	decode(t, d, testEncoder().SequenceReset(5, 20, false))
	require.True(t, d.Validate())
	assert.False(t, d.HasGapFillFlag())
	assert.False(t, d.Header().HasPossDupFlag())
}

func TestRejectRoundTrip(t *testing.T) {
	frame := testEncoder().Reject(6, 5, int(TagSenderCompID), "D", RejectCompIDProblem, "")

	d := FIX44.NewRejectDecoder()
	decode(t, d, frame)
	require.True(t, d.Validate())

	assert.Equal(t, 5, d.RefSeqNum())
	assert.Equal(t, "D", d.RefMsgType())
	assert.Equal(t, "CompID problem", d.Text())
}

func TestLogoutText(t *testing.T) {
	d := FIX44.NewLogoutDecoder()
	decode(t, d, testEncoder().Logout(2, "bye"))
	require.True(t, d.Validate())

	assert.True(t, d.HasText())
	assert.Equal(t, "bye", d.Text())
}

func TestDictionaries(t *testing.T) {
	d, err := LookupDictionary("FIXT11")
	require.NoError(t, err)
	assert.Equal(t, "FIXT.1.1", d.BeginString())
	assert.Equal(t, []quickfix.Tag{TagEncryptMethod, TagHeartBtInt, TagDefaultApplVerID},
		d.Validation().RequiredFields(MsgTypeLogon))

	_, err = LookupDictionary("FIX99")
	assert.Error(t, err)

	assert.True(t, FIX44.IsValidMsgType("D"))
	assert.True(t, FIX44.IsValidMsgType("AE"))
	assert.False(t, FIX42.IsValidMsgType("AE"))
	assert.False(t, FIX44.IsValidMsgType("ZZ"))
}

func TestDecodeTimestamp(t *testing.T) {
	ms, err := DecodeTimestamp([]byte("20240102-03:04:05.006"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC).UnixMilli(), ms)

	ms, err = DecodeTimestamp([]byte("not a time"))
	assert.Error(t, err)
	assert.Equal(t, int64(MissingLong), ms)
}

func TestRejectReasonString(t *testing.T) {
	assert.Equal(t, "CompID problem", RejectCompIDProblem.String())
	assert.Equal(t, "Unknown reject reason", RejectReason(42).String())
}
