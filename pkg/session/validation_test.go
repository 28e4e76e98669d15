package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/luxfi/fixgateway/pkg/codec"
)

func TestCompIDValidation(t *testing.T) {
	header := decodeHeader(t, buildFrame(codec.MsgTypeHeartbeat, nil, nil))

	target := TargetCompIDValidation("GATEWAY", "GATEWAY2")
	assert.True(t, target.Validate(header))
	assert.Equal(t, codec.NoRejectReason, target.RejectReason())
	assert.Equal(t, codec.MissingInt, target.InvalidTagID())

	sender := SenderCompIDValidation("OTHER")
	assert.False(t, sender.Validate(header))
	assert.Equal(t, codec.RejectCompIDProblem, sender.RejectReason())
	assert.Equal(t, int(codec.TagSenderCompID), sender.InvalidTagID())
}

func TestCompositeValidation_ReportsFirstFailure(t *testing.T) {
	header := decodeHeader(t, buildFrame(codec.MsgTypeHeartbeat, nil, nil))

	v := NewCompositeValidation(
		NoValidation{},
		TargetCompIDValidation("ELSEWHERE"),
		SenderCompIDValidation("OTHER"),
	)
	assert.False(t, v.Validate(header))
	assert.Equal(t, codec.RejectCompIDProblem, v.RejectReason())
	assert.Equal(t, int(codec.TagTargetCompID), v.InvalidTagID())

	v = NewCompositeValidation(NoValidation{}, SenderCompIDValidation("CLIENT"))
	assert.True(t, v.Validate(header))
	assert.Equal(t, codec.NoRejectReason, v.RejectReason())
}

func TestPinnedIDs(t *testing.T) {
	first := decodeHeader(t, buildFrame(codec.MsgTypeLogon, fields{codec.TagSenderSubID: "TRADER"}, logonBody))
	pinned := PinIDs(first)

	sub, ok := pinned.SenderSubID()
	assert.True(t, ok)
	assert.Equal(t, []byte("TRADER"), sub)
	_, ok = pinned.TargetSubID()
	assert.False(t, ok)

	tests := []struct {
		name   string
		header fields
		want   int
	}{
		{"same", fields{codec.TagSenderSubID: "TRADER"}, 0},
		{"sender comp", fields{codec.TagSenderCompID: "X", codec.TagSenderSubID: "TRADER"}, int(codec.TagSenderCompID)},
		{"target comp", fields{codec.TagTargetCompID: "X", codec.TagSenderSubID: "TRADER"}, int(codec.TagTargetCompID)},
		{"sub missing", nil, int(codec.TagSenderSubID)},
		{"sub differs", fields{codec.TagSenderSubID: "OTHER"}, int(codec.TagSenderSubID)},
		{"location added", fields{codec.TagSenderSubID: "TRADER", codec.TagTargetLocationID: "LDN"}, int(codec.TagTargetLocationID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := decodeHeader(t, buildFrame(codec.MsgTypeHeartbeat, tt.header, nil))
			assert.Equal(t, tt.want, pinned.Check(header))
		})
	}
}
