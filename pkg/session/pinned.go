package session

import (
	"bytes"

	"github.com/luxfi/fixgateway/pkg/codec"
)

type optionalID struct {
	value   []byte
	present bool
}

func pinOptional(has bool, value []byte) optionalID {
	if !has {
		return optionalID{}
	}
	return optionalID{value: bytes.Clone(value), present: true}
}

// matches holds when both sides are absent, or both present and equal
func (o optionalID) matches(has bool, value []byte) bool {
	if o.present != has {
		return false
	}
	return !has || bytes.Equal(o.value, value)
}

// PinnedIDs are the comp ids recorded from the first validated header of a
// connection. Every later header must carry the same ids.
type PinnedIDs struct {
	SenderCompID []byte
	TargetCompID []byte

	senderSubID      optionalID
	senderLocationID optionalID
	targetSubID      optionalID
	targetLocationID optionalID
}

// PinIDs copies the ids out of header
func PinIDs(header *codec.HeaderDecoder) *PinnedIDs {
	return &PinnedIDs{
		SenderCompID:     bytes.Clone(header.SenderCompID()),
		TargetCompID:     bytes.Clone(header.TargetCompID()),
		senderSubID:      pinOptional(header.HasSenderSubID(), header.SenderSubID()),
		senderLocationID: pinOptional(header.HasSenderLocationID(), header.SenderLocationID()),
		targetSubID:      pinOptional(header.HasTargetSubID(), header.TargetSubID()),
		targetLocationID: pinOptional(header.HasTargetLocationID(), header.TargetLocationID()),
	}
}

// SenderSubID returns the pinned sender sub id, if one was present
func (p *PinnedIDs) SenderSubID() ([]byte, bool) {
	return p.senderSubID.value, p.senderSubID.present
}

// TargetSubID returns the pinned target sub id, if one was present
func (p *PinnedIDs) TargetSubID() ([]byte, bool) {
	return p.targetSubID.value, p.targetSubID.present
}

// Check returns 0 when header matches, otherwise the tag of the first
// mismatching id.
func (p *PinnedIDs) Check(header *codec.HeaderDecoder) int {
	switch {
	case !bytes.Equal(p.SenderCompID, header.SenderCompID()):
		return int(codec.TagSenderCompID)
	case !bytes.Equal(p.TargetCompID, header.TargetCompID()):
		return int(codec.TagTargetCompID)
	case !p.senderSubID.matches(header.HasSenderSubID(), header.SenderSubID()):
		return int(codec.TagSenderSubID)
	case !p.senderLocationID.matches(header.HasSenderLocationID(), header.SenderLocationID()):
		return int(codec.TagSenderLocationID)
	case !p.targetSubID.matches(header.HasTargetSubID(), header.TargetSubID()):
		return int(codec.TagTargetSubID)
	case !p.targetLocationID.matches(header.HasTargetLocationID(), header.TargetLocationID()):
		return int(codec.TagTargetLocationID)
	}
	return 0
}
