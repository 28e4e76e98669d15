package engine

import (
	"encoding/binary"
	"errors"

	"github.com/luxfi/log"

	"github.com/luxfi/fixgateway/pkg/session"
	"github.com/luxfi/fixgateway/pkg/transport"
)

// ControlType tags the engine's control messages to libraries
type ControlType uint8

const (
	ControlEndOfDay ControlType = iota + 1
	ControlRequestDisconnect
)

// ErrUnknownControl is returned when decoding an unrecognised control message
var ErrUnknownControl = errors.New("unknown control message")

// ControlMessage is a decoded control message
type ControlMessage struct {
	Type         ControlType
	LibraryID    int64
	ConnectionID int64
	Reason       session.DisconnectReason
}

// GatewayPublication carries control messages from the engine to its
// libraries
type GatewayPublication struct {
	publication transport.Publication
	logger      log.Logger
}

// NewGatewayPublication creates a new gateway publication over pub
func NewGatewayPublication(pub transport.Publication, logger log.Logger) *GatewayPublication {
	if logger == nil {
		logger = log.Root().New("module", "gateway")
	}
	return &GatewayPublication{publication: pub, logger: logger}
}

// SaveEndOfDay tells a library the engine is closing
func (p *GatewayPublication) SaveEndOfDay(libraryID int64) transport.Position {
	msg := make([]byte, 0, 9)
	msg = append(msg, byte(ControlEndOfDay))
	msg = binary.BigEndian.AppendUint64(msg, uint64(libraryID))
	return p.offer(msg)
}

// SaveRequestDisconnect announces that a connection is being closed
func (p *GatewayPublication) SaveRequestDisconnect(connectionID int64, reason session.DisconnectReason) transport.Position {
	msg := make([]byte, 0, 10)
	msg = append(msg, byte(ControlRequestDisconnect))
	msg = binary.BigEndian.AppendUint64(msg, uint64(connectionID))
	msg = append(msg, byte(reason))
	return p.offer(msg)
}

func (p *GatewayPublication) offer(msg []byte) transport.Position {
	result := p.publication.Offer(msg)
	if result.Outcome == transport.OutcomeFault {
		p.logger.Error("Control publication failed", "error", result.Err)
	}
	return result.Position
}

// Close closes the underlying publication
func (p *GatewayPublication) Close() error {
	return p.publication.Close()
}

// DecodeControl decodes a message written by GatewayPublication
func DecodeControl(msg []byte) (ControlMessage, error) {
	if len(msg) < 9 {
		return ControlMessage{}, ErrUnknownControl
	}
	id := int64(binary.BigEndian.Uint64(msg[1:9]))
	switch ControlType(msg[0]) {
	case ControlEndOfDay:
		return ControlMessage{Type: ControlEndOfDay, LibraryID: id}, nil
	case ControlRequestDisconnect:
		if len(msg) < 10 {
			return ControlMessage{}, ErrUnknownControl
		}
		return ControlMessage{
			Type:         ControlRequestDisconnect,
			ConnectionID: id,
			Reason:       session.DisconnectReason(msg[9]),
		}, nil
	}
	return ControlMessage{}, ErrUnknownControl
}
