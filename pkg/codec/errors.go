package codec

import (
	"errors"
	"fmt"

	"github.com/quickfixgo/quickfix"
)

// ErrLeadingFieldsOutOfOrder is returned when a frame does not start with
// BeginString, BodyLength and MsgType. No header can be trusted from such a
// frame, so it cannot be rejected.
var ErrLeadingFieldsOutOfOrder = errors.New("leading fields out of order: expected 8, 9, 35")

// FieldFormatError reports a field whose value cannot be decoded
type FieldFormatError struct {
	Tag quickfix.Tag
	Err error
}

func (e *FieldFormatError) Error() string {
	return fmt.Sprintf("incorrect data format for tag %d: %v", int(e.Tag), e.Err)
}

func (e *FieldFormatError) Unwrap() error {
	return e.Err
}

// ParseError wraps a frame quickfix could not parse
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed frame: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
