package codec

import (
	"bytes"
	"errors"
	"strconv"
)

// ErrTruncatedFrame is returned when a stream ends inside a frame
var ErrTruncatedFrame = errors.New("truncated FIX frame")

// checksumFieldLength is len("10=000\x01")
const checksumFieldLength = 7

var beginStringPrefix = []byte("8=")

// SplitFrames is a bufio.SplitFunc yielding one FIX frame per token, framed
// by BodyLength. Bytes before a BeginString are skipped.
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, beginStringPrefix)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// keep a trailing '8' that may start the next frame
		if n := len(data) - 1; n > 0 {
			return n, nil, nil
		}
		return 0, nil, nil
	}
	if start > 0 {
		return start, nil, nil
	}

	end, ok, err := frameLength(data)
	if err != nil {
		// resynchronise on the next BeginString
		return 1, nil, nil
	}
	if !ok {
		if atEOF {
			return 0, nil, ErrTruncatedFrame
		}
		return 0, nil, nil
	}
	return end, data[:end], nil
}

// frameLength returns the total length of the frame at the start of data,
// or ok=false when more data is needed
func frameLength(data []byte) (length int, ok bool, err error) {
	first := bytes.IndexByte(data, soh)
	if first < 0 {
		return 0, false, nil
	}
	rest := data[first+1:]
	if len(rest) < 2 {
		return 0, false, nil
	}
	if !bytes.HasPrefix(rest, []byte("9=")) {
		return 0, false, ErrLeadingFieldsOutOfOrder
	}
	second := bytes.IndexByte(rest, soh)
	if second < 0 {
		return 0, false, nil
	}
	bodyLength, err := strconv.Atoi(string(rest[2:second]))
	if err != nil || bodyLength < 0 {
		return 0, false, ErrLeadingFieldsOutOfOrder
	}

	length = first + 1 + second + 1 + bodyLength + checksumFieldLength
	if len(data) < length {
		return 0, false, nil
	}
	return length, true, nil
}
