package codec

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFrames(t *testing.T) {
	encoder := NewEncoder(SessionIDs{BeginString: "FIX.4.4", SenderCompID: "A", TargetCompID: "B"}, time.Now)
	first := encoder.Heartbeat(1, "")
	second := encoder.TestRequest(2, "ping")

	var stream bytes.Buffer
	stream.WriteString("noise")
	stream.Write(first)
	stream.Write(second)

	scanner := bufio.NewScanner(&stream)
	scanner.Split(SplitFrames)

	var frames [][]byte
	for scanner.Scan() {
		frames = append(frames, append([]byte(nil), scanner.Bytes()...))
	}
	require.NoError(t, scanner.Err())
	require.Len(t, frames, 2)
	assert.Equal(t, first, frames[0])
	assert.Equal(t, second, frames[1])
}

func TestSplitFrames_Truncated(t *testing.T) {
	encoder := NewEncoder(SessionIDs{BeginString: "FIX.4.4", SenderCompID: "A", TargetCompID: "B"}, time.Now)
	frame := encoder.Heartbeat(1, "")

	scanner := bufio.NewScanner(bytes.NewReader(frame[:len(frame)-3]))
	scanner.Split(SplitFrames)

	assert.False(t, scanner.Scan())
	assert.ErrorIs(t, scanner.Err(), ErrTruncatedFrame)
}
