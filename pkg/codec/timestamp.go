package codec

import (
	"time"

	"github.com/quickfixgo/quickfix"
)

// DecodeTimestamp converts a UTCTimestamp field to epoch milliseconds
func DecodeTimestamp(raw []byte) (int64, error) {
	var ts quickfix.FIXUTCTimestamp
	if err := ts.Read(raw); err != nil {
		return MissingLong, err
	}
	return ts.Time.UnixMilli(), nil
}

func utcTimestamp(t time.Time) quickfix.FIXUTCTimestamp {
	return quickfix.FIXUTCTimestamp{Time: t.UTC(), Precision: quickfix.Millis}
}
