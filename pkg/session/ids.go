package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/luxfi/fixgateway/pkg/codec"
)

// ErrMalformedKey is returned when a saved key cannot be loaded
var ErrMalformedKey = errors.New("malformed composite key")

// CompositeKey identifies a session across reconnects. Which fields are
// populated depends on the IDStrategy that made it; unused fields are
// empty. Keys are comparable and may be used as map keys.
type CompositeKey struct {
	LocalCompID      string
	LocalSubID       string
	LocalLocationID  string
	RemoteCompID     string
	RemoteSubID      string
	RemoteLocationID string
}

func (k CompositeKey) String() string {
	var b strings.Builder
	b.WriteString("CompositeKey{local=")
	b.WriteString(k.LocalCompID)
	for _, id := range [...]string{k.LocalSubID, k.LocalLocationID} {
		if id != "" {
			b.WriteByte('/')
			b.WriteString(id)
		}
	}
	b.WriteString(", remote=")
	b.WriteString(k.RemoteCompID)
	for _, id := range [...]string{k.RemoteSubID, k.RemoteLocationID} {
		if id != "" {
			b.WriteByte('/')
			b.WriteString(id)
		}
	}
	b.WriteByte('}')
	return b.String()
}

// SessionIDs returns the header ids the local side sends with
func (k CompositeKey) SessionIDs(beginString string) codec.SessionIDs {
	return codec.SessionIDs{
		BeginString:      beginString,
		SenderCompID:     k.LocalCompID,
		SenderSubID:      k.LocalSubID,
		SenderLocationID: k.LocalLocationID,
		TargetCompID:     k.RemoteCompID,
		TargetSubID:      k.RemoteSubID,
		TargetLocationID: k.RemoteLocationID,
	}
}

// IDStrategy derives composite keys from logons. Initiating and accepting
// the equivalent logon give equal keys.
type IDStrategy interface {
	OnInitiateLogon(senderCompID, senderSubID, senderLocationID, targetCompID, targetSubID, targetLocationID string) CompositeKey
	OnAcceptLogon(header *codec.HeaderDecoder) CompositeKey
	Save(key CompositeKey) []byte
	Load(data []byte) (CompositeKey, error)
}

// SenderAndTarget keys sessions on the comp ids alone
type SenderAndTarget struct{}

func (SenderAndTarget) OnInitiateLogon(senderCompID, _, _, targetCompID, _, _ string) CompositeKey {
	return CompositeKey{LocalCompID: senderCompID, RemoteCompID: targetCompID}
}

func (SenderAndTarget) OnAcceptLogon(header *codec.HeaderDecoder) CompositeKey {
	return CompositeKey{
		LocalCompID:  string(header.TargetCompID()),
		RemoteCompID: string(header.SenderCompID()),
	}
}

func (SenderAndTarget) Save(key CompositeKey) []byte {
	return saveFields(key.LocalCompID, key.RemoteCompID)
}

func (SenderAndTarget) Load(data []byte) (CompositeKey, error) {
	fields, err := loadFields(data, 2)
	if err != nil {
		return CompositeKey{}, err
	}
	return CompositeKey{LocalCompID: fields[0], RemoteCompID: fields[1]}, nil
}

// SenderTargetAndSub keys sessions on the comp ids plus the local sub id
type SenderTargetAndSub struct{}

func (SenderTargetAndSub) OnInitiateLogon(senderCompID, senderSubID, _, targetCompID, _, _ string) CompositeKey {
	return CompositeKey{LocalCompID: senderCompID, LocalSubID: senderSubID, RemoteCompID: targetCompID}
}

func (SenderTargetAndSub) OnAcceptLogon(header *codec.HeaderDecoder) CompositeKey {
	key := CompositeKey{
		LocalCompID:  string(header.TargetCompID()),
		RemoteCompID: string(header.SenderCompID()),
	}
	if header.HasTargetSubID() {
		key.LocalSubID = string(header.TargetSubID())
	}
	return key
}

func (SenderTargetAndSub) Save(key CompositeKey) []byte {
	return saveFields(key.LocalCompID, key.LocalSubID, key.RemoteCompID)
}

func (SenderTargetAndSub) Load(data []byte) (CompositeKey, error) {
	fields, err := loadFields(data, 3)
	if err != nil {
		return CompositeKey{}, err
	}
	return CompositeKey{LocalCompID: fields[0], LocalSubID: fields[1], RemoteCompID: fields[2]}, nil
}

func saveFields(fields ...string) []byte {
	var out []byte
	for _, f := range fields {
		out = binary.AppendUvarint(out, uint64(len(f)))
		out = append(out, f...)
	}
	return out
}

func loadFields(data []byte, count int) ([]string, error) {
	fields := make([]string, 0, count)
	for i := 0; i < count; i++ {
		n, read := binary.Uvarint(data)
		if read <= 0 || uint64(len(data)-read) < n {
			return nil, fmt.Errorf("%w: field %d", ErrMalformedKey, i)
		}
		data = data[read:]
		fields = append(fields, string(data[:n]))
		data = data[n:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedKey, len(data))
	}
	return fields, nil
}

// LookupIDStrategy finds a strategy by its config name
func LookupIDStrategy(name string) (IDStrategy, error) {
	switch name {
	case "", "sender-target":
		return SenderAndTarget{}, nil
	case "sender-target-sub":
		return SenderTargetAndSub{}, nil
	}
	return nil, fmt.Errorf("unknown session id strategy %q", name)
}
