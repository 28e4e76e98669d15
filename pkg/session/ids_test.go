package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/fixgateway/pkg/codec"
)

func decodeHeader(t *testing.T, frame []byte) *codec.HeaderDecoder {
	t.Helper()
	header := codec.NewHeaderDecoder()
	require.NoError(t, header.Decode(frame, 0, len(frame)))
	return header
}

func TestIDStrategies_InitiateAndAcceptAgree(t *testing.T) {
	frame := buildFrame(codec.MsgTypeLogon, fields{codec.TagTargetSubID: "DESK"}, logonBody)
	header := decodeHeader(t, frame)

	tests := []struct {
		name     string
		strategy IDStrategy
		want     CompositeKey
	}{
		{
			name:     "sender-target",
			strategy: SenderAndTarget{},
			want:     CompositeKey{LocalCompID: "GATEWAY", RemoteCompID: "CLIENT"},
		},
		{
			name:     "sender-target-sub",
			strategy: SenderTargetAndSub{},
			want:     CompositeKey{LocalCompID: "GATEWAY", LocalSubID: "DESK", RemoteCompID: "CLIENT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initiated := tt.strategy.OnInitiateLogon("GATEWAY", "DESK", "", "CLIENT", "", "")
			accepted := tt.strategy.OnAcceptLogon(header)

			assert.Equal(t, tt.want, initiated)
			assert.Equal(t, initiated, accepted)

			loaded, err := tt.strategy.Load(tt.strategy.Save(accepted))
			require.NoError(t, err)
			assert.Equal(t, accepted, loaded)
		})
	}
}

func TestIDStrategies_LoadRejectsMalformedKeys(t *testing.T) {
	saved := SenderAndTarget{}.Save(CompositeKey{LocalCompID: "A", RemoteCompID: "B"})

	_, err := SenderAndTarget{}.Load(saved[:len(saved)-1])
	assert.True(t, errors.Is(err, ErrMalformedKey))

	_, err = SenderAndTarget{}.Load(append(saved, 0))
	assert.True(t, errors.Is(err, ErrMalformedKey))

	_, err = SenderTargetAndSub{}.Load(saved)
	assert.True(t, errors.Is(err, ErrMalformedKey))
}

func TestCompositeKey(t *testing.T) {
	key := CompositeKey{LocalCompID: "GATEWAY", LocalSubID: "DESK", RemoteCompID: "CLIENT"}
	assert.Equal(t, "CompositeKey{local=GATEWAY/DESK, remote=CLIENT}", key.String())

	ids := key.SessionIDs("FIX.4.4")
	assert.Equal(t, "GATEWAY", ids.SenderCompID)
	assert.Equal(t, "DESK", ids.SenderSubID)
	assert.Equal(t, "CLIENT", ids.TargetCompID)
	assert.Equal(t, "FIX.4.4", ids.BeginString)

	seen := map[CompositeKey]int{key: 1}
	assert.Equal(t, 1, seen[CompositeKey{LocalCompID: "GATEWAY", LocalSubID: "DESK", RemoteCompID: "CLIENT"}])
}

func TestLookupIDStrategy(t *testing.T) {
	s, err := LookupIDStrategy("")
	require.NoError(t, err)
	assert.IsType(t, SenderAndTarget{}, s)

	s, err = LookupIDStrategy("sender-target-sub")
	require.NoError(t, err)
	assert.IsType(t, SenderTargetAndSub{}, s)

	_, err = LookupIDStrategy("location")
	assert.Error(t, err)
}
