package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/fixgateway/pkg/session"
	"github.com/luxfi/fixgateway/pkg/transport"
)

type fakeEndPoints struct {
	size       int
	closeCalls int
}

func (e *fakeEndPoints) CloseRequiredPollingEndPoints() { e.closeCalls++ }
func (e *fakeEndPoints) Size() int                      { return e.size }

// fakePublisher refuses the sends listed in refuse, by call number
type fakePublisher struct {
	calls     int
	refuse    map[int]bool
	libraries []int64
}

func (p *fakePublisher) SaveEndOfDay(libraryID int64) transport.Position {
	p.calls++
	if p.refuse[p.calls] {
		return transport.BackPressured
	}
	p.libraries = append(p.libraries, libraryID)
	return transport.Position(p.calls)
}

type fakeSession struct {
	state       session.State
	logouts     int
	disconnects int
	refuse      int
}

func (s *fakeSession) State() session.State { return s.state }

func (s *fakeSession) LogoutAndDisconnect() transport.Position {
	if s.refuse > 0 {
		s.refuse--
		return transport.BackPressured
	}
	s.logouts++
	return 1
}

func (s *fakeSession) RequestDisconnect() transport.Position {
	if s.refuse > 0 {
		s.refuse--
		return transport.BackPressured
	}
	s.disconnects++
	return 1
}

func (s *fakeSession) SequenceIndex() int                       { return 0 }
func (s *fakeSession) LastLogonTime() int64                     { return 0 }
func (s *fakeSession) LastSequenceResetTime() int64             { return 0 }
func (s *fakeSession) Poll(time.Time) int                       { return 0 }
func (s *fakeSession) OnDisconnect()                            { s.state = session.StateDisconnected }
func (s *fakeSession) ResetSequenceNumbers() transport.Position { return 0 }

func libraries(n int) []*LiveLibraryInfo {
	out := make([]*LiveLibraryInfo, n)
	for i := range out {
		out[i] = NewLiveLibraryInfo(int64(i+10), "library", time.Time{})
	}
	return out
}

func gatewaySessions(states ...session.State) ([]*GatewaySession, []*fakeSession) {
	gateways := make([]*GatewaySession, len(states))
	fakes := make([]*fakeSession, len(states))
	for i, state := range states {
		fakes[i] = &fakeSession{state: state}
		gateways[i] = NewGatewaySession(int64(i+1), fakes[i], nil)
	}
	return gateways, fakes
}

func attemptUntilComplete(t *testing.T, op *CloseOperation, limit int) int {
	t.Helper()
	for calls := 1; calls <= limit; calls++ {
		result := op.Attempt()
		if result == Complete {
			return calls
		}
		require.True(t, transport.Position(result).IsRefused(), "unexpected result %d", result)
	}
	t.Fatalf("close did not complete in %d attempts", limit)
	return 0
}

func TestCloseOperation_CompletesInLibrariesPlusSessionsPlusTwo(t *testing.T) {
	tests := []struct {
		libraries, sessions int
	}{
		{0, 0},
		{1, 0},
		{0, 1},
		{3, 2},
		{5, 7},
	}
	for _, tt := range tests {
		states := make([]session.State, tt.sessions)
		for i := range states {
			states[i] = session.StateActive
		}
		gateways, fakes := gatewaySessions(states...)
		endPoints := &fakeEndPoints{}
		publisher := &fakePublisher{}
		cmd := NewStartCloseCommand()

		op := NewCloseOperation(publisher, libraries(tt.libraries), gateways, endPoints, cmd, nil, testLogger())

		calls := attemptUntilComplete(t, op, 100)
		assert.Equal(t, tt.libraries+tt.sessions+2, calls, "%d libraries, %d sessions", tt.libraries, tt.sessions)
		assert.Equal(t, 1, endPoints.closeCalls)
		assert.Equal(t, tt.libraries, len(publisher.libraries))
		for _, s := range fakes {
			assert.Equal(t, 1, s.logouts)
		}
		assert.NoError(t, cmd.Wait(context.Background()))
	}
}

func TestCloseOperation_RetriesBackPressuredLibrary(t *testing.T) {
	publisher := &fakePublisher{refuse: map[int]bool{2: true, 3: true}}
	cmd := NewStartCloseCommand()
	op := NewCloseOperation(publisher, libraries(3), nil, &fakeEndPoints{}, cmd, nil, testLogger())

	assert.Equal(t, int64(transport.BackPressured), op.Attempt())
	assert.Equal(t, StepLoggingOutLibraries, op.Step())

	op.Attempt() // library 10 sent
	assert.Equal(t, int64(transport.BackPressured), op.Attempt())
	assert.Equal(t, int64(transport.BackPressured), op.Attempt())
	assert.Equal(t, 1, op.libraryIndex, "stays on the refused library")

	op.Attempt()
	op.Attempt()
	assert.Equal(t, []int64{10, 11, 12}, publisher.libraries)
	assert.Equal(t, StepLoggingOutGatewaySessions, op.Step())
}

func TestCloseOperation_DrivesSessionsByState(t *testing.T) {
	gateways, fakes := gatewaySessions(
		session.StateSentLogon,
		session.StateActive,
		session.StateAwaitingLogout,
		session.StateLoggingOut,
		session.StateLoggingOutAndDisconnecting,
		session.StateConnected,
		session.StateConnecting,
		session.StateDisconnecting,
		session.StateDisconnected,
		session.StateDisabled,
	)
	gateways = append(gateways, NewGatewaySession(99, nil, nil))

	op := NewCloseOperation(&fakePublisher{}, nil, gateways, &fakeEndPoints{}, NewStartCloseCommand(), nil, testLogger())
	attemptUntilComplete(t, op, 100)

	for i, s := range fakes {
		switch {
		case i < 5:
			assert.Equal(t, 1, s.logouts, s.state.String())
			assert.Zero(t, s.disconnects, s.state.String())
		case i < 8:
			assert.Zero(t, s.logouts, s.state.String())
			assert.Equal(t, 1, s.disconnects, s.state.String())
		default:
			assert.Zero(t, s.logouts+s.disconnects, s.state.String())
		}
	}
}

func TestCloseOperation_RetriesBackPressuredSession(t *testing.T) {
	gateways, fakes := gatewaySessions(session.StateActive, session.StateActive)
	fakes[1].refuse = 2

	op := NewCloseOperation(&fakePublisher{}, nil, gateways, &fakeEndPoints{}, NewStartCloseCommand(), nil, testLogger())
	calls := attemptUntilComplete(t, op, 100)

	assert.Equal(t, 0+2+2+2, calls)
	assert.Equal(t, 1, fakes[0].logouts)
	assert.Equal(t, 1, fakes[1].logouts)
}

func TestCloseOperation_AwaitsDisconnects(t *testing.T) {
	endPoints := &fakeEndPoints{size: 2}
	cmd := NewStartCloseCommand()
	op := NewCloseOperation(&fakePublisher{}, nil, nil, endPoints, cmd, nil, testLogger())

	op.Attempt()
	for i := 0; i < 3; i++ {
		assert.Equal(t, int64(transport.BackPressured), op.Attempt())
	}
	assert.Equal(t, StepAwaitingDisconnects, op.Step())

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, cmd.Wait(ctx), context.DeadlineExceeded)

	endPoints.size = 0
	assert.Equal(t, Complete, op.Attempt())
	assert.NoError(t, cmd.Wait(context.Background()))
}
