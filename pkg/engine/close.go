package engine

import (
	"context"
	"sync"

	"github.com/luxfi/log"

	"github.com/luxfi/fixgateway/pkg/session"
	"github.com/luxfi/fixgateway/pkg/transport"
)

// Complete is returned by a Continuation that has finished
const Complete int64 = 1

// Continuation is a unit of work retried on every duty cycle until it
// returns Complete. Negative results mean try again later.
type Continuation interface {
	Attempt() int64
}

// StartCloseCommand asks the framer to log everything out. Success is
// signalled once every connection has gone.
type StartCloseCommand struct {
	once sync.Once
	done chan struct{}
}

// NewStartCloseCommand creates a new close command
func NewStartCloseCommand() *StartCloseCommand {
	return &StartCloseCommand{done: make(chan struct{})}
}

// Success marks the close as finished
func (c *StartCloseCommand) Success() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed once the close has finished
func (c *StartCloseCommand) Done() <-chan struct{} { return c.done }

// Wait blocks until the close finishes or ctx is cancelled
func (c *StartCloseCommand) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseStep is the position of a CloseOperation
type CloseStep int

const (
	StepClosingNotLoggedOnReceiverEndPoints CloseStep = iota
	StepLoggingOutLibraries
	StepLoggingOutGatewaySessions
	StepAwaitingDisconnects
)

func (s CloseStep) String() string {
	switch s {
	case StepClosingNotLoggedOnReceiverEndPoints:
		return "CLOSING_NOT_LOGGED_ON_RECEIVER_END_POINTS"
	case StepLoggingOutLibraries:
		return "LOGGING_OUT_LIBRARIES"
	case StepLoggingOutGatewaySessions:
		return "LOGGING_OUT_GATEWAY_SESSIONS"
	case StepAwaitingDisconnects:
		return "AWAITING_DISCONNECTS"
	}
	return "UNKNOWN"
}

// EndPoints is what a close needs from the receiver end points
type EndPoints interface {
	CloseRequiredPollingEndPoints()
	Size() int
}

// EndOfDayPublisher notifies libraries that the engine is closing
type EndOfDayPublisher interface {
	SaveEndOfDay(libraryID int64) transport.Position
}

// CloseOperation logs out every library and gateway session and then waits
// for all connections to close. Each Attempt performs at most one send; a
// refused send is retried from the same library or session next time.
//
// A library being acquired while the close runs is not visited here. Its
// sessions are logged out when the acquisition completes.
type CloseOperation struct {
	publication     EndOfDayPublisher
	libraries       []*LiveLibraryInfo
	gatewaySessions []*GatewaySession
	endPoints       EndPoints
	command         *StartCloseCommand
	metrics         Metrics
	logger          log.Logger

	step                CloseStep
	libraryIndex        int
	gatewaySessionIndex int
}

// NewCloseOperation creates a new close over snapshots of the libraries and
// gateway sessions
func NewCloseOperation(
	publication EndOfDayPublisher,
	libraries []*LiveLibraryInfo,
	gatewaySessions []*GatewaySession,
	endPoints EndPoints,
	command *StartCloseCommand,
	metrics Metrics,
	logger log.Logger,
) *CloseOperation {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = log.Root().New("module", "close")
	}
	return &CloseOperation{
		publication:     publication,
		libraries:       libraries,
		gatewaySessions: gatewaySessions,
		endPoints:       endPoints,
		command:         command,
		metrics:         metrics,
		logger:          logger,
	}
}

// Step returns the current step
func (o *CloseOperation) Step() CloseStep { return o.step }

func (o *CloseOperation) Attempt() int64 {
	switch o.step {
	case StepClosingNotLoggedOnReceiverEndPoints:
		o.endPoints.CloseRequiredPollingEndPoints()
		o.advance(StepLoggingOutLibraries)
		return int64(transport.BackPressured)

	case StepLoggingOutLibraries:
		if o.libraryIndex < len(o.libraries) {
			return o.logOutLibrary()
		}
		o.advance(StepLoggingOutGatewaySessions)
		fallthrough

	case StepLoggingOutGatewaySessions:
		if o.gatewaySessionIndex < len(o.gatewaySessions) {
			return o.logOutGatewaySession()
		}
		o.advance(StepAwaitingDisconnects)
		fallthrough

	case StepAwaitingDisconnects:
		return o.awaitDisconnects()
	}
	return Complete
}

func (o *CloseOperation) advance(step CloseStep) {
	o.logger.Debug("Close step", "from", o.step, "to", step)
	o.step = step
	o.metrics.CloseStep(step.String())
}

func (o *CloseOperation) logOutLibrary() int64 {
	library := o.libraries[o.libraryIndex]
	position := o.publication.SaveEndOfDay(library.LibraryID())
	if position.IsRefused() {
		return int64(position)
	}

	o.libraryIndex++
	if o.libraryIndex == len(o.libraries) {
		o.advance(StepLoggingOutGatewaySessions)
	}
	return int64(transport.BackPressured)
}

func (o *CloseOperation) logOutGatewaySession() int64 {
	if s := o.gatewaySessions[o.gatewaySessionIndex].Session(); s != nil {
		var position transport.Position
		switch state := s.State(); {
		case state.IsLoggedOn():
			position = s.LogoutAndDisconnect()
		case state.IsConnectedOnly():
			position = s.RequestDisconnect()
		}
		if position.IsRefused() {
			return int64(position)
		}
	}

	o.gatewaySessionIndex++
	if o.gatewaySessionIndex == len(o.gatewaySessions) {
		o.advance(StepAwaitingDisconnects)
	}
	return int64(transport.BackPressured)
}

func (o *CloseOperation) awaitDisconnects() int64 {
	if o.endPoints.Size() > 0 {
		return int64(transport.BackPressured)
	}

	o.logger.Info("Close complete", "libraries", len(o.libraries), "sessions", len(o.gatewaySessions))
	o.command.Success()
	return Complete
}

// closableSession is the part of a session a close drives
type closableSession interface {
	State() session.State
	LogoutAndDisconnect() transport.Position
	RequestDisconnect() transport.Position
}
