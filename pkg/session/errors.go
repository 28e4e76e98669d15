package session

import (
	"errors"
	"fmt"

	"github.com/luxfi/log"
)

// ErrAuthenticationFailed is the logout text sent when credentials are refused
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrorHandler is the engine's error channel
type ErrorHandler interface {
	OnError(err error)
}

// ErrorHandlerFunc adapts a function to ErrorHandler
type ErrorHandlerFunc func(err error)

func (f ErrorHandlerFunc) OnError(err error) { f(err) }

// LogErrors reports errors through logger
func LogErrors(logger log.Logger) ErrorHandler {
	return ErrorHandlerFunc(func(err error) {
		logger.Error("Session error", "error", err)
	})
}

// StrategyError reports a validation strategy that panicked
type StrategyError struct {
	ConnectionID int64
	Header       string
	Cause        interface{}
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("validation strategy panicked for connectionId=%d, [%s], defaulted to false: %v",
		e.ConnectionID, e.Header, e.Cause)
}

// MessageError wraps a decode failure of an inbound message
type MessageError struct {
	ConnectionID int64
	MsgType      string
	Err          error
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("failed to process message type %q on connectionId=%d: %v",
		e.MsgType, e.ConnectionID, e.Err)
}

func (e *MessageError) Unwrap() error { return e.Err }
