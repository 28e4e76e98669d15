// Package session implements the FIX session layer: the state machine of a
// single counterparty connection and the parser that drives it from inbound
// frames.
package session

// State of a FIX session
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateSentLogon
	StateActive
	StateAwaitingLogout
	StateLoggingOut
	StateLoggingOutAndDisconnecting
	StateDisconnecting
	StateDisconnected
	StateDisabled
)

var stateNames = [...]string{
	StateConnecting:                 "CONNECTING",
	StateConnected:                  "CONNECTED",
	StateSentLogon:                  "SENT_LOGON",
	StateActive:                     "ACTIVE",
	StateAwaitingLogout:             "AWAITING_LOGOUT",
	StateLoggingOut:                 "LOGGING_OUT",
	StateLoggingOutAndDisconnecting: "LOGGING_OUT_AND_DISCONNECTING",
	StateDisconnecting:              "DISCONNECTING",
	StateDisconnected:               "DISCONNECTED",
	StateDisabled:                   "DISABLED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// IsLoggedOn reports states in which a logout is owed to the counterparty
func (s State) IsLoggedOn() bool {
	switch s {
	case StateSentLogon, StateActive, StateAwaitingLogout,
		StateLoggingOut, StateLoggingOutAndDisconnecting:
		return true
	}
	return false
}

// IsConnectedOnly reports states with a transport connection but no logon
func (s State) IsConnectedOnly() bool {
	switch s {
	case StateConnected, StateConnecting, StateDisconnecting:
		return true
	}
	return false
}

// IsTerminal reports states needing no further shutdown work
func (s State) IsTerminal() bool {
	return s == StateDisconnected || s == StateDisabled
}

// Action tells the poller whether to keep consuming input
type Action int

const (
	// Continue processing input
	Continue Action = iota
	// Abort stops consuming input this poll; the frame is redelivered
	Abort
)

func (a Action) String() string {
	if a == Abort {
		return "ABORT"
	}
	return "CONTINUE"
}
