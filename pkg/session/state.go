package session

import (
	"sync"

	"github.com/marmos91/fixgate/internal/logger"
)

// State is the connection-lifecycle state of a session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting        // initiator only: TCP connect in flight
	StateAwaitingLogon     // acceptor only: TCP up, Logon not yet received
	StateLogonInProgress   // initiator only: Logon sent, awaiting response
	StateActive
	StateLogoutInProgress
	StateReconnecting // initiator only: retrying after link loss
)

// String returns the state name used in logs and metrics labels.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingLogon:
		return "AWAITING_LOGON"
	case StateLogonInProgress:
		return "LOGON_IN_PROGRESS"
	case StateActive:
		return "ACTIVE"
	case StateLogoutInProgress:
		return "LOGOUT_IN_PROGRESS"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Event drives state machine transitions.
type Event int

const (
	EventConnectAttempt Event = iota // initiator starts a connection attempt
	EventClientAccepted              // acceptor: TCP connection from peer
	EventConnectionEstablished
	EventConnectionFailed
	EventLogonSuccessful
	EventLogonFailed
	EventLogonReceivedValid
	EventInvalidLogon
	EventLogonTimeout
	EventLogoutInitiated // local logout request
	EventPeerLogoutReceived
	EventLogoutConfirmed
	EventDisconnect // link loss or forced close
	EventReconnectAttempt
	EventReconnectFailed // retries exhausted
)

// String returns the event name used in logs.
func (e Event) String() string {
	switch e {
	case EventConnectAttempt:
		return "connect_attempt"
	case EventClientAccepted:
		return "client_accepted"
	case EventConnectionEstablished:
		return "connection_established"
	case EventConnectionFailed:
		return "connection_failed"
	case EventLogonSuccessful:
		return "logon_successful"
	case EventLogonFailed:
		return "logon_failed"
	case EventLogonReceivedValid:
		return "logon_received_valid"
	case EventInvalidLogon:
		return "invalid_logon"
	case EventLogonTimeout:
		return "logon_timeout"
	case EventLogoutInitiated:
		return "logout_initiated"
	case EventPeerLogoutReceived:
		return "peer_logout_received"
	case EventLogoutConfirmed:
		return "logout_confirmed"
	case EventDisconnect:
		return "disconnect"
	case EventReconnectAttempt:
		return "reconnect_attempt"
	case EventReconnectFailed:
		return "reconnect_failed"
	default:
		return "unknown"
	}
}

// transitions is the static transition table. Events absent for the
// current state are no-ops.
var transitions = map[State]map[Event]State{
	StateDisconnected: {
		EventConnectAttempt:   StateConnecting,
		EventClientAccepted:   StateAwaitingLogon,
		EventReconnectAttempt: StateReconnecting,
	},
	StateConnecting: {
		EventConnectionEstablished: StateLogonInProgress,
		EventConnectionFailed:      StateDisconnected,
		EventDisconnect:            StateDisconnected,
	},
	StateAwaitingLogon: {
		EventLogonReceivedValid: StateActive,
		EventInvalidLogon:       StateDisconnected,
		EventLogonTimeout:       StateDisconnected,
		EventDisconnect:         StateDisconnected,
	},
	StateLogonInProgress: {
		EventLogonSuccessful: StateActive,
		EventLogonFailed:     StateDisconnected,
		EventDisconnect:      StateDisconnected,
	},
	StateActive: {
		EventLogoutInitiated:    StateLogoutInProgress,
		EventPeerLogoutReceived: StateLogoutInProgress,
		EventDisconnect:         StateDisconnected,
	},
	StateLogoutInProgress: {
		EventLogoutConfirmed: StateDisconnected,
		EventDisconnect:      StateDisconnected,
	},
	StateReconnecting: {
		EventConnectionEstablished: StateLogonInProgress,
		EventReconnectFailed:       StateDisconnected,
		EventDisconnect:            StateDisconnected,
	},
}

// StateMachine is the finite-state automaton over the session
// lifecycle. Subscribers are notified synchronously after each
// successful transition and must not block.
type StateMachine struct {
	mu          sync.Mutex
	state       State
	subscribers []func(State)
}

// NewStateMachine starts in Disconnected.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateDisconnected}
}

// State returns the current state.
func (sm *StateMachine) State() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// Is reports whether the machine is in s.
func (sm *StateMachine) Is(s State) bool {
	return sm.State() == s
}

// Subscribe registers a callback for state changes.
func (sm *StateMachine) Subscribe(fn func(State)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.subscribers = append(sm.subscribers, fn)
}

// Fire applies the event and returns the resulting state. Undefined
// events leave the state unchanged and log at debug.
func (sm *StateMachine) Fire(event Event) State {
	sm.mu.Lock()
	from := sm.state
	to, ok := transitions[from][event]
	if !ok || to == from {
		sm.mu.Unlock()
		if !ok {
			logger.Debug("state machine: event ignored",
				logger.KeyState, from.String(),
				logger.KeyEvent, event.String())
		}
		return from
	}
	sm.state = to
	subs := make([]func(State), len(sm.subscribers))
	copy(subs, sm.subscribers)
	sm.mu.Unlock()

	logger.Debug("state transition",
		"from", from.String(),
		"to", to.String(),
		logger.KeyEvent, event.String())

	for _, fn := range subs {
		fn(to)
	}
	return to
}
