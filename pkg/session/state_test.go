package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMachineHappyPathInitiator(t *testing.T) {
	sm := NewStateMachine()
	assert.Equal(t, StateDisconnected, sm.State())

	assert.Equal(t, StateConnecting, sm.Fire(EventConnectAttempt))
	assert.Equal(t, StateLogonInProgress, sm.Fire(EventConnectionEstablished))
	assert.Equal(t, StateActive, sm.Fire(EventLogonSuccessful))
	assert.Equal(t, StateLogoutInProgress, sm.Fire(EventLogoutInitiated))
	assert.Equal(t, StateDisconnected, sm.Fire(EventLogoutConfirmed))
}

func TestStateMachineHappyPathAcceptor(t *testing.T) {
	sm := NewStateMachine()

	assert.Equal(t, StateAwaitingLogon, sm.Fire(EventClientAccepted))
	assert.Equal(t, StateActive, sm.Fire(EventLogonReceivedValid))
	assert.Equal(t, StateLogoutInProgress, sm.Fire(EventPeerLogoutReceived))
	assert.Equal(t, StateDisconnected, sm.Fire(EventDisconnect))
}

func TestStateMachineReconnectCycle(t *testing.T) {
	sm := NewStateMachine()

	sm.Fire(EventConnectAttempt)
	sm.Fire(EventConnectionFailed)
	assert.Equal(t, StateDisconnected, sm.State())

	assert.Equal(t, StateReconnecting, sm.Fire(EventReconnectAttempt))
	assert.Equal(t, StateLogonInProgress, sm.Fire(EventConnectionEstablished))

	sm.Fire(EventDisconnect)
	sm.Fire(EventReconnectAttempt)
	assert.Equal(t, StateDisconnected, sm.Fire(EventReconnectFailed))
}

func TestStateMachineUndefinedEventsAreNoOps(t *testing.T) {
	sm := NewStateMachine()

	// None of these are defined in Disconnected.
	for _, ev := range []Event{
		EventLogonSuccessful, EventLogonReceivedValid,
		EventLogoutInitiated, EventLogoutConfirmed, EventDisconnect,
	} {
		assert.Equal(t, StateDisconnected, sm.Fire(ev), ev.String())
	}
}

func TestStateMachineAwaitingLogonFailures(t *testing.T) {
	for _, ev := range []Event{EventInvalidLogon, EventLogonTimeout, EventDisconnect} {
		sm := NewStateMachine()
		sm.Fire(EventClientAccepted)
		assert.Equal(t, StateDisconnected, sm.Fire(ev), ev.String())
	}
}

func TestStateMachineNotifiesSubscribers(t *testing.T) {
	sm := NewStateMachine()

	var seen []State
	sm.Subscribe(func(s State) { seen = append(seen, s) })
	sm.Subscribe(func(s State) { seen = append(seen, s) })

	sm.Fire(EventClientAccepted)
	sm.Fire(EventLogonSuccessful) // undefined: must not notify
	sm.Fire(EventLogonReceivedValid)

	assert.Equal(t, []State{
		StateAwaitingLogon, StateAwaitingLogon,
		StateActive, StateActive,
	}, seen)
}
