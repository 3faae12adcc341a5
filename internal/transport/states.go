// Package transport maintains the WebSocket event stream of one device session.
package transport

import (
	"context"

	"github.com/qmuntal/stateless"
)

// State represents the connection state of the event transport.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Trigger represents an event that causes a connection state transition.
type Trigger string

const (
	TriggerConnect        Trigger = "connect"
	TriggerConnected      Trigger = "connected"
	TriggerConnectionLost Trigger = "connection_lost"
	TriggerClose          Trigger = "close"
)

// IsReconnect reports whether a transition restored a previously lost connection.
func IsReconnect(from, to State) bool {
	return from == StateReconnecting && to == StateConnected
}

func newMachine(onTransition func(from, to State)) *stateless.StateMachine {
	sm := stateless.NewStateMachine(StateDisconnected)

	sm.Configure(StateDisconnected).
		Permit(TriggerConnect, StateConnecting).
		Permit(TriggerClose, StateClosed)

	sm.Configure(StateConnecting).
		Permit(TriggerConnected, StateConnected).
		Permit(TriggerConnectionLost, StateReconnecting).
		Permit(TriggerClose, StateClosed)

	sm.Configure(StateConnected).
		Permit(TriggerConnectionLost, StateReconnecting).
		Permit(TriggerClose, StateClosed)

	// A failed attempt while reconnecting stays in Reconnecting.
	sm.Configure(StateReconnecting).
		Permit(TriggerConnected, StateConnected).
		PermitReentry(TriggerConnectionLost).
		Permit(TriggerClose, StateClosed)

	sm.Configure(StateClosed)

	sm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		onTransition(t.Source.(State), t.Destination.(State))
	})

	return sm
}
