// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/aiku/wabridge/pkg/transport"
)

// State is the lifecycle state of the session.
type State int

const (
	StateDisconnected State = iota
	StatePairingPending
	StateConnected
	StateReconnecting
	StateError
)

// String returns the wire label used in status responses.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StatePairingPending:
		return "qr_ready"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Identity is the account the session is logged in as.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Snapshot is a consistent copy of the session taken on the task loop.
type Snapshot struct {
	State    State
	Identity *Identity
	// PairingCode is the raw pairing payload, set only while pairing.
	PairingCode string
	LastError   string
	// Connecting is true while a transport dial is in flight.
	Connecting        bool
	ReconnectPending  bool
	ReconnectAttempts int
}

// Connected reports whether commands can be sent.
func (s Snapshot) Connected() bool {
	return s.State == StateConnected
}

// session is the mutable connection context. It is owned by the task loop
// and never touched from any other goroutine.
type session struct {
	state       State
	identity    *Identity
	pairingCode string
	lastError   string

	// attempt is the generation of the current transport attempt. Events and
	// dial results carrying an older generation are dropped.
	attempt uint64
	dialing bool
	client  *WhatsAppClient

	reconnectTimer    stopper
	timerSeq          uint64
	reconnectAttempts int
}

func (s *session) snapshot() Snapshot {
	snap := Snapshot{
		State:             s.state,
		PairingCode:       s.pairingCode,
		LastError:         s.lastError,
		Connecting:        s.dialing,
		ReconnectPending:  s.reconnectTimer != nil,
		ReconnectAttempts: s.reconnectAttempts,
	}
	if s.identity != nil {
		id := *s.identity
		snap.Identity = &id
	}
	return snap
}

// idle reports whether there is nothing to tear down.
func (s *session) idle() bool {
	return s.state == StateDisconnected && !s.dialing && s.client == nil && s.reconnectTimer == nil
}

func identityFromUser(user transport.User) *Identity {
	return &Identity{
		ID:    user.ID,
		Name:  user.Name,
		Phone: ParsePhone(user.ID),
	}
}
