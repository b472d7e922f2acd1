// Copyright 2024-2026 Aiku AI

// Package transport defines the boundary between the session bridge and the
// messaging-network client. The client itself is a black box: it is handed the
// stored credentials, reports lifecycle and message events through a
// [Handler], and accepts outbound commands through a [Conn].
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Conn methods after the connection has been closed.
var ErrClosed = errors.New("transport: connection closed")

// Handler receives transport events. Implementations of [Transport] must call
// it from a single goroutine per connection, in the order events occur.
type Handler func(evt Event)

// Transport starts connections to the messaging network.
type Transport interface {
	// Connect establishes a new connection. creds is the last stored credential
	// blob, or nil when the session has never been paired. Connect returns once
	// the connection is set up; pairing and open/close notifications arrive
	// later through handler.
	Connect(ctx context.Context, creds []byte, handler Handler) (Conn, error)
}

// Presence is a chat presence state sent to a peer.
type Presence string

const (
	PresenceComposing Presence = "composing"
	PresencePaused    Presence = "paused"
)

// Conn is one live transport connection.
type Conn interface {
	// SendText sends a text message to the given network address and returns
	// the network-assigned message ID. It does not wait for delivery receipts.
	SendText(ctx context.Context, to, text string) (string, error)
	// SendPresence updates the chat presence shown to the given address.
	SendPresence(ctx context.Context, to string, presence Presence) error
	// Logout unlinks the device from the account. The connection is closed
	// afterwards.
	Logout(ctx context.Context) error
	// Close drops the connection without logging out. Safe to call twice.
	Close() error
}
