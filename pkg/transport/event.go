// Copyright 2024-2026 Aiku AI

package transport

import (
	"fmt"
	"time"
)

// Event is one of the closed set of events a transport can emit:
// [PairingCode], [Opened], [Closed], [CredentialsUpdated] or [MessageReceived].
type Event interface {
	isEvent()
}

// PairingCode carries a fresh pairing payload. Payloads rotate until one is
// scanned or the pairing window expires.
type PairingCode struct {
	Code string
}

// User is the account the connection is logged in as.
type User struct {
	// ID is the network user ID, e.g. "5511999999999:1@s.whatsapp.net".
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Opened reports that the connection is authenticated and ready.
type Opened struct {
	User User
}

// CloseReason describes why a connection closed.
type CloseReason string

const (
	// CloseLoggedOut means the account unlinked this device. Stored
	// credentials are no longer valid.
	CloseLoggedOut CloseReason = "loggedOut"
	// CloseConnectionLost means the underlying socket dropped.
	CloseConnectionLost CloseReason = "connectionLost"
	// CloseConnectionClosed is the generic close reason.
	CloseConnectionClosed CloseReason = "connectionClosed"
	// CloseTimedOut means a pairing window or keepalive expired.
	CloseTimedOut CloseReason = "timedOut"
	// CloseRestartRequired is sent right after pairing, when the network wants
	// a fresh connection with the new credentials.
	CloseRestartRequired CloseReason = "restartRequired"
)

// Closed reports the end of a connection.
type Closed struct {
	Reason CloseReason
	// Err is an optional description from the transport.
	Err string
}

// IsLoggedOut reports whether the close revoked the session's credentials.
func (c Closed) IsLoggedOut() bool {
	return c.Reason == CloseLoggedOut
}

// CredentialsUpdated carries the complete, current credential blob.
type CredentialsUpdated struct {
	Data []byte
}

// MessageReceived is a text message seen on the connection.
type MessageReceived struct {
	ID string
	// From is the chat address the message belongs to.
	From     string
	FromMe   bool
	PushName string
	Text     string
	Time     time.Time
}

func (PairingCode) isEvent()        {}
func (Opened) isEvent()             {}
func (Closed) isEvent()             {}
func (CredentialsUpdated) isEvent() {}
func (MessageReceived) isEvent()    {}

// Name returns a short event name for logging.
func Name(evt Event) string {
	switch evt.(type) {
	case PairingCode:
		return "pairing_code"
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	case CredentialsUpdated:
		return "credentials_updated"
	case MessageReceived:
		return "message_received"
	default:
		return fmt.Sprintf("unknown(%T)", evt)
	}
}
