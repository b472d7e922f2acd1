// Copyright 2024-2026 Aiku AI

package relay

import "time"

// Payload is the JSON body of one notification kind.
type Payload interface {
	Kind() Kind
}

type PairingReady struct {
	QRCode string `json:"qr_code"`
}

// UserInfo describes the account the bridge is logged in as.
type UserInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone"`
}

type Connected struct {
	Phone string    `json:"phone"`
	User  *UserInfo `json:"user"`
}

type Disconnected struct {
	Reason string `json:"reason"`
}

type MessageReceived struct {
	Phone       string    `json:"phone"`
	Message     string    `json:"message"`
	ContactName string    `json:"contact_name"`
	MessageID   string    `json:"message_id"`
	Timestamp   time.Time `json:"timestamp"`
}

type Error struct {
	Error string `json:"error"`
}

// HumanResponseDetected reports a message typed directly on the paired phone.
type HumanResponseDetected struct {
	Phone     string    `json:"phone"`
	Message   string    `json:"message"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (PairingReady) Kind() Kind          { return KindPairingReady }
func (Connected) Kind() Kind             { return KindConnected }
func (Disconnected) Kind() Kind          { return KindDisconnected }
func (MessageReceived) Kind() Kind       { return KindMessageReceived }
func (Error) Kind() Kind                 { return KindError }
func (HumanResponseDetected) Kind() Kind { return KindHumanResponseDetected }
