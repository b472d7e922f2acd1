// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"

	"github.com/aiku/wabridge/pkg/connector/qrfmt"
)

var (
	// ErrNotConnected is returned by commands issued while the session is not
	// connected.
	ErrNotConnected = errors.New("whatsapp is not connected")
	// ErrInvalidPhone is returned when a phone number has no digits.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrTransportSetup wraps connection establishment failures.
	ErrTransportSetup = errors.New("transport setup failed")
	// ErrAuthRevoked is recorded when the network logs the device out.
	ErrAuthRevoked = errors.New("session logged out by the network")
	// ErrEncodingFailed is returned when the pairing code cannot be rendered.
	ErrEncodingFailed = qrfmt.ErrEncodingFailed
	// ErrStopped is returned by operations on a stopped connector.
	ErrStopped = errors.New("connector stopped")
)
