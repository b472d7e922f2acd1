// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"

	"github.com/aiku/wabridge/pkg/transport"
)

// SendMessage sends a text message and returns the network message ID. phone
// is normalized with [MakeJID]. It does not wait for delivery receipts.
func (wc *WhatsAppConnector) SendMessage(ctx context.Context, phone, text string) (string, error) {
	conn, err := wc.connectedConn(ctx)
	if err != nil {
		return "", err
	}
	jid := MakeJID(phone)
	if jid == "" {
		return "", ErrInvalidPhone
	}

	msgID, err := conn.SendText(ctx, jid, text)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	recordMessage("outbound")
	wc.log.Info().Str("to", jid).Str("message_id", msgID).Msg("Sent message")
	return msgID, nil
}

// SetTyping shows or clears the typing indicator in the chat with phone.
func (wc *WhatsAppConnector) SetTyping(ctx context.Context, phone string, typing bool) error {
	conn, err := wc.connectedConn(ctx)
	if err != nil {
		return err
	}
	jid := MakeJID(phone)
	if jid == "" {
		return ErrInvalidPhone
	}

	presence := transport.PresencePaused
	if typing {
		presence = transport.PresenceComposing
	}
	if err := conn.SendPresence(ctx, jid, presence); err != nil {
		return fmt.Errorf("failed to send presence: %w", err)
	}
	wc.log.Debug().Str("to", jid).Str("presence", string(presence)).Msg("Sent presence")
	return nil
}

// connectedConn returns the live connection, or ErrNotConnected.
func (wc *WhatsAppConnector) connectedConn(ctx context.Context) (transport.Conn, error) {
	var conn transport.Conn
	err := wc.call(ctx, func() {
		if wc.sess.state == StateConnected && wc.sess.client != nil {
			conn = wc.sess.client.conn
		}
	})
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, ErrNotConnected
	}
	return conn, nil
}
