// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"github.com/aiku/wabridge/pkg/relay"
	"github.com/aiku/wabridge/pkg/transport"
)

// handleTransportEvent applies one transport event to the session. It runs
// on the task loop and is the only place session state changes in response
// to the network.
func (wc *WhatsAppConnector) handleTransportEvent(client *WhatsAppClient, evt transport.Event) {
	if !wc.isCurrent(client) {
		client.log.Debug().Str("event", transport.Name(evt)).Msg("Dropping event from superseded attempt")
		return
	}

	switch evt := evt.(type) {
	case transport.PairingCode:
		wc.handlePairingCode(client, evt)
	case transport.Opened:
		wc.handleOpened(client, evt)
	case transport.Closed:
		wc.handleClosed(client, evt)
	case transport.CredentialsUpdated:
		wc.saveCredentials(evt.Data)
	case transport.MessageReceived:
		wc.handleMessage(client, evt)
	default:
		client.log.Warn().Str("event", transport.Name(evt)).Msg("Unhandled transport event")
	}
}

func (wc *WhatsAppConnector) handlePairingCode(client *WhatsAppClient, evt transport.PairingCode) {
	if wc.sess.state == StateConnected {
		client.log.Warn().Msg("Ignoring pairing code on a connected session")
		return
	}
	rotated := wc.sess.state == StatePairingPending
	wc.sess.pairingCode = evt.Code
	wc.setState(StatePairingPending)
	client.log.Info().Bool("rotated", rotated).Msg("Pairing code ready")
	wc.notify(relay.PairingReady{QRCode: evt.Code})
}

func (wc *WhatsAppConnector) handleOpened(client *WhatsAppClient, evt transport.Opened) {
	wasConnected := wc.sess.state == StateConnected
	wc.sess.identity = identityFromUser(evt.User)
	wc.sess.pairingCode = ""
	wc.sess.lastError = ""
	wc.sess.reconnectAttempts = 0
	wc.setState(StateConnected)
	if wasConnected {
		return
	}
	client.log.Info().
		Str("user_id", evt.User.ID).
		Str("phone", wc.sess.identity.Phone).
		Msg("Connected to WhatsApp")
	wc.notify(relay.Connected{
		Phone: wc.sess.identity.Phone,
		User: &relay.UserInfo{
			ID:    wc.sess.identity.ID,
			Name:  wc.sess.identity.Name,
			Phone: wc.sess.identity.Phone,
		},
	})
}

func (wc *WhatsAppConnector) handleClosed(client *WhatsAppClient, evt transport.Closed) {
	client.close()
	wc.sess.client = nil
	wc.sess.dialing = false
	wc.sess.identity = nil
	wc.sess.pairingCode = ""

	log := client.log.With().Str("reason", string(evt.Reason)).Str("error", evt.Err).Logger()
	if evt.IsLoggedOut() {
		log.Warn().Msg("Logged out by the network, credentials invalidated")
		wc.cancelRetry()
		wc.sess.reconnectAttempts = 0
		wc.sess.lastError = ErrAuthRevoked.Error()
		wc.deleteCredentials()
		wc.setState(StateDisconnected)
		wc.notify(relay.Disconnected{Reason: string(evt.Reason)})
		return
	}

	log.Info().Msg("Connection closed")
	wc.sess.reconnectAttempts++
	wc.setState(StateReconnecting)
	wc.notify(relay.Disconnected{Reason: string(evt.Reason)})
	delay := NextBackoffDelay(wc.Config.reconnectBackoff(), wc.sess.reconnectAttempts)
	wc.scheduleRetry(delay, "connection_closed", wc.startAttempt)
}

func (wc *WhatsAppConnector) handleMessage(client *WhatsAppClient, evt transport.MessageReceived) {
	if evt.Text == "" {
		client.log.Trace().Str("message_id", evt.ID).Msg("Skipping message without text")
		return
	}
	phone := ParsePhone(evt.From)
	if evt.FromMe {
		if !wc.Config.RelayOwnMessages {
			return
		}
		recordMessage("own")
		client.log.Debug().Str("message_id", evt.ID).Str("phone", phone).Msg("Relaying message sent from the phone")
		wc.notify(relay.HumanResponseDetected{
			Phone:     phone,
			Message:   evt.Text,
			MessageID: evt.ID,
			Timestamp: evt.Time,
		})
		return
	}

	recordMessage("inbound")
	client.log.Debug().Str("message_id", evt.ID).Str("phone", phone).Msg("Received message")
	wc.notify(relay.MessageReceived{
		Phone:       phone,
		Message:     evt.Text,
		ContactName: wc.Config.FormatContactName(ContactNameParams{PushName: evt.PushName, Phone: phone}),
		MessageID:   evt.ID,
		Timestamp:   evt.Time,
	})
}
