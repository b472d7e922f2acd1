// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements a WhatsApp session bridge: it owns the single
// WhatsApp connection of the process, relays its lifecycle and inbound
// messages to a backend over webhooks, and exposes a small HTTP control API.
//
// # Core Types
//
// [WhatsAppConnector] owns the session. Every mutation of the session runs
// as a task on one goroutine, so transport events, retry timers and API
// commands never race. Dialing, sending and logging out happen off that
// goroutine.
//
// [WhatsAppClient] is one connection attempt. Each attempt gets a new
// generation number; events from a superseded attempt are dropped, so a late
// close from an old socket cannot tear down its replacement.
//
// # Lifecycle
//
// The session moves between disconnected, pairing, connected, reconnecting
// and error states. A close with reason loggedOut deletes the stored
// credentials and never reconnects. Any other close schedules exactly one
// reconnect after reconnect_delay; a failed setup schedules one after
// error_retry_delay. Disconnect cancels a pending reconnect.
//
// # Control API
//
// GET /status, GET /qr, POST /send-message, POST /set-typing, POST /connect,
// POST /disconnect and GET /metrics. See [WhatsAppConnector.Handler].
//
// # Sub-packages
//
//   - qrfmt renders pairing codes as PNG data URIs.
package connector
