// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/wabridge/pkg/transport"
)

// WhatsAppClient is one transport connection attempt. A new client is created
// for every attempt, so events from an older connection can be told apart
// from the current one by their generation.
type WhatsAppClient struct {
	connector  *WhatsAppConnector
	generation uint64

	ctx    context.Context
	cancel context.CancelFunc

	// conn is set on the task loop once the dial succeeds.
	conn transport.Conn
	// logoutOnAttach is set on the task loop when the session was logged out
	// after Opened but before the dial returned.
	logoutOnAttach bool

	log zerolog.Logger
}

func newWhatsAppClient(wc *WhatsAppConnector, generation uint64) *WhatsAppClient {
	ctx, cancel := context.WithCancel(wc.ctx)
	return &WhatsAppClient{
		connector:  wc,
		generation: generation,
		ctx:        ctx,
		cancel:     cancel,
		log:        wc.log.With().Str("component", "wa_client").Uint64("attempt", generation).Logger(),
	}
}

// dial loads the stored credentials and opens the transport connection. It
// runs on its own goroutine and reports back through an attach task.
func (wac *WhatsAppClient) dial() {
	wc := wac.connector
	conn, err := wac.open()
	if !wc.post(func() { wc.attach(wac, conn, err) }) && conn != nil {
		_ = conn.Close()
	}
}

func (wac *WhatsAppClient) open() (transport.Conn, error) {
	creds, err := wac.connector.loadCredentials(wac.ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportSetup, err)
	}
	wac.log.Debug().Bool("has_credentials", creds != nil).Msg("Loaded credentials")
	conn, err := wac.connector.transport.Connect(wac.ctx, creds, wac.handleEvent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportSetup, err)
	}
	return conn, nil
}

// handleEvent is the transport handler. Events are queued on the task loop
// in the order the transport delivers them.
func (wac *WhatsAppClient) handleEvent(evt transport.Event) {
	wc := wac.connector
	wc.post(func() { wc.handleTransportEvent(wac, evt) })
}

// close cancels a dial in flight and drops the connection without logging out.
func (wac *WhatsAppClient) close() {
	wac.cancel()
	if wac.conn != nil {
		conn := wac.conn
		go func() {
			if err := conn.Close(); err != nil {
				wac.log.Debug().Err(err).Msg("Error closing connection")
			}
		}()
	}
}
