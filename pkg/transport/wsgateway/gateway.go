// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package wsgateway implements [transport.Transport] on top of a protocol
// gateway: a sidecar process that runs the actual messaging-network client and
// exchanges JSON frames with the bridge over a websocket.
//
// The bridge opens one websocket per connection attempt and sends a hello
// frame carrying the stored credentials. The gateway answers with event
// frames (qr, open, close, creds, message) and with result frames for the
// commands the bridge sends (send, presence, logout).
package wsgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"

	"github.com/aiku/wabridge/pkg/transport"
)

// Config configures the gateway connection.
type Config struct {
	// URL is the gateway websocket URL, e.g. ws://localhost:3001/ws.
	URL string `yaml:"url"`
	// Token is sent as a bearer token on the websocket handshake.
	Token string `yaml:"token"`
	// Browser is the device description shown in the phone's linked devices list.
	Browser []string `yaml:"browser"`
	// HandshakeTimeout and CommandTimeout are in seconds.
	HandshakeTimeout int `yaml:"handshake_timeout"`
	CommandTimeout   int `yaml:"command_timeout"`
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultCommandTimeout   = 15 * time.Second
	writeTimeout            = 10 * time.Second
)

// Gateway dials the protocol gateway.
type Gateway struct {
	cfg    Config
	dialer *websocket.Dialer
	log    zerolog.Logger
}

var _ transport.Transport = (*Gateway)(nil)

func New(cfg Config, log zerolog.Logger) *Gateway {
	handshake := defaultHandshakeTimeout
	if cfg.HandshakeTimeout > 0 {
		handshake = time.Duration(cfg.HandshakeTimeout) * time.Second
	}
	return &Gateway{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshake,
		},
		log: log.With().Str("component", "ws_gateway").Logger(),
	}
}

// Connect dials the gateway and sends the hello frame.
func (g *Gateway) Connect(ctx context.Context, creds []byte, handler transport.Handler) (transport.Conn, error) {
	if g.cfg.URL == "" {
		return nil, fmt.Errorf("wsgateway: no gateway URL configured")
	}
	header := http.Header{}
	if g.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+g.cfg.Token)
	}
	ws, resp, err := g.dialer.DialContext(ctx, g.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial gateway: %w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}

	commandTimeout := defaultCommandTimeout
	if g.cfg.CommandTimeout > 0 {
		commandTimeout = time.Duration(g.cfg.CommandTimeout) * time.Second
	}
	c := &gatewayConn{
		ws:             ws,
		handler:        handler,
		pending:        make(map[string]chan result),
		stopChan:       make(chan struct{}),
		commandTimeout: commandTimeout,
		log:            g.log.With().Str("gateway_url", g.cfg.URL).Logger(),
	}

	hello, err := json.Marshal(helloFrame{Type: frameHello, Credentials: creds, Browser: g.cfg.Browser})
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to encode hello frame: %w", err)
	}
	if err := c.write(hello); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to send hello frame: %w", err)
	}

	go c.listen()

	c.log.Info().Bool("resuming", len(creds) > 0).Msg("Connected to gateway")
	return c, nil
}

// gatewayConn is one websocket session with the gateway.
type gatewayConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	handler transport.Handler

	pendingMu sync.Mutex
	pending   map[string]chan result

	stopOnce sync.Once
	stopChan chan struct{}

	commandTimeout time.Duration
	log            zerolog.Logger
}

var _ transport.Conn = (*gatewayConn)(nil)

func (c *gatewayConn) listen() {
	defer c.failPending()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.stopped() {
				return
			}
			c.log.Warn().Err(err).Msg("Gateway connection lost")
			c.shutdown()
			c.handler(transport.Closed{Reason: transport.CloseConnectionLost, Err: err.Error()})
			return
		}

		evt, res, err := decodeFrame(data)
		if err != nil {
			c.log.Warn().Err(err).Int("frame_len", len(data)).Msg("Skipping gateway frame")
			continue
		}
		if res != nil {
			c.resolve(*res)
			continue
		}

		c.log.Trace().Str("event", transport.Name(evt)).Msg("Gateway event")
		if closed, ok := evt.(transport.Closed); ok {
			// The gateway ends the socket after a close frame.
			c.shutdown()
			c.handler(closed)
			return
		}
		c.handler(evt)
	}
}

func (c *gatewayConn) stopped() bool {
	select {
	case <-c.stopChan:
		return true
	default:
		return false
	}
}

func (c *gatewayConn) shutdown() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		_ = c.ws.Close()
	})
}

func (c *gatewayConn) resolve(res result) {
	c.pendingMu.Lock()
	ch, ok := c.pending[res.ID]
	delete(c.pending, res.ID)
	c.pendingMu.Unlock()
	if !ok {
		c.log.Debug().Str("request_id", res.ID).Msg("Result for unknown request")
		return
	}
	ch <- res
}

func (c *gatewayConn) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *gatewayConn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// request sends a command frame stamped with a fresh request ID and waits for
// the matching result frame.
func (c *gatewayConn) request(ctx context.Context, frame any) (result, error) {
	if c.stopped() {
		return result{}, transport.ErrClosed
	}
	body, err := json.Marshal(frame)
	if err != nil {
		return result{}, fmt.Errorf("failed to encode command: %w", err)
	}
	reqID := uuid.NewString()
	body, err = sjson.SetBytes(body, "id", reqID)
	if err != nil {
		return result{}, fmt.Errorf("failed to stamp request id: %w", err)
	}

	ch := make(chan result, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	if err := c.write(body); err != nil {
		return result{}, fmt.Errorf("failed to send command: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()
	select {
	case res, ok := <-ch:
		if !ok {
			return result{}, transport.ErrClosed
		}
		if !res.OK {
			msg := strings.TrimSpace(res.Error)
			if msg == "" {
				msg = "command rejected"
			}
			return res, errors.New(msg)
		}
		return res, nil
	case <-c.stopChan:
		return result{}, transport.ErrClosed
	case <-ctx.Done():
		return result{}, fmt.Errorf("gateway did not answer: %w", ctx.Err())
	}
}

func (c *gatewayConn) SendText(ctx context.Context, to, text string) (string, error) {
	res, err := c.request(ctx, sendFrame{Type: frameSend, To: to, Text: text})
	if err != nil {
		return "", err
	}
	return res.MessageID, nil
}

func (c *gatewayConn) SendPresence(ctx context.Context, to string, presence transport.Presence) error {
	_, err := c.request(ctx, presenceFrame{Type: framePresence, To: to, State: presence})
	return err
}

func (c *gatewayConn) Logout(ctx context.Context) error {
	_, err := c.request(ctx, logoutFrame{Type: frameLogout})
	c.shutdown()
	return err
}

func (c *gatewayConn) Close() error {
	c.shutdown()
	return nil
}
