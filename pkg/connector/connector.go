// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/wabridge/pkg/credstore"
	"github.com/aiku/wabridge/pkg/relay"
	"github.com/aiku/wabridge/pkg/transport"
)

// Notifier is an interface for queuing backend notifications. This allows
// tests to inject a mock instead of a real relay.
type Notifier interface {
	Notify(payload relay.Payload)
}

// stopper is the handle of a scheduled retry.
type stopper interface {
	Stop() bool
}

const (
	taskQueueSize = 64
	storeTimeout  = 10 * time.Second
)

// WhatsAppConnector owns the single WhatsApp session of the process. All
// session mutations run as tasks on one goroutine; transport events, retry
// timers and API commands are posted to it.
type WhatsAppConnector struct {
	Config    *Config
	transport transport.Transport
	store     credstore.Store
	notifier  Notifier
	log       zerolog.Logger

	// afterFunc schedules retries. Tests replace it to fire timers by hand.
	afterFunc func(d time.Duration, f func()) stopper

	ctx    context.Context
	cancel context.CancelFunc

	tasks     chan func()
	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}

	server *http.Server

	// sess is only accessed from the task loop.
	sess session
}

// New creates a connector. Call Start to run it.
func New(cfg *Config, tr transport.Transport, store credstore.Store, notifier Notifier, log zerolog.Logger) *WhatsAppConnector {
	ctx, cancel := context.WithCancel(context.Background())
	return &WhatsAppConnector{
		Config:    cfg,
		transport: tr,
		store:     store,
		notifier:  notifier,
		log:       log.With().Str("component", "wa_connector").Logger(),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(chan func(), taskQueueSize),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the task loop, starts the control API if a listen address is
// configured and connects if auto_connect is enabled.
func (wc *WhatsAppConnector) Start(ctx context.Context) error {
	wc.startOnce.Do(func() {
		go wc.loop()
	})

	if addr := wc.Config.ListenAddr; addr != "" {
		wc.server = &http.Server{
			Addr:         addr,
			Handler:      wc.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			wc.log.Info().Str("addr", addr).Msg("Starting control API")
			if err := wc.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				wc.log.Error().Err(err).Msg("Control API error")
			}
		}()
	}

	if wc.Config.AutoConnect {
		if _, err := wc.Connect(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop closes the current connection without logging out, cancels pending
// retries and stops the task loop. Stored credentials are kept.
func (wc *WhatsAppConnector) Stop() {
	wc.stopOnce.Do(func() {
		if wc.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := wc.server.Shutdown(ctx); err != nil {
				wc.log.Warn().Err(err).Msg("Failed to shut down control API")
			}
			cancel()
		}
		close(wc.stopChan)
		wc.cancel()
	})
}

// Done is closed when the task loop has exited.
func (wc *WhatsAppConnector) Done() <-chan struct{} {
	return wc.done
}

func (wc *WhatsAppConnector) loop() {
	defer close(wc.done)
	for {
		select {
		case task := <-wc.tasks:
			wc.run(task)
		case <-wc.stopChan:
			wc.shutdown()
			return
		}
	}
}

// run executes one task. A panicking task is logged and the loop continues.
func (wc *WhatsAppConnector) run(task func()) {
	defer func() {
		if err := recover(); err != nil {
			wc.log.Error().
				Interface("panic", err).
				Bytes("stack", debug.Stack()).
				Msg("Panic in session task")
		}
	}()
	task()
}

func (wc *WhatsAppConnector) shutdown() {
	wc.cancelRetry()
	if client := wc.sess.client; client != nil {
		client.close()
		wc.sess.client = nil
	}
	wc.sess.dialing = false
	wc.log.Info().Msg("Session loop stopped")
}

// post queues a task. It returns false if the connector has been stopped.
func (wc *WhatsAppConnector) post(task func()) bool {
	select {
	case <-wc.stopChan:
		return false
	default:
	}
	select {
	case wc.tasks <- task:
		return true
	case <-wc.stopChan:
		return false
	}
}

// call runs fn on the task loop and waits for it to finish.
func (wc *WhatsAppConnector) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !wc.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-wc.stopChan:
		return ErrStopped
	}
}

// Status returns a consistent copy of the session.
func (wc *WhatsAppConnector) Status(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := wc.call(ctx, func() {
		snap = wc.sess.snapshot()
	})
	return snap, err
}

// Connect starts a connection attempt if the session is idle. It returns the
// state the session was in; calling it while a session is active, pairing,
// dialing or waiting to retry does nothing.
func (wc *WhatsAppConnector) Connect(ctx context.Context) (State, error) {
	var state State
	err := wc.call(ctx, func() {
		state = wc.sess.state
		if state != StateDisconnected || wc.sess.client != nil {
			wc.log.Debug().Stringer("state", state).Msg("Session already active, ignoring connect")
			return
		}
		wc.startAttempt()
	})
	return state, err
}

// Disconnect logs out of the network and forgets the stored credentials. A
// pending retry is cancelled. It does nothing when the session is idle.
func (wc *WhatsAppConnector) Disconnect(ctx context.Context) error {
	var conn transport.Conn
	var wasConnected, idle bool
	err := wc.call(ctx, func() {
		if wc.sess.idle() {
			idle = true
			return
		}
		wc.cancelRetry()
		prev := wc.sess.state
		wasConnected = prev == StateConnected
		if client := wc.sess.client; client != nil {
			conn = client.conn
			// Opened arrived before the dial returned; attach logs the device out.
			client.logoutOnAttach = wasConnected && conn == nil
			client.cancel()
			wc.sess.client = nil
		}
		wc.sess.dialing = false
		wc.sess.identity = nil
		wc.sess.pairingCode = ""
		wc.sess.lastError = ""
		wc.sess.reconnectAttempts = 0
		wc.deleteCredentials()
		wc.setState(StateDisconnected)
		if prev != StateDisconnected {
			wc.notify(relay.Disconnected{Reason: "logout"})
		}
	})
	if err != nil || idle {
		return err
	}

	if conn == nil {
		return nil
	}
	if !wasConnected {
		_ = conn.Close()
		return nil
	}
	wc.logout(ctx, conn)
	return nil
}

func (wc *WhatsAppConnector) logout(ctx context.Context, conn transport.Conn) {
	if err := conn.Logout(ctx); err != nil {
		wc.log.Warn().Err(err).Msg("Logout failed, closing connection")
		_ = conn.Close()
	}
	wc.log.Info().Msg("Logged out")
}

// startAttempt begins a new transport attempt. The dial runs off the loop;
// its result comes back as an attach task.
func (wc *WhatsAppConnector) startAttempt() {
	wc.sess.attempt++
	client := newWhatsAppClient(wc, wc.sess.attempt)
	wc.sess.client = client
	wc.sess.dialing = true
	client.log.Info().Msg("Starting connection attempt")
	go client.dial()
}

// attach records the result of a dial.
func (wc *WhatsAppConnector) attach(client *WhatsAppClient, conn transport.Conn, err error) {
	if !wc.isCurrent(client) {
		switch {
		case conn == nil:
		case client.logoutOnAttach:
			client.log.Debug().Msg("Logging out connection of disconnected attempt")
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
				defer cancel()
				wc.logout(ctx, conn)
			}()
		default:
			client.log.Debug().Msg("Closing connection of superseded attempt")
			_ = conn.Close()
		}
		return
	}
	wc.sess.dialing = false
	if err != nil {
		wc.sess.client = nil
		wc.handleSetupError(client, err)
		return
	}
	client.conn = conn
}

func (wc *WhatsAppConnector) isCurrent(client *WhatsAppClient) bool {
	return wc.sess.client != nil && wc.sess.client.generation == client.generation
}

func (wc *WhatsAppConnector) handleSetupError(client *WhatsAppClient, err error) {
	client.log.Err(err).Msg("Failed to set up connection")
	wc.sess.identity = nil
	wc.sess.pairingCode = ""
	wc.sess.lastError = err.Error()
	wc.sess.reconnectAttempts++
	wc.setState(StateError)
	wc.notify(relay.Error{Error: err.Error()})

	delay := NextBackoffDelay(wc.Config.errorBackoff(), wc.sess.reconnectAttempts)
	wc.scheduleRetry(delay, "setup_error", func() {
		wc.setState(StateReconnecting)
		wc.startAttempt()
	})
}

// scheduleRetry replaces any pending retry with fn after delay. fn runs on
// the task loop.
func (wc *WhatsAppConnector) scheduleRetry(delay time.Duration, cause string, fn func()) {
	wc.cancelRetry()
	wc.sess.timerSeq++
	seq := wc.sess.timerSeq
	wc.sess.reconnectTimer = wc.afterFunc(delay, func() {
		wc.post(func() {
			if wc.sess.reconnectTimer == nil || wc.sess.timerSeq != seq {
				return
			}
			wc.sess.reconnectTimer = nil
			fn()
		})
	})
	recordRetry(cause)
	wc.log.Info().
		Dur("delay", delay).
		Str("cause", cause).
		Int("consecutive_failures", wc.sess.reconnectAttempts).
		Msg("Scheduled reconnect")
}

func (wc *WhatsAppConnector) cancelRetry() {
	if t := wc.sess.reconnectTimer; t != nil {
		t.Stop()
		wc.sess.reconnectTimer = nil
		wc.log.Debug().Msg("Cancelled pending reconnect")
	}
}

func (wc *WhatsAppConnector) setState(state State) {
	prev := wc.sess.state
	wc.sess.state = state
	if prev == state {
		return
	}
	recordTransition(state)
	wc.log.Info().
		Stringer("from", prev).
		Stringer("to", state).
		Uint64("attempt", wc.sess.attempt).
		Msg("Session state changed")
}

func (wc *WhatsAppConnector) notify(payload relay.Payload) {
	if wc.notifier == nil {
		return
	}
	wc.notifier.Notify(payload)
}

// loadCredentials is called once per attempt, off the loop.
func (wc *WhatsAppConnector) loadCredentials(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return wc.store.Load(ctx)
}

func (wc *WhatsAppConnector) saveCredentials(data []byte) {
	ctx, cancel := context.WithTimeout(wc.ctx, storeTimeout)
	defer cancel()
	if err := wc.store.Save(ctx, data); err != nil {
		wc.log.Err(err).Msg("Failed to persist credentials")
		return
	}
	wc.log.Debug().Int("size", len(data)).Msg("Persisted credentials")
}

func (wc *WhatsAppConnector) deleteCredentials() {
	ctx, cancel := context.WithTimeout(wc.ctx, storeTimeout)
	defer cancel()
	if err := wc.store.Delete(ctx); err != nil {
		wc.log.Err(err).Msg("Failed to delete credentials")
		return
	}
	wc.log.Info().Msg("Deleted stored credentials")
}
