// Copyright 2024-2026 Aiku AI

// Package relay delivers best-effort webhook notifications to the backend.
//
// Notifications are queued without blocking the caller and posted one at a
// time by a single worker, so the backend sees them in the order they were
// raised. Delivery is at-most-once: failures are logged and counted, never
// retried. A full queue drops the new notification.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrDeliveryFailed wraps every failed webhook POST.
var ErrDeliveryFailed = errors.New("relay: delivery failed")

// Kind identifies a notification type.
type Kind string

const (
	KindPairingReady          Kind = "pairing-ready"
	KindConnected             Kind = "connected"
	KindDisconnected          Kind = "disconnected"
	KindMessageReceived       Kind = "message-received"
	KindError                 Kind = "error"
	KindHumanResponseDetected Kind = "human-response-detected"
)

// DefaultPaths maps each kind to its backend path.
var DefaultPaths = map[Kind]string{
	KindPairingReady:          "/webhook/qr-ready",
	KindConnected:             "/webhook/connected",
	KindDisconnected:          "/webhook/disconnected",
	KindMessageReceived:       "/webhook/message-received",
	KindError:                 "/webhook/error",
	KindHumanResponseDetected: "/webhook/human-response-detected",
}

const (
	DefaultQueueSize = 256
	DefaultTimeout   = 3 * time.Second
)

// Config configures the relay.
type Config struct {
	// BaseURL is the backend root, e.g. http://localhost:5000. An empty
	// BaseURL disables delivery.
	BaseURL string `yaml:"base_url"`
	// Paths overrides the per-kind path. Kinds without an entry use DefaultPaths.
	Paths map[Kind]string `yaml:"paths"`
	// Timeout is the per-request timeout in seconds.
	Timeout   int `yaml:"timeout"`
	QueueSize int `yaml:"queue_size"`
	// Secret enables signed deliveries (see signer.go).
	Secret string `yaml:"secret"`
}

// Notification is one queued webhook call.
type Notification struct {
	ID      string
	Kind    Kind
	Payload Payload
	Queued  time.Time
}

// Stats are cumulative delivery counters.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// Relay posts notifications to the backend.
type Relay struct {
	baseURL string
	paths   map[Kind]string
	timeout time.Duration
	signer  *signer
	client  *http.Client
	log     zerolog.Logger

	queue    chan Notification
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a relay. Call Start to begin delivering.
func New(cfg Config, log zerolog.Logger) *Relay {
	paths := make(map[Kind]string, len(DefaultPaths))
	for kind, path := range DefaultPaths {
		paths[kind] = path
	}
	for kind, path := range cfg.Paths {
		if path != "" {
			paths[kind] = path
		}
	}
	timeout := DefaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Relay{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		paths:    paths,
		timeout:  timeout,
		client:   &http.Client{},
		log:      log.With().Str("component", "relay").Logger(),
		queue:    make(chan Notification, queueSize),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cfg.Secret != "" {
		r.signer = newSigner(cfg.Secret)
	}
	return r
}

// Start runs the delivery worker until Stop is called.
func (r *Relay) Start() {
	go r.worker()
}

// Stop stops the worker. Queued notifications that have not been sent yet are
// discarded. Safe to call twice.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
}

// Done is closed when the worker has exited.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}

// Notify queues a notification and returns immediately.
func (r *Relay) Notify(payload Payload) {
	kind := payload.Kind()
	if r.baseURL == "" {
		r.log.Trace().Str("kind", string(kind)).Msg("No webhook base URL configured, skipping notification")
		return
	}
	n := Notification{
		ID:      uuid.NewString(),
		Kind:    kind,
		Payload: payload,
		Queued:  time.Now(),
	}
	select {
	case r.queue <- n:
	default:
		r.dropped.Add(1)
		recordRelay(kind, outcomeDropped)
		r.log.Warn().
			Str("kind", string(kind)).
			Str("delivery_id", n.ID).
			Msg("Relay queue full, dropping notification")
	}
}

// Stats returns a snapshot of the delivery counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Sent:    r.sent.Load(),
		Failed:  r.failed.Load(),
		Dropped: r.dropped.Load(),
	}
}

func (r *Relay) worker() {
	defer close(r.done)
	for {
		select {
		case <-r.stopChan:
			return
		case n := <-r.queue:
			if err := r.deliver(n); err != nil {
				r.failed.Add(1)
				recordRelay(n.Kind, outcomeFailed)
				r.log.Warn().Err(err).
					Str("kind", string(n.Kind)).
					Str("delivery_id", n.ID).
					Msg("Failed to deliver notification")
			} else {
				r.sent.Add(1)
				recordRelay(n.Kind, outcomeSent)
			}
		}
	}
}

// maxErrorBody caps how much of an error response is kept for logging.
const maxErrorBody = 512

func (r *Relay) deliver(n Notification) error {
	path, ok := r.paths[n.Kind]
	if !ok {
		return fmt.Errorf("%w: no path for kind %q", ErrDeliveryFailed, n.Kind)
	}
	body, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal payload: %v", ErrDeliveryFailed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wabridge-Event", string(n.Kind))
	req.Header.Set("X-Wabridge-Delivery", n.ID)
	if r.signer != nil {
		token, err := r.signer.sign(n)
		if err != nil {
			return fmt.Errorf("%w: failed to sign: %v", ErrDeliveryFailed, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s returned HTTP %d: %s", ErrDeliveryFailed, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	r.log.Debug().
		Str("kind", string(n.Kind)).
		Str("delivery_id", n.ID).
		Dur("queued_for", time.Since(n.Queued)).
		Msg("Delivered notification")
	return nil
}
