// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/wabridge/pkg/credstore"
	"github.com/aiku/wabridge/pkg/relay"
	"github.com/aiku/wabridge/pkg/transport"
)

// mockNotifier captures queued notifications for test assertions.
type mockNotifier struct {
	mu       sync.Mutex
	payloads []relay.Payload
}

func (m *mockNotifier) Notify(payload relay.Payload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
}

func (m *mockNotifier) Payloads() []relay.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]relay.Payload, len(m.payloads))
	copy(cp, m.payloads)
	return cp
}

func (m *mockNotifier) OfKind(kind relay.Kind) []relay.Payload {
	var out []relay.Payload
	for _, p := range m.Payloads() {
		if p.Kind() == kind {
			out = append(out, p)
		}
	}
	return out
}

func (m *mockNotifier) Kinds() []relay.Kind {
	var out []relay.Kind
	for _, p := range m.Payloads() {
		out = append(out, p.Kind())
	}
	return out
}

func (m *mockNotifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = nil
}

// statsNotifier is a mockNotifier that also reports relay counters.
type statsNotifier struct {
	mockNotifier
	stats relay.Stats
}

func (s *statsNotifier) Stats() relay.Stats {
	return s.stats
}

// sentText records one SendText call.
type sentText struct {
	To   string
	Text string
}

// sentPresence records one SendPresence call.
type sentPresence struct {
	To       string
	Presence transport.Presence
}

// fakeConn is a transport.Conn that records commands and lets tests emit
// events through the handler it was dialed with.
type fakeConn struct {
	handler transport.Handler

	mu        sync.Mutex
	sent      []sentText
	presences []sentPresence
	logouts   int
	closes    int
	// SendErr is returned by SendText and SendPresence when set.
	SendErr error
}

func (c *fakeConn) Emit(evt transport.Event) {
	c.handler(evt)
}

func (c *fakeConn) SendText(_ context.Context, to, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.sent = append(c.sent, sentText{To: to, Text: text})
	return fmt.Sprintf("3EB0%04d", len(c.sent)), nil
}

func (c *fakeConn) SendPresence(_ context.Context, to string, presence transport.Presence) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.presences = append(c.presences, sentPresence{To: to, Presence: presence})
	return nil
}

func (c *fakeConn) Logout(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) Sent() []sentText {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]sentText, len(c.sent))
	copy(cp, c.sent)
	return cp
}

func (c *fakeConn) Presences() []sentPresence {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]sentPresence, len(c.presences))
	copy(cp, c.presences)
	return cp
}

func (c *fakeConn) Logouts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logouts
}

func (c *fakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// dialResult is one call to fakeTransport.Connect.
type dialResult struct {
	Creds []byte
	Conn  *fakeConn
	Err   error
}

// fakeTransport hands out fakeConns and reports every dial on Dials.
type fakeTransport struct {
	mu   sync.Mutex
	errs []error

	Dials chan dialResult
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{Dials: make(chan dialResult, 16)}
}

// FailNext makes the next dials fail with the given errors, in order.
func (f *fakeTransport) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

func (f *fakeTransport) Connect(_ context.Context, creds []byte, handler transport.Handler) (transport.Conn, error) {
	f.mu.Lock()
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	f.mu.Unlock()

	if err != nil {
		f.Dials <- dialResult{Creds: creds, Err: err}
		return nil, err
	}
	conn := &fakeConn{handler: handler}
	f.Dials <- dialResult{Creds: creds, Conn: conn}
	return conn, nil
}

func (f *fakeTransport) waitDial(t *testing.T) dialResult {
	t.Helper()
	select {
	case d := <-f.Dials:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a dial")
		return dialResult{}
	}
}

func (f *fakeTransport) assertNoDial(t *testing.T) {
	t.Helper()
	select {
	case d := <-f.Dials:
		t.Fatalf("unexpected dial: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeTimer is a retry timer that only fires when the test says so.
type fakeTimer struct {
	Delay time.Duration
	fn    func()

	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (ft *fakeTimer) Stop() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	active := !ft.stopped && !ft.fired
	ft.stopped = true
	return active
}

func (ft *fakeTimer) Stopped() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.stopped
}

// Fire runs the timer callback, even if the timer was stopped, so tests can
// check that stale callbacks are ignored.
func (ft *fakeTimer) Fire() {
	ft.mu.Lock()
	ft.fired = true
	ft.mu.Unlock()
	ft.fn()
}

// fakeScheduler replaces time.AfterFunc in tests.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, fn func()) stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	ft := &fakeTimer{Delay: d, fn: fn}
	s.timers = append(s.timers, ft)
	return ft
}

func (s *fakeScheduler) Timers() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]*fakeTimer, len(s.timers))
	copy(cp, s.timers)
	return cp
}

// Pending returns the timers that were neither stopped nor fired.
func (s *fakeScheduler) Pending() []*fakeTimer {
	var out []*fakeTimer
	for _, ft := range s.Timers() {
		ft.mu.Lock()
		if !ft.stopped && !ft.fired {
			out = append(out, ft)
		}
		ft.mu.Unlock()
	}
	return out
}

// testEnv bundles a running connector with its fakes.
type testEnv struct {
	WC        *WhatsAppConnector
	Transport *fakeTransport
	Notifier  *mockNotifier
	Sched     *fakeScheduler
	Store     credstore.Store
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{
		ReconnectDelay:      3,
		ErrorRetryDelay:     5,
		BackoffMultiplier:   1,
		ContactNameTemplate: "{{.PushName}}",
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	// No listener in unit tests; the API is served through httptest.
	cfg.ListenAddr = ""
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig(t)
	for _, fn := range mutate {
		fn(cfg)
	}
	return newTestEnvWithStore(t, cfg, newFileStore(t), &mockNotifier{})
}

func newFileStore(t *testing.T) *credstore.FileStore {
	t.Helper()
	return credstore.NewFileStore(filepath.Join(t.TempDir(), "creds.json"))
}

func newTestEnvWithStore(t *testing.T, cfg *Config, store credstore.Store, notifier Notifier) *testEnv {
	t.Helper()
	tr := newFakeTransport()
	sched := &fakeScheduler{}
	wc := New(cfg, tr, store, notifier, zerolog.Nop())
	wc.afterFunc = sched.AfterFunc
	if err := wc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		wc.Stop()
		<-wc.Done()
	})
	env := &testEnv{WC: wc, Transport: tr, Sched: sched, Store: store}
	switch n := notifier.(type) {
	case *mockNotifier:
		env.Notifier = n
	case *statsNotifier:
		env.Notifier = &n.mockNotifier
	}
	return env
}

// status returns a snapshot. Because tasks run in order, it also acts as a
// barrier for every event emitted before it.
func (e *testEnv) status(t *testing.T) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := e.WC.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	checkInvariants(t, snap)
	return snap
}

// waitStatus polls until cond holds.
func (e *testEnv) waitStatus(t *testing.T, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap := e.status(t)
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("status condition not met, last: %+v", snap)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// connect calls Connect and returns the resulting dial once it is attached.
func (e *testEnv) connect(t *testing.T) dialResult {
	t.Helper()
	if _, err := e.WC.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	d := e.Transport.waitDial(t)
	e.waitStatus(t, func(s Snapshot) bool { return !s.Connecting })
	return d
}

// connected drives a fresh session to Connected as 5511999999999.
func (e *testEnv) connected(t *testing.T) *fakeConn {
	t.Helper()
	d := e.connect(t)
	if d.Err != nil {
		t.Fatalf("dial failed: %v", d.Err)
	}
	d.Conn.Emit(transport.Opened{User: transport.User{ID: "5511999999999:1@s.whatsapp.net", Name: "Ana"}})
	if snap := e.status(t); snap.State != StateConnected {
		t.Fatalf("expected connected, got %v", snap.State)
	}
	return d.Conn
}

func (e *testEnv) storedCredentials(t *testing.T) []byte {
	t.Helper()
	data, err := e.Store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return data
}

// checkInvariants asserts the relations that must hold in every snapshot.
func checkInvariants(t *testing.T, snap Snapshot) {
	t.Helper()
	if (snap.PairingCode != "") != (snap.State == StatePairingPending) {
		t.Errorf("pairing code %q present in state %v", snap.PairingCode, snap.State)
	}
	if snap.Identity != nil && snap.State != StateConnected {
		t.Errorf("identity %+v present in state %v", snap.Identity, snap.State)
	}
}

var errDialRefused = errors.New("dial tcp: connection refused")
