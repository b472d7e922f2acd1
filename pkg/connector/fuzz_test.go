// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"strings"
	"testing"
	"time"
)

// FuzzMakeJID checks that every non-empty result is either the input itself
// or a digits-only user address.
func FuzzMakeJID(f *testing.F) {
	f.Add("5511999999999")
	f.Add("+55 (11) 99999-9999")
	f.Add("120363000000000000@g.us")
	f.Add("@")
	f.Add("")
	f.Add("١٢٣") // non-ASCII digits
	f.Add(string([]byte{0x00, '1'}))

	f.Fuzz(func(t *testing.T, phone string) {
		jid := MakeJID(phone)
		if jid == "" {
			if strings.Contains(phone, "@") {
				t.Fatalf("address %q was rejected", phone)
			}
			return
		}
		if strings.Contains(phone, "@") {
			if jid != phone {
				t.Fatalf("address %q was rewritten to %q", phone, jid)
			}
			return
		}
		user, server, ok := strings.Cut(jid, "@")
		if !ok || server != UserServer || user == "" {
			t.Fatalf("MakeJID(%q) = %q", phone, jid)
		}
		for _, r := range user {
			if r < '0' || r > '9' {
				t.Fatalf("MakeJID(%q) kept non-digit %q", phone, r)
			}
		}
		if MakeJID(jid) != jid {
			t.Fatalf("MakeJID is not idempotent on %q", jid)
		}
	})
}

// FuzzParsePhone checks that user addresses lose their server and device part
// and that every other address comes back unchanged.
func FuzzParsePhone(f *testing.F) {
	f.Add("5511999999999:1@s.whatsapp.net")
	f.Add("5511999999999@s.whatsapp.net")
	f.Add("120363000000000000@g.us")
	f.Add(":@")
	f.Add("")

	f.Fuzz(func(t *testing.T, jid string) {
		phone := ParsePhone(jid)
		if _, server, ok := strings.Cut(jid, "@"); ok && server != UserServer {
			if phone != jid {
				t.Fatalf("ParsePhone(%q) = %q, want it unchanged", jid, phone)
			}
			return
		}
		if strings.ContainsAny(phone, "@:") {
			t.Fatalf("ParsePhone(%q) = %q", jid, phone)
		}
		if !strings.HasPrefix(jid, phone) {
			t.Fatalf("ParsePhone(%q) = %q is not a prefix", jid, phone)
		}
	})
}

// FuzzFormatContactName runs arbitrary templates and params. Rendering must
// never panic, and a template that fails to parse must be rejected.
func FuzzFormatContactName(f *testing.F) {
	f.Add("{{.PushName}}", "Bob", "5511888888888")
	f.Add("{{or .PushName .Phone}}", "", "1")
	f.Add("{{.Missing}}", "x", "y")
	f.Add("{{", "", "")
	f.Add("plain", "<script>", "\x00")

	f.Fuzz(func(t *testing.T, tmpl, pushName, phone string) {
		cfg := &Config{ContactNameTemplate: tmpl}
		if err := cfg.PostProcess(); err != nil {
			return
		}
		_ = cfg.FormatContactName(ContactNameParams{PushName: pushName, Phone: phone})
	})
}

// FuzzNextBackoffDelay checks the delay bounds for arbitrary settings.
func FuzzNextBackoffDelay(f *testing.F) {
	f.Add(int64(time.Second), 2.0, int64(time.Minute), 5)
	f.Add(int64(3*time.Second), 1.0, int64(0), 100)
	f.Add(int64(1), 1e308, int64(0), 1000)
	f.Add(int64(-1), 0.5, int64(-1), -3)

	f.Fuzz(func(t *testing.T, initial int64, multiplier float64, maxDelay int64, attempt int) {
		cfg := BackoffConfig{
			InitialDelay: time.Duration(initial),
			Multiplier:   multiplier,
			MaxDelay:     time.Duration(maxDelay),
		}
		got := NextBackoffDelay(cfg, attempt)
		if got < 0 {
			t.Fatalf("negative delay %v for %+v attempt %d", got, cfg, attempt)
		}
		if cfg.InitialDelay > 0 && got < cfg.InitialDelay && (cfg.MaxDelay <= 0 || cfg.MaxDelay >= cfg.InitialDelay) {
			t.Fatalf("delay %v below initial %v", got, cfg.InitialDelay)
		}
		if attempt > 1 && cfg.InitialDelay > 0 && cfg.MaxDelay > 0 && got > cfg.MaxDelay {
			t.Fatalf("delay %v above max %v", got, cfg.MaxDelay)
		}
	})
}
