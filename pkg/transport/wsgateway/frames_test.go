// Copyright 2024-2026 Aiku AI

package wsgateway

import (
	"errors"
	"testing"

	"github.com/aiku/wabridge/pkg/transport"
)

func TestDecodeFrame_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{"type":`},
		{"array", `[1,2]`},
		{"missing type", `{"code":"x"}`},
		{"unknown type", `{"type":"receipt"}`},
		{"qr without code", `{"type":"qr"}`},
		{"open without user", `{"type":"open","user":{}}`},
		{"creds without data", `{"type":"creds"}`},
		{"creds not base64", `{"type":"creds","data":"***"}`},
		{"creds number", `{"type":"creds","data":12}`},
		{"message without from", `{"type":"message","text":"hi"}`},
		{"result without id", `{"type":"result","ok":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			evt, res, err := decodeFrame([]byte(tt.frame))
			if !errors.Is(err, errBadFrame) {
				t.Fatalf("expected errBadFrame, got evt=%#v res=%#v err=%v", evt, res, err)
			}
		})
	}
}

func TestDecodeFrame_CloseDefaults(t *testing.T) {
	t.Parallel()
	evt, _, err := decodeFrame([]byte(`{"type":"close"}`))
	if err != nil {
		t.Fatal(err)
	}
	closed, ok := evt.(transport.Closed)
	if !ok || closed.Reason != transport.CloseConnectionClosed || closed.IsLoggedOut() {
		t.Fatalf("got %#v", evt)
	}
}

func TestDecodeFrame_Result(t *testing.T) {
	t.Parallel()
	evt, res, err := decodeFrame([]byte(`{"type":"result","id":"r1","ok":false,"error":"no such user"}`))
	if err != nil {
		t.Fatal(err)
	}
	if evt != nil {
		t.Fatalf("result frame produced an event: %#v", evt)
	}
	if res.ID != "r1" || res.OK || res.Error != "no such user" {
		t.Fatalf("got %#v", res)
	}
}

func TestDecodeFrame_MessageWithoutTimestamp(t *testing.T) {
	t.Parallel()
	evt, _, err := decodeFrame([]byte(`{"type":"message","from":"1@s.whatsapp.net","from_me":true,"text":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	msg := evt.(transport.MessageReceived)
	if !msg.FromMe {
		t.Error("from_me not decoded")
	}
	if msg.Time.IsZero() {
		t.Error("missing timestamp should default to receipt time")
	}
}

func FuzzDecodeFrame(f *testing.F) {
	f.Add([]byte(`{"type":"qr","code":"2@x"}`))
	f.Add([]byte(`{"type":"open","user":{"id":"1:1@s.whatsapp.net"}}`))
	f.Add([]byte(`{"type":"close","reason":"loggedOut"}`))
	f.Add([]byte(`{"type":"creds","data":"e30="}`))
	f.Add([]byte(`{"type":"message","from":"1@s.whatsapp.net","text":"hi","timestamp":1}`))
	f.Add([]byte(`{"type":"result","id":"r","ok":true}`))
	f.Add([]byte(``))
	f.Add([]byte{0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		evt, res, err := decodeFrame(data)
		if err != nil {
			if evt != nil || res != nil {
				t.Fatalf("error with non-nil output: %#v %#v", evt, res)
			}
			return
		}
		// Exactly one of event or result.
		if (evt == nil) == (res == nil) {
			t.Fatalf("expected exactly one of event/result, got %#v %#v", evt, res)
		}
	})
}
