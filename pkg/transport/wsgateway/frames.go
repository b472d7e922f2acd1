// Copyright 2024-2026 Aiku AI

package wsgateway

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/aiku/wabridge/pkg/transport"
)

var errBadFrame = errors.New("wsgateway: bad frame")

// Frame types sent by the gateway.
const (
	frameQR      = "qr"
	frameOpen    = "open"
	frameClose   = "close"
	frameCreds   = "creds"
	frameMessage = "message"
	frameResult  = "result"
)

// Frame types sent to the gateway.
const (
	frameHello    = "hello"
	frameSend     = "send"
	framePresence = "presence"
	frameLogout   = "logout"
)

type helloFrame struct {
	Type        string   `json:"type"`
	Credentials []byte   `json:"credentials,omitempty"`
	Browser     []string `json:"browser,omitempty"`
}

type sendFrame struct {
	Type string `json:"type"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type presenceFrame struct {
	Type  string             `json:"type"`
	To    string             `json:"to"`
	State transport.Presence `json:"state"`
}

type logoutFrame struct {
	Type string `json:"type"`
}

// result is the gateway's reply to a command frame.
type result struct {
	ID        string
	OK        bool
	MessageID string
	Error     string
}

// decodeFrame validates one gateway frame and maps it onto the typed event
// set. Command replies are returned as a result instead of an event.
func decodeFrame(data []byte) (transport.Event, *result, error) {
	if !gjson.ValidBytes(data) {
		return nil, nil, fmt.Errorf("%w: invalid JSON", errBadFrame)
	}
	frame := gjson.ParseBytes(data)
	if !frame.IsObject() {
		return nil, nil, fmt.Errorf("%w: not an object", errBadFrame)
	}

	switch typ := frame.Get("type").String(); typ {
	case frameQR:
		code := frame.Get("code").String()
		if code == "" {
			return nil, nil, fmt.Errorf("%w: qr frame without code", errBadFrame)
		}
		return transport.PairingCode{Code: code}, nil, nil

	case frameOpen:
		userID := frame.Get("user.id").String()
		if userID == "" {
			return nil, nil, fmt.Errorf("%w: open frame without user.id", errBadFrame)
		}
		return transport.Opened{User: transport.User{
			ID:   userID,
			Name: frame.Get("user.name").String(),
		}}, nil, nil

	case frameClose:
		reason := transport.CloseReason(frame.Get("reason").String())
		if reason == "" {
			reason = transport.CloseConnectionClosed
		}
		return transport.Closed{Reason: reason, Err: frame.Get("error").String()}, nil, nil

	case frameCreds:
		raw := frame.Get("data")
		if raw.Type != gjson.String || raw.String() == "" {
			return nil, nil, fmt.Errorf("%w: creds frame without data", errBadFrame)
		}
		blob, err := base64.StdEncoding.DecodeString(raw.String())
		if err != nil {
			return nil, nil, fmt.Errorf("%w: creds data is not base64: %v", errBadFrame, err)
		}
		return transport.CredentialsUpdated{Data: blob}, nil, nil

	case frameMessage:
		from := frame.Get("from").String()
		if from == "" {
			return nil, nil, fmt.Errorf("%w: message frame without from", errBadFrame)
		}
		ts := time.Now()
		if sec := frame.Get("timestamp").Int(); sec > 0 {
			ts = time.Unix(sec, 0)
		}
		return transport.MessageReceived{
			ID:       frame.Get("id").String(),
			From:     from,
			FromMe:   frame.Get("from_me").Bool(),
			PushName: frame.Get("push_name").String(),
			Text:     frame.Get("text").String(),
			Time:     ts,
		}, nil, nil

	case frameResult:
		id := frame.Get("id").String()
		if id == "" {
			return nil, nil, fmt.Errorf("%w: result frame without id", errBadFrame)
		}
		return nil, &result{
			ID:        id,
			OK:        frame.Get("ok").Bool(),
			MessageID: frame.Get("message_id").String(),
			Error:     frame.Get("error").String(),
		}, nil

	case "":
		return nil, nil, fmt.Errorf("%w: missing type", errBadFrame)
	default:
		return nil, nil, fmt.Errorf("%w: unknown type %q", errBadFrame, typ)
	}
}
