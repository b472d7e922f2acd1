// Copyright 2024-2026 Aiku AI

package connector

import (
	"go.mau.fi/util/jsontime"
	"maunium.net/go/mautrix/bridgev2/status"
)

// Bridge state error codes reported alongside non-connected states.
const (
	errCodeSetupFailed status.BridgeStateErrorCode = "wa-setup-failed"
	errCodeLoggedOut   status.BridgeStateErrorCode = "wa-logged-out"
	errCodeReconnect   status.BridgeStateErrorCode = "wa-reconnecting"
)

// BridgeState maps the snapshot onto the bridge status model used by
// mautrix bridges, so dashboards built for those can read this bridge too.
func (s Snapshot) BridgeState() status.BridgeState {
	bs := status.BridgeState{
		Timestamp: jsontime.UnixNow(),
		Source:    "bridge",
		Info: map[string]any{
			"status": s.State.String(),
		},
	}
	switch s.State {
	case StateConnected:
		bs.StateEvent = status.StateConnected
	case StatePairingPending:
		bs.StateEvent = status.StateConnecting
		bs.Message = "Waiting for the pairing code to be scanned"
	case StateReconnecting:
		bs.StateEvent = status.StateTransientDisconnect
		bs.Error = errCodeReconnect
		bs.Info["consecutive_failures"] = s.ReconnectAttempts
	case StateError:
		bs.StateEvent = status.StateUnknownError
		bs.Error = errCodeSetupFailed
		bs.Message = s.LastError
		bs.Info["consecutive_failures"] = s.ReconnectAttempts
	default:
		if s.Connecting {
			bs.StateEvent = status.StateConnecting
		} else {
			bs.StateEvent = status.StateLoggedOut
		}
		if s.LastError == ErrAuthRevoked.Error() {
			bs.Error = errCodeLoggedOut
			bs.Message = s.LastError
		}
	}
	if s.Identity != nil {
		bs.RemoteName = s.Identity.Phone
	}
	return bs
}
