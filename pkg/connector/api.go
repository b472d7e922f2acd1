// Copyright 2024-2026 Aiku AI

package connector

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/exhttp"
	"maunium.net/go/mautrix/bridgev2/status"

	"github.com/aiku/wabridge/pkg/connector/qrfmt"
	"github.com/aiku/wabridge/pkg/relay"
)

// maxBodySize is the maximum allowed request body for control API calls (1 MB).
const maxBodySize = 1 << 20

// statsProvider is implemented by notifiers that keep delivery counters.
type statsProvider interface {
	Stats() relay.Stats
}

type statusResponse struct {
	Connected   bool               `json:"connected"`
	Status      string             `json:"status"`
	QRAvailable bool               `json:"qr_available"`
	User        *Identity          `json:"user"`
	LastError   string             `json:"last_error,omitempty"`
	BridgeState status.BridgeState `json:"bridge_state"`
	Relay       *relay.Stats       `json:"relay,omitempty"`
}

type qrResponse struct {
	Success bool   `json:"success"`
	QRCode  string `json:"qr_code,omitempty"`
	QRImage string `json:"qr_image,omitempty"`
	Message string `json:"message,omitempty"`
}

type commandResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type sendMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
	// Text is accepted as an alias of Message.
	Text string `json:"text"`
}

type setTypingRequest struct {
	Phone  string `json:"phone"`
	Typing *bool  `json:"typing"`
}

// Handler returns the control API: status, pairing code, message sending,
// typing indicators, connect/disconnect and Prometheus metrics.
func (wc *WhatsAppConnector) Handler() http.Handler {
	RegisterMetrics()
	relay.RegisterMetrics()

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/").Subrouter()
	api.Use(wc.requireToken)
	api.HandleFunc("/status", wc.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/qr", wc.HandleQR).Methods(http.MethodGet)
	api.HandleFunc("/send-message", wc.HandleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/set-typing", wc.HandleSetTyping).Methods(http.MethodPost)
	api.HandleFunc("/connect", wc.HandleConnect).Methods(http.MethodPost)
	api.HandleFunc("/disconnect", wc.HandleDisconnect).Methods(http.MethodPost)

	log := wc.log.With().Str("component", "control_api").Logger()
	var handler http.Handler = router
	handler = hlog.RequestIDHandler("req_id", "X-Request-Id")(handler)
	handler = hlog.AccessHandler(func(r *http.Request, code, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", code).
			Int("size", size).
			Dur("duration", duration).
			Msg("Handled request")
	})(handler)
	return hlog.NewHandler(log)(handler)
}

func (wc *WhatsAppConnector) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wc.Config.APIToken != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(wc.Config.APIToken)) != 1 {
				exhttp.WriteJSONResponse(w, http.StatusUnauthorized, commandResponse{Error: "invalid or missing token"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HandleStatus is an HTTP handler for GET /status.
func (wc *WhatsAppConnector) HandleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := wc.Status(r.Context())
	if err != nil {
		wc.writeError(w, r, err)
		return
	}
	resp := statusResponse{
		Connected:   snap.Connected(),
		Status:      snap.State.String(),
		QRAvailable: snap.PairingCode != "",
		User:        snap.Identity,
		LastError:   snap.LastError,
		BridgeState: snap.BridgeState(),
	}
	if sp, ok := wc.notifier.(statsProvider); ok {
		stats := sp.Stats()
		resp.Relay = &stats
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, resp)
}

// HandleQR is an HTTP handler for GET /qr. It returns the current pairing
// code together with a PNG data URI of its QR rendering.
func (wc *WhatsAppConnector) HandleQR(w http.ResponseWriter, r *http.Request) {
	snap, err := wc.Status(r.Context())
	if err != nil {
		wc.writeError(w, r, err)
		return
	}
	if snap.PairingCode == "" {
		exhttp.WriteJSONResponse(w, http.StatusOK, qrResponse{Message: "QR code not available"})
		return
	}
	image, err := qrfmt.DataURI(snap.PairingCode)
	if err != nil {
		wc.writeError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, qrResponse{
		Success: true,
		QRCode:  snap.PairingCode,
		QRImage: image,
	})
}

// HandleSendMessage is an HTTP handler for POST /send-message.
func (wc *WhatsAppConnector) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !readJSON(w, r, &req) {
		return
	}
	text := req.Message
	if text == "" {
		text = req.Text
	}
	if req.Phone == "" || text == "" {
		exhttp.WriteJSONResponse(w, http.StatusBadRequest, commandResponse{Error: "phone and message are required"})
		return
	}
	msgID, err := wc.SendMessage(r.Context(), req.Phone, text)
	if err != nil {
		wc.writeError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, commandResponse{
		Success:   true,
		Message:   "Message sent",
		MessageID: msgID,
	})
}

// HandleSetTyping is an HTTP handler for POST /set-typing. typing defaults
// to true.
func (wc *WhatsAppConnector) HandleSetTyping(w http.ResponseWriter, r *http.Request) {
	var req setTypingRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Phone == "" {
		exhttp.WriteJSONResponse(w, http.StatusBadRequest, commandResponse{Error: "phone is required"})
		return
	}
	typing := req.Typing == nil || *req.Typing
	if err := wc.SetTyping(r.Context(), req.Phone, typing); err != nil {
		wc.writeError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, commandResponse{Success: true})
}

// HandleConnect is an HTTP handler for POST /connect. The connection itself
// happens asynchronously.
func (wc *WhatsAppConnector) HandleConnect(w http.ResponseWriter, r *http.Request) {
	state, err := wc.Connect(r.Context())
	if err != nil {
		wc.writeError(w, r, err)
		return
	}
	msg := "Connecting"
	if state == StateConnected {
		msg = "Already connected"
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, commandResponse{Success: true, Message: msg})
}

// HandleDisconnect is an HTTP handler for POST /disconnect.
func (wc *WhatsAppConnector) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := wc.Disconnect(r.Context()); err != nil {
		wc.writeError(w, r, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, commandResponse{Success: true, Message: "Disconnected"})
}

// readJSON decodes the request body into v. An empty body leaves v untouched.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		exhttp.WriteJSONResponse(w, http.StatusRequestEntityTooLarge, commandResponse{Error: "request body too large"})
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		exhttp.WriteJSONResponse(w, http.StatusBadRequest, commandResponse{Error: "invalid JSON"})
		return false
	}
	return true
}

func (wc *WhatsAppConnector) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrInvalidPhone):
		code = http.StatusBadRequest
	case errors.Is(err, ErrStopped):
		code = http.StatusServiceUnavailable
	}
	level := zerolog.WarnLevel
	if code >= http.StatusInternalServerError {
		level = zerolog.ErrorLevel
	}
	hlog.FromRequest(r).WithLevel(level).Err(err).Str("path", r.URL.Path).Msg("Request failed")
	exhttp.WriteJSONResponse(w, code, commandResponse{Error: err.Error()})
}
