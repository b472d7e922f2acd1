// Copyright 2024-2026 Aiku AI

package connector

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wabridge",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session state transitions by target state.",
		},
		[]string{"state"},
	)
	retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wabridge",
			Subsystem: "session",
			Name:      "retries_scheduled_total",
			Help:      "Reconnect timers scheduled, by cause.",
		},
		[]string{"cause"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wabridge",
			Subsystem: "session",
			Name:      "state",
			Help:      "1 for the current session state, 0 otherwise.",
		},
		[]string{"state"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wabridge",
			Subsystem: "session",
			Name:      "messages_total",
			Help:      "Text messages by direction.",
		},
		[]string{"direction"},
	)
)

var allStates = []State{StateDisconnected, StatePairingPending, StateConnected, StateReconnecting, StateError}

// RegisterMetrics registers the session collectors with the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(transitions, retries, currentState, messages)
		for _, s := range allStates {
			currentState.WithLabelValues(s.String()).Set(0)
		}
		currentState.WithLabelValues(StateDisconnected.String()).Set(1)
	})
}

func recordTransition(to State) {
	RegisterMetrics()
	transitions.WithLabelValues(to.String()).Inc()
	for _, s := range allStates {
		v := 0.0
		if s == to {
			v = 1
		}
		currentState.WithLabelValues(s.String()).Set(v)
	}
}

func recordRetry(cause string) {
	RegisterMetrics()
	retries.WithLabelValues(cause).Inc()
}

func recordMessage(direction string) {
	RegisterMetrics()
	messages.WithLabelValues(direction).Inc()
}
