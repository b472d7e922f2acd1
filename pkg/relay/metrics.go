// Copyright 2024-2026 Aiku AI

package relay

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomeDropped = "dropped"
)

var (
	registerOnce sync.Once

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wabridge",
			Subsystem: "relay",
			Name:      "notifications_total",
			Help:      "Webhook notifications by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

// RegisterMetrics registers the relay collectors with the default registry.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(notifications)
	})
}

func recordRelay(kind Kind, outcome string) {
	RegisterMetrics()
	notifications.WithLabelValues(string(kind), outcome).Inc()
}
