// Copyright 2024 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	crtlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Key lifecycle events.
const (
	KeyIssued   = "issued"
	KeyRedeemed = "redeemed"
	KeyRejected = "rejected"
	KeyExpired  = "expired"
)

// Handler returns the HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(crtlmetrics.Registry, promhttp.HandlerOpts{})
}

// MustRegisterMetrics attempts to register the metrics collectors
// in the controller-runtime metrics registry.
func MustRegisterMetrics() {
	crtlmetrics.Registry.MustRegister(
		gateTransitions,
		oneTimeKeys,
		hubConnections,
		hubMessages,
		softFailResponses,
	)
}

// RecordGateTransition counts a gate operation outcome.
func RecordGateTransition(stage, result string) {
	gateTransitions.WithLabelValues(stage, result).Inc()
}

// RecordKey counts a one-time key lifecycle event.
func RecordKey(event string) {
	oneTimeKeys.WithLabelValues(event).Inc()
}

// SetConnections sets the number of live hub connections.
func SetConnections(n int) {
	hubConnections.Set(float64(n))
}

// RecordMessage counts an inbound hub message by dispatch kind.
func RecordMessage(kind string) {
	hubMessages.WithLabelValues(kind).Inc()
}

// RecordSoftFail counts a soft-fail response by its message.
func RecordSoftFail(reason string) {
	softFailResponses.WithLabelValues(reason).Inc()
}

var (
	gateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagegate_gate_transitions_total",
			Help: "The number of staged gate operations by stage and result.",
		},
		[]string{"stage", "result"},
	)
	oneTimeKeys = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagegate_onetime_keys_total",
			Help: "The number of one-time key lifecycle events.",
		},
		[]string{"event"},
	)
	hubConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stagegate_hub_connections",
			Help: "The number of live real-time connections.",
		},
	)
	hubMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagegate_hub_messages_total",
			Help: "The number of inbound real-time messages by dispatch kind.",
		},
		[]string{"kind"},
	)
	softFailResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagegate_softfail_responses_total",
			Help: "The number of soft-fail script responses by reason.",
		},
		[]string{"reason"},
	)
)
