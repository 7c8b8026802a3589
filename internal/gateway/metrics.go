// ABOUTME: Prometheus instrumentation for realtime connections and commands
// ABOUTME: Each gateway owns its own registry so instances never collide

package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handshake rejection reasons.
const (
	rejectOrigin  = "origin"
	rejectMissing = "missing_token"
	rejectInvalid = "invalid_token"
	rejectBackend = "backend_error"
)

// Message kinds.
const (
	kindCommand   = "command"
	kindBroadcast = "broadcast"
)

type metrics struct {
	reg *prometheus.Registry

	connections prometheus.Gauge
	rejections  *prometheus.CounterVec
	messages    *prometheus.CounterVec
	commands    *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		reg: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zgate_connections_active",
			Help: "Number of registered realtime connections.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zgate_handshake_rejections_total",
			Help: "Realtime handshakes closed before registration, by reason.",
		}, []string{"reason"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zgate_messages_total",
			Help: "Inbound realtime messages, by kind.",
		}, []string{"kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zgate_commands_total",
			Help: "Executed commands, by status.",
		}, []string{"status"}),
	}
	m.reg.MustRegister(
		m.connections,
		m.rejections,
		m.messages,
		m.commands,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
