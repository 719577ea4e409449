package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	// Connection metrics
	activeConnections  prometheus.Gauge
	boundPlayers       prometheus.Gauge
	connectionsOpened  prometheus.Counter
	connectionsClosed  *prometheus.CounterVec // by close reason
	handshakesComplete prometheus.Counter
	connectionsRefused prometheus.Counter

	// Message type metrics
	messagesReceived *prometheus.CounterVec // by message type
	messagesSent     *prometheus.CounterVec // by message type

	// Control token metrics
	controlEvents *prometheus.CounterVec // by event kind
}

// NewMetrics registers the server metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tablenet_active_connections",
				Help: "Current number of open connections, bound or not",
			},
		),
		boundPlayers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tablenet_bound_players",
				Help: "Current number of authenticated players",
			},
		),
		connectionsOpened: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tablenet_connections_opened_total",
				Help: "Total number of connections accepted",
			},
		),
		connectionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablenet_connections_closed_total",
				Help: "Total number of connections closed by reason",
			},
			[]string{"reason"},
		),
		handshakesComplete: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tablenet_handshakes_completed_total",
				Help: "Total number of connections that authenticated and bound a player",
			},
		),
		connectionsRefused: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tablenet_connections_refused_total",
				Help: "Total number of connections dropped because the server was full",
			},
		),
		messagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablenet_messages_received_total",
				Help: "Total number of messages received from clients by type",
			},
			[]string{"type"},
		),
		messagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablenet_messages_sent_total",
				Help: "Total number of messages sent to clients by type",
			},
			[]string{"type"},
		),
		controlEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tablenet_control_events_total",
				Help: "Total number of control token changes by kind",
			},
			[]string{"kind"},
		),
	}
}

// RecordActiveConnections updates the open connection count
func (m *Metrics) RecordActiveConnections(count int) {
	m.activeConnections.Set(float64(count))
}

// RecordBoundPlayers updates the bound player count
func (m *Metrics) RecordBoundPlayers(count int) {
	m.boundPlayers.Set(float64(count))
}

// RecordConnectionOpened increments the accepted connection counter
func (m *Metrics) RecordConnectionOpened() {
	m.connectionsOpened.Inc()
}

// RecordConnectionClosed increments the close counter for a reason
func (m *Metrics) RecordConnectionClosed(reason string) {
	m.connectionsClosed.WithLabelValues(reason).Inc()
}

// RecordHandshakeCompleted increments the completed handshake counter
func (m *Metrics) RecordHandshakeCompleted() {
	m.handshakesComplete.Inc()
}

// RecordConnectionRefused increments the refused connection counter
func (m *Metrics) RecordConnectionRefused() {
	m.connectionsRefused.Inc()
}

// RecordMessageReceived increments the message received counter for a type
func (m *Metrics) RecordMessageReceived(messageType string) {
	m.messagesReceived.WithLabelValues(messageType).Inc()
}

// RecordMessageSent increments the message sent counter for a type
func (m *Metrics) RecordMessageSent(messageType string) {
	m.messagesSent.WithLabelValues(messageType).Inc()
}

// RecordControlEvent increments the control event counter for a kind
func (m *Metrics) RecordControlEvent(kind string) {
	m.controlEvents.WithLabelValues(kind).Inc()
}
