package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub's Prometheus instruments on a private registry so
// several hubs can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	connectedClients prometheus.Gauge
	joins            prometheus.Counter
	departures       *prometheus.CounterVec
	messages         prometheus.Counter
	drops            prometheus.Counter
	rateLimited      prometheus.Counter
	historyEntries   prometheus.Gauge
}

// NewMetrics creates and registers the hub instruments.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gochat",
			Name:      "connected_clients",
			Help:      "Clients currently past the handshake.",
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gochat",
			Name:      "joins_total",
			Help:      "Completed handshakes.",
		}),
		departures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gochat",
			Name:      "departures_total",
			Help:      "Clients removed from the registry, by reason.",
		}, []string{"reason"}),
		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gochat",
			Name:      "messages_total",
			Help:      "Chat messages accepted for broadcast.",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gochat",
			Name:      "recipient_drops_total",
			Help:      "Recipients disconnected because their send queue was full or closed.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gochat",
			Name:      "rate_limited_total",
			Help:      "Messages discarded by the per-connection rate limiter.",
		}),
		historyEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gochat",
			Name:      "history_entries",
			Help:      "Chat lines retained for late joiners.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectedClients,
		m.joins,
		m.departures,
		m.messages,
		m.drops,
		m.rateLimited,
		m.historyEntries,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) clientJoined() {
	m.joins.Inc()
	m.connectedClients.Inc()
}

func (m *Metrics) clientDeparted(reason disconnectReason) {
	m.departures.WithLabelValues(string(reason)).Inc()
	m.connectedClients.Dec()
}
