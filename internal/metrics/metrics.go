package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the gateway. Scraped from the admin listener.
var (
	// Connection metrics
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tripgate_connections_accepted_total",
		Help: "Total number of TCP connections accepted",
	})

	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripgate_connections_rejected_total",
		Help: "Total number of TCP connections rejected, by reason",
	}, []string{"reason"})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tripgate_connections_active",
		Help: "Current number of connections in the poll set",
	})

	ConnectionsMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tripgate_connections_max",
		Help: "Maximum allowed concurrent connections",
	})

	// Request metrics
	RequestsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tripgate_requests_forwarded_total",
		Help: "Total number of plan requests forwarded to the broker",
	})

	RequestsMalformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripgate_requests_malformed_total",
		Help: "Total number of malformed requests answered with 404, by reason",
	}, []string{"reason"})

	// Reply metrics
	RepliesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tripgate_replies_delivered_total",
		Help: "Total number of broker replies written back to clients",
	})

	RepliesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripgate_replies_dropped_total",
		Help: "Total number of broker replies dropped, by reason",
	}, []string{"reason"})

	// Broker metrics
	BrokerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tripgate_broker_connected",
		Help: "Broker connection status (1=connected, 0=disconnected)",
	})

	BrokerSendErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tripgate_broker_send_errors_total",
		Help: "Total number of failed broker sends",
	})

	// Byte counters
	BytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tripgate_bytes_read_total",
		Help: "Total number of bytes read from clients",
	})

	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tripgate_bytes_written_total",
		Help: "Total number of bytes written to clients",
	})
)

// Handler returns the scrape endpoint for the admin mux.
func Handler() http.Handler {
	return promhttp.Handler()
}
