package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	PairingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pairings_total",
			Help: "Pairing state transitions by outcome.",
		},
		[]string{"service", "outcome"},
	)

	EnvelopesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envelopes_published_total",
			Help: "Envelopes accepted by the relay, by delivery outcome.",
		},
		[]string{"service", "outcome"},
	)

	PendingDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "envelopes_pending_dropped_total",
			Help: "Envelopes dropped from full pending queues.",
		},
		[]string{"service"},
	)

	ActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_connections",
			Help: "Live device connections currently registered.",
		},
		[]string{"service"},
	)
)

func MustRegister(serviceName string) {
	labels := prometheus.Labels{"service": serviceName}

	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(labels)
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(labels).(*prometheus.HistogramVec)
	PairingsTotal = PairingsTotal.MustCurryWith(labels)
	EnvelopesPublishedTotal = EnvelopesPublishedTotal.MustCurryWith(labels)
	PendingDroppedTotal = PendingDroppedTotal.MustCurryWith(labels)
	ActiveConnections = ActiveConnections.MustCurryWith(labels)

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		PairingsTotal,
		EnvelopesPublishedTotal,
		PendingDroppedTotal,
		ActiveConnections,
	)
}
