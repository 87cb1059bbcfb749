package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for agent self-monitoring.
// It uses a custom registry so the agent never pollutes the host
// application's default registry.
type Metrics struct {
	Registry *prometheus.Registry

	// Hub transport metrics
	HubRequestsTotal   *prometheus.CounterVec
	HubRequestDuration *prometheus.HistogramVec

	// Sync metrics
	SyncPayloadQueueDepth prometheus.Gauge
	SyncPayloadsDropped   prometheus.Counter

	// Request logger metrics
	PendingWrites     prometheus.Gauge
	SpoolFiles        prometheus.Gauge
	LogRecordsDropped prometheus.Counter
	LogUploadBytes    prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HubRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apitally_hub_requests_total",
			Help: "Total number of requests sent to the Apitally hub.",
		}, []string{"endpoint", "status"}),
		HubRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apitally_hub_request_duration_seconds",
			Help:    "Duration of requests to the Apitally hub in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		SyncPayloadQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "apitally_sync_payload_queue_depth",
			Help: "Number of sync payloads waiting for delivery.",
		}),
		SyncPayloadsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apitally_sync_payloads_dropped_total",
			Help: "Total number of sync payloads dropped (queue full or expired).",
		}),

		PendingWrites: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "apitally_request_log_pending_writes",
			Help: "Number of request log records waiting to be written to disk.",
		}),
		SpoolFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "apitally_request_log_spool_files",
			Help: "Number of closed spool files awaiting upload.",
		}),
		LogRecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apitally_request_log_records_dropped_total",
			Help: "Total number of request log records dropped before upload.",
		}),
		LogUploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "apitally_request_log_upload_bytes",
			Help:    "Size of uploaded request log files in compressed bytes.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
	}

	reg.MustRegister(
		m.HubRequestsTotal,
		m.HubRequestDuration,
		m.SyncPayloadQueueDepth,
		m.SyncPayloadsDropped,
		m.PendingWrites,
		m.SpoolFiles,
		m.LogRecordsDropped,
		m.LogUploadBytes,
	)

	return m
}
