package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CollectorMetrics contains Prometheus metrics for the collector service.
type CollectorMetrics struct {
	HTTPRequestsTotal       *prometheus.CounterVec
	HTTPRequestDuration     *prometheus.HistogramVec
	IngestBatchesTotal      *prometheus.CounterVec
	IngestReadingsTotal     prometheus.Counter
	SensorsProvisionedTotal prometheus.Counter
	DevicesRegisteredTotal  prometheus.Counter
	DevicesApprovedTotal    prometheus.Counter
	ConsumerMessagesTotal   *prometheus.CounterVec
}

// NewCollectorMetrics creates and registers collector service metrics.
func NewCollectorMetrics(namespace string) *CollectorMetrics {
	m := &CollectorMetrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"handler", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"handler"},
		),
		IngestBatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "batches_total",
				Help:      "Total number of ingestion batches by outcome",
			},
			[]string{"status"}, // status: accepted, unauthorized, invalid, error
		),
		IngestReadingsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "readings_total",
				Help:      "Total number of readings accepted",
			},
		),
		SensorsProvisionedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "sensors_provisioned_total",
				Help:      "Total number of sensors auto-provisioned on first sight",
			},
		),
		DevicesRegisteredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "devices_registered_total",
				Help:      "Total number of new device registrations",
			},
		),
		DevicesApprovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "devices_approved_total",
				Help:      "Total number of device approvals",
			},
		),
		ConsumerMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "messages_total",
				Help:      "Total number of AMQP ingestion messages consumed",
			},
			[]string{"queue", "status"}, // status: success, rejected, error
		),
	}

	MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.IngestBatchesTotal,
		m.IngestReadingsTotal,
		m.SensorsProvisionedTotal,
		m.DevicesRegisteredTotal,
		m.DevicesApprovedTotal,
		m.ConsumerMessagesTotal,
	)

	return m
}
