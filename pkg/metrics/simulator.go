package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains Prometheus metrics for the device simulator.
type SimulatorMetrics struct {
	BatchesSent       *prometheus.CounterVec
	ReadingsSent      *prometheus.CounterVec
	SendErrors        *prometheus.CounterVec
	RegistrationsSent *prometheus.CounterVec
	DevicesSimulated  prometheus.Gauge
}

// NewSimulatorMetrics creates and registers simulator metrics.
func NewSimulatorMetrics(namespace string) *SimulatorMetrics {
	m := &SimulatorMetrics{
		BatchesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "batches_sent_total",
				Help:      "Total number of telemetry batches sent",
			},
			[]string{"device_id", "status"}, // status: ok, unauthorized, error
		),
		ReadingsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "readings_sent_total",
				Help:      "Total number of individual readings sent",
			},
			[]string{"device_id"},
		),
		SendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "send_errors_total",
				Help:      "Total number of transport errors while sending",
			},
			[]string{"device_id"},
		),
		RegistrationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "registrations_total",
				Help:      "Total number of registration attempts by outcome",
			},
			[]string{"status"}, // status: already_registered, pending_approval, error
		),
		DevicesSimulated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "devices_simulated",
				Help:      "Number of devices in the simulated fleet",
			},
		),
	}

	MustRegister(
		m.BatchesSent,
		m.ReadingsSent,
		m.SendErrors,
		m.RegistrationsSent,
		m.DevicesSimulated,
	)

	return m
}
