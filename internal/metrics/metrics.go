package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus instruments the engine updates during a run.
// Use a dedicated registry so tests can build isolated instances.
type Metrics struct {
	Registry *prometheus.Registry

	ReadingsProduced *prometheus.CounterVec // by device_type
	DeviceFaults     *prometheus.CounterVec // by device_id
	SinkDelivered    *prometheus.CounterVec // by sink
	SinkDropped      *prometheus.CounterVec // by sink
	SinkRetries      *prometheus.CounterVec // by sink
	SinkFailures     *prometheus.CounterVec // by sink
	QueueLength      *prometheus.GaugeVec   // by sink
}

// New builds and registers the instrument set on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ReadingsProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicebridge_readings_produced_total",
			Help: "Readings produced by device simulators.",
		}, []string{"device_type"}),
		DeviceFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicebridge_device_faults_total",
			Help: "Tick errors recovered per device.",
		}, []string{"device_id"}),
		SinkDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicebridge_sink_delivered_total",
			Help: "Readings successfully written per sink.",
		}, []string{"sink"}),
		SinkDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicebridge_sink_dropped_total",
			Help: "Readings lost to queue backpressure or exhausted retries, per sink.",
		}, []string{"sink"}),
		SinkRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicebridge_sink_retries_total",
			Help: "Write retries per sink.",
		}, []string{"sink"}),
		SinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "devicebridge_sink_failures_total",
			Help: "Write errors per sink.",
		}, []string{"sink"}),
		QueueLength: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "devicebridge_sink_queue_length",
			Help: "Readings currently buffered per sink queue.",
		}, []string{"sink"}),
	}

	m.Registry.MustRegister(
		m.ReadingsProduced,
		m.DeviceFaults,
		m.SinkDelivered,
		m.SinkDropped,
		m.SinkRetries,
		m.SinkFailures,
		m.QueueLength,
	)
	return m
}
