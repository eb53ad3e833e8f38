// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_connections_total",
			Help: "Accepted device connections by device type.",
		},
		[]string{"device_type"},
	)
	ActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telemetry_active_connections",
			Help: "Device connections currently being served.",
		},
		[]string{"device_type"},
	)
	DecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_decode_errors_total",
			Help: "Connections or messages discarded because they could not be decoded.",
		},
		[]string{"device_type"},
	)
	Samples = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_samples_total",
			Help: "Waveform samples written to channel buffers.",
		},
		[]string{"channel"},
	)
	HeartRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telemetry_heart_rate_bpm",
			Help: "Latest heart rate estimate per ECG device, 0 when no estimate.",
		},
		[]string{"device"},
	)
	FilterResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_filter_resets_total",
			Help: "Times an ECG filter chain was cleared after diverging.",
		},
	)
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_events_dropped_total",
			Help: "Events not delivered because a subscriber was full.",
		},
		[]string{"type"},
	)
	Recordings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_recordings_total",
			Help: "Finished recording sessions by export status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		Connections,
		ActiveConnections,
		DecodeErrors,
		Samples,
		HeartRate,
		FilterResets,
		EventsDropped,
		Recordings,
	)
}
