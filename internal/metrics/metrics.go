package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesReceived  atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesSkipped   atomic.Uint64

	// Error counters
	DecodeErrors   atomic.Uint64
	AdapterErrors  atomic.Uint64
	ProtocolErrors atomic.Uint64

	// Detection counters
	PlatesDetected atomic.Uint64
	NewPlates      atomic.Uint64
	AlertsFired    atomic.Uint64

	// Session tracking
	ActiveSessions atomic.Uint64
	TotalSessions  atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"parkstream_frames_received_total", "Total frames received over all sessions", m.FramesReceived.Load},
		{"parkstream_frames_processed_total", "Total frames run through inference", m.FramesProcessed.Load},
		{"parkstream_frames_skipped_total", "Total frames dropped by decimation", m.FramesSkipped.Load},
		{"parkstream_decode_errors_total", "Total frame decode errors", m.DecodeErrors.Load},
		{"parkstream_adapter_errors_total", "Total inference adapter errors", m.AdapterErrors.Load},
		{"parkstream_protocol_errors_total", "Total unparseable client messages", m.ProtocolErrors.Load},
		{"parkstream_plates_detected_total", "Total plates recognized", m.PlatesDetected.Load},
		{"parkstream_new_plates_total", "Total plates classified as new sightings", m.NewPlates.Load},
		{"parkstream_alerts_fired_total", "Total capacity alerts fired", m.AlertsFired.Load},
		{"parkstream_active_sessions", "Currently open monitor sessions", m.ActiveSessions.Load},
		{"parkstream_total_sessions", "Total monitor sessions accepted", m.TotalSessions.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
