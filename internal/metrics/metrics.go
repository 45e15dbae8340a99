// Package metrics exposes server-side counters over Prometheus.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the detection server's running totals.
type Metrics struct {
	FramesReceived     atomic.Uint64
	DetectionsReturned atomic.Uint64
	BoxesDetected      atomic.Uint64
	DecodeErrors       atomic.Uint64
	InferenceErrors    atomic.Uint64
	ActiveSessions     atomic.Int64
	TotalSessions      atomic.Uint64

	// ProcessLatencyMs is the most recent inference latency in ms.
	ProcessLatencyMs atomic.Uint64

	registry *prometheus.Registry
}

// New creates a Metrics instance with its Prometheus collectors registered.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) register() {
	gauges := []struct {
		name string
		help string
		get  func() float64
	}{
		{"detection_frames_received_total", "Total frame messages received",
			func() float64 { return float64(m.FramesReceived.Load()) }},
		{"detection_results_returned_total", "Total detection messages returned",
			func() float64 { return float64(m.DetectionsReturned.Load()) }},
		{"detection_boxes_total", "Total bounding boxes detected",
			func() float64 { return float64(m.BoxesDetected.Load()) }},
		{"detection_decode_errors_total", "Total inbound messages rejected by the decoder",
			func() float64 { return float64(m.DecodeErrors.Load()) }},
		{"detection_inference_errors_total", "Total inference failures",
			func() float64 { return float64(m.InferenceErrors.Load()) }},
		{"detection_active_sessions", "Currently connected client sessions",
			func() float64 { return float64(m.ActiveSessions.Load()) }},
		{"detection_sessions_total", "Total client sessions accepted",
			func() float64 { return float64(m.TotalSessions.Load()) }},
		{"detection_process_latency_ms", "Most recent inference latency in milliseconds",
			func() float64 { return float64(m.ProcessLatencyMs.Load()) }},
	}

	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.get,
		))
	}
}

// ObserveProcessing records one inference duration.
func (m *Metrics) ObserveProcessing(d time.Duration) {
	m.ProcessLatencyMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus scrape handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
