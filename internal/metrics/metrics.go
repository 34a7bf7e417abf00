// Package metrics exposes detection pipeline counters in Prometheus format.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame counters
	FramesRead      atomic.Uint64
	FramesProcessed atomic.Uint64
	ImagesProcessed atomic.Uint64

	// Error counters
	ReadErrors      atomic.Uint64
	InferenceErrors atomic.Uint64
	StoreErrors     atomic.Uint64

	// History
	RecordsAppended atomic.Uint64
	RecordsReused   atomic.Uint64

	// Latency of the most recent inference, in microseconds
	InferenceLatencyUs atomic.Uint64

	// Live session
	WebcamActive atomic.Uint64 // 0 = stopped, 1 = running
	LiveClients  atomic.Int64

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

func (m *Metrics) gauge(name, help string, value func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		value,
	))
}

func counter(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("plastisort_frames_read_total", "Total webcam frames read", counter(&m.FramesRead))
	m.gauge("plastisort_frames_processed_total", "Total webcam frames run through the pipeline", counter(&m.FramesProcessed))
	m.gauge("plastisort_images_processed_total", "Total image files displayed", counter(&m.ImagesProcessed))

	m.gauge("plastisort_read_errors_total", "Total failed frame or image reads", counter(&m.ReadErrors))
	m.gauge("plastisort_inference_errors_total", "Total failed inference calls", counter(&m.InferenceErrors))
	m.gauge("plastisort_store_errors_total", "Total failed history store writes", counter(&m.StoreErrors))

	m.gauge("plastisort_records_appended_total", "Total history records created", counter(&m.RecordsAppended))
	m.gauge("plastisort_records_reused_total", "Total file visits served from history", counter(&m.RecordsReused))

	m.gauge("plastisort_inference_latency_ms", "Latency of the most recent inference in milliseconds", func() float64 {
		return float64(m.InferenceLatencyUs.Load()) / 1000
	})

	m.gauge("plastisort_webcam_active", "Webcam session running (0=stopped, 1=running)", counter(&m.WebcamActive))
	m.gauge("plastisort_live_clients", "Connected live update clients", func() float64 {
		return float64(m.LiveClients.Load())
	})
}

// ObserveInference records the duration of one inference call.
func (m *Metrics) ObserveInference(d time.Duration) {
	m.InferenceLatencyUs.Store(uint64(d.Microseconds()))
}

// SetWebcamActive flips the webcam gauge.
func (m *Metrics) SetWebcamActive(active bool) {
	if active {
		m.WebcamActive.Store(1)
	} else {
		m.WebcamActive.Store(0)
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
