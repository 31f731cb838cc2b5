package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	LectureOps        *prometheus.CounterVec
	OpErrors          *prometheus.CounterVec
	GenerationLatency prometheus.Histogram
	SynthesisLatency  prometheus.Histogram
	ActiveSyntheses   prometheus.Gauge

	window *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		window: newStageWindow(256),
		LectureOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lecture_ops_total",
			Help:      "Lecture operations by kind.",
		}, []string{"op"}),
		OpErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "op_errors_total",
			Help:      "Failed lecture operations by kind and error class.",
		}, []string{"op", "kind"}),
		GenerationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_ms",
			Help:      "Latency of model generation calls in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000, 30000},
		}),
		SynthesisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Latency of full-slide audio synthesis in milliseconds.",
			Buckets:   []float64{500, 1000, 2000, 4000, 8000, 16000, 30000, 60000},
		}),
		ActiveSyntheses: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_syntheses",
			Help:      "Number of audio synthesis runs in flight.",
		}),
	}
}

func (m *Metrics) ObserveGenerationLatency(d time.Duration) {
	m.GenerationLatency.Observe(float64(d.Milliseconds()))
	m.window.Observe("generation", float64(d.Milliseconds()))
}

func (m *Metrics) ObserveSynthesisLatency(d time.Duration) {
	m.SynthesisLatency.Observe(float64(d.Milliseconds()))
	m.window.Observe("synthesis", float64(d.Milliseconds()))
}

// LatencySnapshot reports recent stage latency percentiles.
func (m *Metrics) LatencySnapshot() StageSnapshot {
	return m.window.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
