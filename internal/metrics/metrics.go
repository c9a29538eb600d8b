package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry    *prometheus.Registry
	predictions *prometheus.CounterVec
	errors      *prometheus.CounterVec
	duration    prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sketch",
			Name:      "predictions_total",
			Help:      "Sketches classified, by predicted label.",
		}, []string{"label"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sketch",
			Name:      "prediction_errors_total",
			Help:      "Failed classifications, by pipeline stage.",
		}, []string{"stage"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sketch",
			Name:      "prediction_duration_seconds",
			Help:      "Time from payload to prediction.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}

	m.registry.MustRegister(
		m.predictions,
		m.errors,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObservePrediction(label string, elapsed time.Duration) {
	m.predictions.WithLabelValues(label).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveError(stage string) {
	if stage == "" {
		stage = "unknown"
	}
	m.errors.WithLabelValues(stage).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Predictions and Errors expose the counters for inspection in tests.
func (m *Metrics) Predictions() *prometheus.CounterVec { return m.predictions }

func (m *Metrics) Errors() *prometheus.CounterVec { return m.errors }
