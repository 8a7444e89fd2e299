// Package metrics exports pipeline and recommendation metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wardrobe"

// Metrics holds every collector of the service. A nil *Metrics is valid and
// records nothing, so components can run without an exporter.
type Metrics struct {
	registry *prometheus.Registry

	pipelineRuns     *prometheus.CounterVec
	pipelineLatency  *prometheus.HistogramVec
	annotationFalls  *prometheus.CounterVec
	recommendations  *prometheus.CounterVec
	recommendLatency *prometheus.HistogramVec
	poolQueued       prometheus.Gauge
	poolActive       prometheus.Gauge
}

// New creates a Metrics set on a fresh registry, including Go runtime collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	buckets := []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

	m := &Metrics{
		registry: registry,
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Annotation pipeline runs by outcome",
		}, []string{"outcome"}),
		pipelineLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Annotation pipeline run duration in seconds",
			Buckets:   buckets,
		}, []string{"outcome"}),
		annotationFalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "annotation_fallbacks_total",
			Help:      "Annotation sub-steps replaced by their default value",
		}, []string{"step"}),
		recommendations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recommend",
			Name:      "requests_total",
			Help:      "Recommendation requests by flow and result code",
		}, []string{"flow", "code"}),
		recommendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recommend",
			Name:      "duration_seconds",
			Help:      "Recommendation latency in seconds",
			Buckets:   buckets,
		}, []string{"flow"}),
		poolQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "queued",
			Help:      "Tasks waiting in the worker pool queue",
		}),
		poolActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "active",
			Help:      "Tasks currently running in the worker pool",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pipelineRuns,
		m.pipelineLatency,
		m.annotationFalls,
		m.recommendations,
		m.recommendLatency,
		m.poolQueued,
		m.poolActive,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordPipelineRun records a finished pipeline run.
func (m *Metrics) RecordPipelineRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(outcome).Inc()
	m.pipelineLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordAnnotationFallback counts a sub-step that used its default value.
func (m *Metrics) RecordAnnotationFallback(step string) {
	if m == nil {
		return
	}
	m.annotationFalls.WithLabelValues(step).Inc()
}

// RecordRecommendation records one recommendation request. code is "ok" on success.
func (m *Metrics) RecordRecommendation(flow, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.recommendations.WithLabelValues(flow, code).Inc()
	m.recommendLatency.WithLabelValues(flow).Observe(d.Seconds())
}

// SetPoolDepth publishes the worker pool queue depth and active task count.
func (m *Metrics) SetPoolDepth(queued, active int) {
	if m == nil {
		return
	}
	m.poolQueued.Set(float64(queued))
	m.poolActive.Set(float64(active))
}
