// Package metrics exposes run counters and stage timings for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "appforge"

// Metrics holds every collector. It implements driver.Recorder,
// coder.Recorder and llm.CallRecorder.
type Metrics struct {
	registry *prometheus.Registry

	stageDuration  *prometheus.HistogramVec
	stageFailures  *prometheus.CounterVec
	tasksCompleted prometheus.Counter
	bytesWritten   prometheus.Counter
	llmCalls       *prometheus.CounterVec
	llmDuration    *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of one stage execution.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		stageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Failed stage executions, including retried attempts.",
		}, []string{"stage", "retryable"}),
		tasksCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Implementation tasks whose file was written.",
		}),
		bytesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes of generated file content written.",
		}),
		llmCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Completion calls by capability and outcome.",
		}, []string{"capability", "outcome"}),
		llmDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Duration of completion calls, fallbacks included.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"capability"}),
	}
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordStageFailure counts a failed stage attempt.
func (m *Metrics) RecordStageFailure(stage string, retryable bool) {
	m.stageFailures.WithLabelValues(stage, strconv.FormatBool(retryable)).Inc()
}

// RecordTaskCompleted counts a written file of n bytes.
func (m *Metrics) RecordTaskCompleted(n int) {
	m.tasksCompleted.Inc()
	m.bytesWritten.Add(float64(n))
}

// RecordLLMCall counts a finished completion call.
func (m *Metrics) RecordLLMCall(capability, outcome string, d time.Duration) {
	m.llmCalls.WithLabelValues(capability, outcome).Inc()
	m.llmDuration.WithLabelValues(capability).Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
