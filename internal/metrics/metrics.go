// Package metrics exposes Prometheus instrumentation for jobs, graph nodes,
// model calls and scene edits.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/scenecraft/internal/engine"
	"github.com/rendis/scenecraft/pkg/schema"
)

const namespace = "scenecraft"

// Metrics holds every collector, registered on one registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	jobsCreated  prometheus.Counter
	jobsActive   prometheus.Gauge
	jobsFinished *prometheus.CounterVec
	jobDuration  prometheus.Histogram
	jobsSwept    prometheus.Counter
	nodeDuration *prometheus.HistogramVec
	nodeErrors   *prometheus.CounterVec
	edits        *prometheus.CounterVec
	modelCalls   *prometheus.CounterVec
	jobsWaiting  prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		jobsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "created_total",
			Help:      "Jobs accepted for execution.",
		}),
		jobsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Jobs currently registered.",
		}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs that reached a terminal status.",
		}, []string{"status"}),
		jobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time from submission to terminal event.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		jobsSwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "swept_total",
			Help:      "Idle jobs removed by the sweeper.",
		}),
		nodeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "node_duration_seconds",
			Help:      "Time spent in one graph node visit.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"node", "action"}),
		nodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "node_errors_total",
			Help:      "Graph node visits that failed, by error code.",
		}, []string{"node", "code"}),
		edits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scene",
			Name:      "edits_total",
			Help:      "Scene edit outcomes by intent.",
		}, []string{"intent", "outcome"}),
		modelCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Model stream opens by outcome: ok, abandoned or an error code.",
		}, []string{"model", "outcome"}),
		jobsWaiting: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "waiting",
			Help:      "Jobs queued for a free run slot.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) JobCreated() {
	m.jobsCreated.Inc()
	m.jobsActive.Inc()
}

func (m *Metrics) JobRemoved() {
	m.jobsActive.Dec()
}

func (m *Metrics) JobFinished(status schema.JobStatus, elapsed time.Duration) {
	m.jobsFinished.WithLabelValues(string(status)).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) JobsSwept(n int) {
	m.jobsSwept.Add(float64(n))
}

func (m *Metrics) JobsWaiting(n int) {
	m.jobsWaiting.Set(float64(n))
}

func (m *Metrics) NodeStarted(context.Context, string) {}

func (m *Metrics) NodeFinished(_ context.Context, node string, action engine.Action, elapsed time.Duration, err error) {
	if err != nil {
		m.nodeErrors.WithLabelValues(node, schema.CodeOf(err)).Inc()
		action = "error"
	}
	m.nodeDuration.WithLabelValues(node, string(action)).Observe(elapsed.Seconds())
}

// EditApplied counts an edit outcome: applied, skipped, or an error code.
func (m *Metrics) EditApplied(intent, outcome string) {
	m.edits.WithLabelValues(intent, outcome).Inc()
}

// ModelCall counts one attempt to open a model stream.
func (m *Metrics) ModelCall(model, outcome string) {
	m.modelCalls.WithLabelValues(model, outcome).Inc()
}
