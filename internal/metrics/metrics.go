// Package metrics exposes Prometheus collectors for workflow, feedback,
// storage and outbox activity. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pubflow"

type Metrics struct {
	registry *prometheus.Registry

	advances          *prometheus.CounterVec
	conflicts         prometheus.Counter
	storageRetries    *prometheus.CounterVec
	storageLatency    *prometheus.HistogramVec
	feedbackApplied   prometheus.Counter
	feedbackConflicts prometheus.Counter
	outboxDispatched  *prometheus.CounterVec
}

// New registers every collector on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		advances: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_advances_total",
			Help:      "Workflow advance attempts by outcome",
		}, []string{"outcome"}),
		conflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_conflicts_total",
			Help:      "Workflow writes rejected by the optimistic version check",
		}),
		storageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_retries_total",
			Help:      "Persistence calls retried after a timeout",
		}, []string{"op"}),
		storageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_latency_seconds",
			Help:      "Persistence call latency including retries",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"op"}),
		feedbackApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_applied_total",
			Help:      "Feedback items merged into a new document version",
		}),
		feedbackConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_conflicts_total",
			Help:      "Feedback conflicts returned for manual resolution",
		}),
		outboxDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_dispatched_total",
			Help:      "Outbox deliveries by listener and result",
		}, []string{"listener", "result"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AdvanceOutcome(outcome string) {
	if m == nil {
		return
	}
	m.advances.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) StorageRetry(op string) {
	if m == nil {
		return
	}
	m.storageRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveStorage(op string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.storageLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) FeedbackApplied(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.feedbackApplied.Add(float64(n))
}

func (m *Metrics) FeedbackConflicts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.feedbackConflicts.Add(float64(n))
}

func (m *Metrics) OutboxDispatched(listener, result string) {
	if m == nil {
		return
	}
	m.outboxDispatched.WithLabelValues(listener, result).Inc()
}
