// Package metrics exposes Prometheus instrumentation for the dispatcher,
// breakers and orchestrator. A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relaylane"

// breakerStates lists every state label so exactly one is 1 per provider.
var breakerStates = []string{"closed", "open", "half_open"}

// Collector owns a private registry and the service's metric vectors.
type Collector struct {
	registry *prometheus.Registry

	breakerState    *prometheus.GaugeVec
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	analyses        *prometheus.CounterVec
	analysesRunning prometheus.Gauge
	taskDuration    *prometheus.HistogramVec
	swept           prometheus.Counter
}

// NewCollector creates and registers all metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state per provider (1 for the current state).",
		}, []string{"provider", "state"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts_total",
			Help:      "Provider attempts by outcome.",
		}, []string{"provider", "outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_attempt_duration_seconds",
			Help:      "Duration of attempted provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Analyses by final status, plus rejected submissions.",
		}, []string{"status"}),
		analysesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analyses_processing",
			Help:      "Analyses currently processing.",
		}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of analysis tasks by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"outcome"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_swept_total",
			Help:      "Analyses removed by the retention sweep.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.breakerState,
		c.attempts,
		c.attemptDuration,
		c.analyses,
		c.analysesRunning,
		c.taskDuration,
		c.swept,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetBreakerState marks state as the provider's current breaker state.
func (c *Collector) SetBreakerState(provider, state string) {
	if c == nil {
		return
	}
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.breakerState.WithLabelValues(provider, s).Set(v)
	}
}

// ObserveAttempt counts one provider attempt. Skipped attempts have no duration.
func (c *Collector) ObserveAttempt(provider, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(provider, outcome).Inc()
	if outcome != "skipped" {
		c.attemptDuration.WithLabelValues(provider).Observe(d.Seconds())
	}
}

// AnalysisStarted increments the processing gauge.
func (c *Collector) AnalysisStarted() {
	if c == nil {
		return
	}
	c.analysesRunning.Inc()
}

// AnalysisFinished decrements the processing gauge and counts the final status.
func (c *Collector) AnalysisFinished(status string) {
	if c == nil {
		return
	}
	c.analysesRunning.Dec()
	c.analyses.WithLabelValues(status).Inc()
}

// AnalysisRejected counts a submission that never started.
func (c *Collector) AnalysisRejected(reason string) {
	if c == nil {
		return
	}
	c.analyses.WithLabelValues(reason).Inc()
}

// ObserveTask records a task's duration.
func (c *Collector) ObserveTask(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.taskDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// AddSwept counts analyses removed by a sweep.
func (c *Collector) AddSwept(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.swept.Add(float64(n))
}
