package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.SetBreakerState("a", "open")
		c.ObserveAttempt("a", "failure", time.Second)
		c.AnalysisStarted()
		c.AnalysisFinished("completed")
		c.AnalysisRejected("rejected")
		c.ObserveTask("ok", time.Second)
		c.AddSwept(3)
	})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestCollector_BreakerStateIsOneHot(t *testing.T) {
	c := NewCollector()

	c.SetBreakerState("primary", "open")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerState.WithLabelValues("primary", "open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.breakerState.WithLabelValues("primary", "closed")))

	c.SetBreakerState("primary", "half_open")
	assert.Equal(t, 0.0, testutil.ToFloat64(c.breakerState.WithLabelValues("primary", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerState.WithLabelValues("primary", "half_open")))
}

func TestCollector_AttemptsAndAnalyses(t *testing.T) {
	c := NewCollector()

	c.ObserveAttempt("primary", "failure", 100*time.Millisecond)
	c.ObserveAttempt("primary", "skipped", 0)
	c.ObserveAttempt("backup", "success", 200*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attempts.WithLabelValues("primary", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attempts.WithLabelValues("primary", "skipped")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.attemptDuration))

	c.AnalysisStarted()
	c.AnalysisStarted()
	c.AnalysisFinished("completed")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.analysesRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.analyses.WithLabelValues("completed")))

	c.AddSwept(2)
	c.AddSwept(0)
	assert.Equal(t, 2.0, testutil.ToFloat64(c.swept))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.SetBreakerState("primary", "closed")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `relaylane_breaker_state{provider="primary",state="closed"} 1`)
}
