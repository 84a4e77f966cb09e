package core

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "objstore"

// Metrics collects per-operation counters. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	retries    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Storage operations by outcome.",
		}, []string{"op", "outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "attempts_total",
			Help:      "HTTP attempts by response status, 0 when no response was received.",
		}, []string{"op", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retries_total",
			Help:      "Attempts repeated after a retryable failure.",
		}, []string{"op"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of storage operations including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	if reg != nil {
		reg.MustRegister(m.operations, m.attempts, m.retries, m.duration)
	}
	return m
}

func (m *Metrics) observeAttempt(op Op, status int) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(string(op), strconv.Itoa(status)).Inc()
}

func (m *Metrics) observeRetry(op Op) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(string(op)).Inc()
}

func (m *Metrics) observeOperation(op Op, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(string(op), outcome).Inc()
	m.duration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
}

// OperationCount returns the number of operations recorded with outcome.
// It exists for tests and diagnostics.
func (m *Metrics) OperationCount(op Op, outcome string) prometheus.Counter {
	return m.operations.WithLabelValues(string(op), outcome)
}

// AttemptCount returns the attempt counter for op and status.
func (m *Metrics) AttemptCount(op Op, status int) prometheus.Counter {
	return m.attempts.WithLabelValues(string(op), strconv.Itoa(status))
}

// RetryCount returns the retry counter for op.
func (m *Metrics) RetryCount(op Op) prometheus.Counter {
	return m.retries.WithLabelValues(string(op))
}
