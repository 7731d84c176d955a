package lock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Metrics captures lock contention signals. A nil *Metrics records nothing.
type Metrics struct {
	acquire         *prometheus.CounterVec
	retries         prometheus.Counter
	holdExceeded    prometheus.Counter
	acquireDuration prometheus.Histogram
	holdDuration    prometheus.Histogram
}

// NewMetrics creates the lock collectors and registers them on reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		acquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "point_lock_acquire_total",
			Help: "Member lock acquisitions by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "point_lock_retry_total",
			Help: "Member lock acquisition retries.",
		}),
		holdExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "point_lock_hold_exceeded_total",
			Help: "Member locks held longer than the warn threshold.",
		}),
		acquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "point_lock_acquire_duration_seconds",
			Help:    "Time spent acquiring member locks, retries included.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		holdDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "point_lock_hold_duration_seconds",
			Help:    "Time member locks were held.",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.acquire, m.retries, m.holdExceeded, m.acquireDuration, m.holdDuration)
	}
	return m
}

func (m *Metrics) acquired() {
	if m != nil {
		m.acquire.WithLabelValues(resultSuccess).Inc()
	}
}

func (m *Metrics) failed() {
	if m != nil {
		m.acquire.WithLabelValues(resultFailure).Inc()
	}
}

func (m *Metrics) retried() {
	if m != nil {
		m.retries.Inc()
	}
}

func (m *Metrics) exceeded() {
	if m != nil {
		m.holdExceeded.Inc()
	}
}

func (m *Metrics) observeAcquire(d time.Duration) {
	if m != nil {
		m.acquireDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) observeHold(d time.Duration) {
	if m != nil {
		m.holdDuration.Observe(d.Seconds())
	}
}
