package reconcile

import "github.com/prometheus/client_golang/prometheus"

// Metrics exports the counters of every run. A nil *Metrics records nothing.
type Metrics struct {
	items        *prometheus.CounterVec
	chunks       *prometheus.CounterVec
	inconsistent prometheus.Gauge
	duration     prometheus.Histogram
}

// NewMetrics creates the reconciliation collectors and registers them on reg
// when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "point_reconcile_items_total",
			Help: "Ledgers handled by reconciliation runs by outcome.",
		}, []string{"outcome"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "point_reconcile_chunks_total",
			Help: "Reconciliation chunks by result.",
		}, []string{"result"}),
		inconsistent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "point_reconcile_last_inconsistent",
			Help: "Inconsistent ledgers found by the latest run.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "point_reconcile_duration_seconds",
			Help:    "Reconciliation run duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.items, m.chunks, m.inconsistent, m.duration)
	}
	return m
}

func (m *Metrics) observeRun(s Stats) {
	if m == nil {
		return
	}
	m.items.WithLabelValues("read").Add(float64(s.Read))
	m.items.WithLabelValues("written").Add(float64(s.Written))
	m.items.WithLabelValues("skipped").Add(float64(s.Skipped))
	m.chunks.WithLabelValues("commit").Add(float64(s.Committed))
	m.chunks.WithLabelValues("rollback").Add(float64(s.RolledBack))
	m.inconsistent.Set(float64(s.Inconsistent))
	m.duration.Observe(s.Duration.Seconds())
}
