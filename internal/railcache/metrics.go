package railcache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of one Index.
type Metrics struct {
	lookups          *prometheus.CounterVec
	discoveries      prometheus.Counter
	strategyFailures *prometheus.CounterVec
	evictions        *prometheus.CounterVec
	records          prometheus.Gauge
	worlds           prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railcache",
			Name:      "lookups_total",
			Help:      "Position lookups by result (hit, miss).",
		}, []string{"result"}),
		discoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "railcache",
			Name:      "discoveries_total",
			Help:      "Full strategy-set discovery passes.",
		}),
		strategyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railcache",
			Name:      "strategy_failures_total",
			Help:      "Track type strategies that failed during discovery.",
		}, []string{"type"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "railcache",
			Name:      "evictions_total",
			Help:      "Records dropped, by reason (stale, invalidated, replaced, closed).",
		}, []string{"reason"}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "railcache",
			Name:      "records",
			Help:      "Live records across all world caches.",
		}),
		worlds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "railcache",
			Name:      "worlds",
			Help:      "Open world caches.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.lookups, m.discoveries, m.strategyFailures, m.evictions, m.records, m.worlds)
	}
	return m
}

func (m *Metrics) hit()  { m.lookups.WithLabelValues("hit").Inc() }
func (m *Metrics) miss() { m.lookups.WithLabelValues("miss").Inc() }

func (m *Metrics) evicted(reason string, n int) {
	if n > 0 {
		m.evictions.WithLabelValues(reason).Add(float64(n))
		m.records.Sub(float64(n))
	}
}
