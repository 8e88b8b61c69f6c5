package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts cache traffic.
type Metrics struct {
	lookups       *prometheus.CounterVec
	puts          prometheus.Counter
	invalidations *prometheus.CounterVec
	swept         prometheus.Counter
	storeErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers the cache collectors. A nil registerer
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tourney",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by service and outcome.",
		}, []string{"service", "outcome"}),
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tourney",
			Subsystem: "cache",
			Name:      "puts_total",
			Help:      "Entries written to the cache.",
		}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tourney",
			Subsystem: "cache",
			Name:      "invalidated_entries_total",
			Help:      "Entries removed by invalidation, by origin.",
		}, []string{"origin"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tourney",
			Subsystem: "cache",
			Name:      "swept_entries_total",
			Help:      "Expired entries removed by sweeps.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tourney",
			Subsystem: "cache",
			Name:      "store_errors_total",
			Help:      "Store failures by operation.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.lookups, m.puts, m.invalidations, m.swept, m.storeErrors)
	}
	return m
}

func (m *Metrics) hit(service string) {
	if m != nil {
		m.lookups.WithLabelValues(service, "hit").Inc()
	}
}

func (m *Metrics) miss(service string) {
	if m != nil {
		m.lookups.WithLabelValues(service, "miss").Inc()
	}
}

func (m *Metrics) put() {
	if m != nil {
		m.puts.Inc()
	}
}

func (m *Metrics) invalidated(origin string, n int64) {
	if m != nil {
		m.invalidations.WithLabelValues(origin).Add(float64(n))
	}
}

func (m *Metrics) sweep(n int64) {
	if m != nil {
		m.swept.Add(float64(n))
	}
}

func (m *Metrics) storeError(op string) {
	if m != nil {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}
