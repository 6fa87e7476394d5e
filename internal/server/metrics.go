package server

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for the request counter, matching the worker's terminal
// branches in §4.4 of the spec.
const (
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeTimeout = "timeout"
	OutcomeTooLong = "too_long"
	OutcomeInvalid = "invalid"
)

// Metrics holds the Prometheus collectors this server exposes. They are
// registered against a private registry, never prometheus.DefaultRegisterer,
// so that more than one Server can exist in the same process — every
// integration test does exactly this — without a "duplicate metrics
// collector registration" panic.
type Metrics struct {
	registry       *prometheus.Registry
	requestOutcome *prometheus.CounterVec
	cacheOccupancy prometheus.Gauge
	queueDepth     prometheus.Gauge
}

func newMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "md5cached_requests_total",
			Help: "Requests handled by outcome.",
		}, []string{"outcome"}),
		cacheOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "md5cached_cache_occupancy",
			Help: "Current number of live entries in the digest cache.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "md5cached_queue_depth",
			Help: "Current number of connections awaiting a worker.",
		}),
	}
	m.registry.MustRegister(m.requestOutcome, m.cacheOccupancy, m.queueDepth)
	return m
}

// Registry exposes the private Prometheus registry for tests or an
// operator-wired scrape handler; this package itself never starts an
// HTTP server for it.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
