// Package metrics defines the Prometheus instruments for the approval
// daemon. A single Metrics value is shared by the registry and exposed over
// the admin HTTP module's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values for DecisionsTotal.
const (
	OutcomeAllow   = "allow"
	OutcomeDeny    = "deny"
	OutcomeExpired = "expired"
)

// Metrics holds the daemon's Prometheus collectors.
type Metrics struct {
	// RequestsTotal counts submitted requests by kind ("approval", "question").
	RequestsTotal *prometheus.CounterVec

	// DecisionsTotal counts terminal outcomes by result.
	DecisionsTotal *prometheus.CounterVec

	// DedupHitsTotal counts submissions collapsed into an existing request.
	DedupHitsTotal prometheus.Counter

	// CacheHitsTotal counts approvals granted from the session cache.
	CacheHitsTotal prometheus.Counter

	// PublishFailuresTotal counts failed prompt publishes (fail-closed denies).
	PublishFailuresTotal prometheus.Counter

	// Pending tracks the number of requests currently awaiting a decision.
	Pending prometheus.Gauge
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvd",
			Name:      "requests_total",
			Help:      "Decision requests submitted, by kind.",
		}, []string{"kind"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "approvd",
			Name:      "decisions_total",
			Help:      "Terminal decisions delivered, by outcome.",
		}, []string{"outcome"}),
		DedupHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "approvd",
			Name:      "dedup_hits_total",
			Help:      "Submissions attached to an already-pending identical request.",
		}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "approvd",
			Name:      "session_cache_hits_total",
			Help:      "Approvals auto-granted from the session approval cache.",
		}),
		PublishFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "approvd",
			Name:      "publish_failures_total",
			Help:      "Prompt publishes that failed and were denied fail-closed.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "approvd",
			Name:      "pending_requests",
			Help:      "Requests currently awaiting a human decision.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.DecisionsTotal,
		m.DedupHitsTotal,
		m.CacheHitsTotal,
		m.PublishFailuresTotal,
		m.Pending,
	)
	return m
}
