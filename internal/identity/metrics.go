package identity

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for identity resolution. A nil
// *Metrics records nothing.
type Metrics struct {
	Resolutions      *prometheus.CounterVec
	Arbitrations     *prometheus.CounterVec
	StoreConflicts   prometheus.Counter
	ResolveDuration  prometheus.Histogram
	RejectedRequests prometheus.Counter
}

// NewMetrics creates the collectors under namespace and registers them with
// reg. A nil reg leaves them unregistered, which tests rely on.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identity_resolutions_total",
				Help:      "Identity resolutions by matching method",
			},
			[]string{"method"},
		),
		Arbitrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identity_arbitrations_total",
				Help:      "Arbitration outcomes (matched, no_match, fallback)",
			},
			[]string{"outcome"},
		),
		StoreConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identity_store_conflicts_total",
				Help:      "Uniqueness conflicts seen while writing identities",
			},
		),
		ResolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "identity_resolve_duration_seconds",
				Help:      "Identity resolution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		RejectedRequests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identity_rejected_requests_total",
				Help:      "Requests rejected for invalid or insufficient identifiers",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.Resolutions, m.Arbitrations, m.StoreConflicts, m.ResolveDuration, m.RejectedRequests)
	}
	return m
}

func (m *Metrics) resolved(method string, started time.Time) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(method).Inc()
	m.ResolveDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) arbitration(outcome string) {
	if m == nil {
		return
	}
	m.Arbitrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) conflict() {
	if m == nil {
		return
	}
	m.StoreConflicts.Inc()
}

func (m *Metrics) rejected() {
	if m == nil {
		return
	}
	m.RejectedRequests.Inc()
}
