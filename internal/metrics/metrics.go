package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sync pipeline's prometheus instruments. A nil *Metrics
// is valid and records nothing, so tests and one-shot commands can skip
// registration.
type Metrics struct {
	SyncCyclesTotal            *prometheus.CounterVec
	SyncCycleDuration          prometheus.Histogram
	PairsUpdatedTotal          prometheus.Counter
	PairUpdateFailuresTotal    prometheus.Counter
	ChangeEventsPublishedTotal prometheus.Counter
	AlertsFiredTotal           prometheus.Counter
	ProviderRetriesTotal       prometheus.Counter
}

// New registers the pipeline metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		SyncCyclesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_cycles_total",
				Help: "Sync cycles by outcome",
			},
			[]string{"outcome"},
		),
		SyncCycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sync_cycle_duration_seconds",
				Help:    "Wall time of one sync cycle",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		),
		PairsUpdatedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pairs_updated_total",
				Help: "Currency pairs successfully written per cycle, accumulated",
			},
		),
		PairUpdateFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pair_update_failures_total",
				Help: "Per-pair store updates that failed",
			},
		),
		ChangeEventsPublishedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "change_events_published_total",
				Help: "Rate change events published to the change feed",
			},
		),
		AlertsFiredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "alerts_fired_total",
				Help: "Alert notifications produced by the evaluator",
			},
		),
		ProviderRetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "provider_retries_total",
				Help: "Retried requests against the exchange rate provider",
			},
		),
	}
}

// ObserveCycle records one finished sync cycle.
func (m *Metrics) ObserveCycle(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.SyncCyclesTotal.WithLabelValues(outcome).Inc()
	m.SyncCycleDuration.Observe(seconds)
}

// AddPairsUpdated accumulates successful pair writes.
func (m *Metrics) AddPairsUpdated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PairsUpdatedTotal.Add(float64(n))
}

// AddPairUpdateFailures accumulates failed pair writes.
func (m *Metrics) AddPairUpdateFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PairUpdateFailuresTotal.Add(float64(n))
}

// IncChangeEventPublished counts one published change event.
func (m *Metrics) IncChangeEventPublished() {
	if m == nil {
		return
	}
	m.ChangeEventsPublishedTotal.Inc()
}

// IncProviderRetry counts one retried provider request.
func (m *Metrics) IncProviderRetry() {
	if m == nil {
		return
	}
	m.ProviderRetriesTotal.Inc()
}

// IncAlertFired counts one produced notification.
func (m *Metrics) IncAlertFired() {
	if m == nil {
		return
	}
	m.AlertsFiredTotal.Inc()
}

// Handler exposes the default registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
